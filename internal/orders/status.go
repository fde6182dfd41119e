package orders

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusProcessing     Status = "PROCESSING"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
	StatusRefunded       Status = "REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPaid: true, StatusCancelled: true, StatusPaymentFailed: true},
	StatusPaid:           {StatusProcessing: true, StatusRefunded: true},
	StatusProcessing:     {StatusShipped: true},
	StatusShipped:        {StatusDelivered: true},
	StatusPaymentFailed:  {},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusRefunded:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports a status with no outgoing transitions. Admin cancel is an override and
// does not consult it.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0 && s.Valid()
}

// paymentStatuses are the targets the payment service may report.
var paymentStatuses = map[Status]bool{
	StatusPaid:          true,
	StatusPaymentFailed: true,
	StatusRefunded:      true,
}
