package payment

import "time"

type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRefunded Status = "REFUNDED"
)

// Order statuses this component reports back to the order service.
const (
	OrderPaid          = "PAID"
	OrderPaymentFailed = "PAYMENT_FAILED"
	OrderRefunded      = "REFUNDED"
)

const DefaultCurrency = "TRY"

type Item struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// Payment amounts are minor currency units.
type Payment struct {
	ID                    string    `json:"id"`
	TransactionID         string    `json:"transactionId"`
	OrderID               string    `json:"orderId"`
	UserID                string    `json:"userId"`
	Amount                int64     `json:"amount"`
	Currency              string    `json:"currency"`
	Status                Status    `json:"status"`
	CardLastFour          string    `json:"cardLastFour,omitempty"`
	ErrorCode             string    `json:"errorCode,omitempty"`
	ErrorMessage          string    `json:"errorMessage,omitempty"`
	Items                 []Item    `json:"items"`
	InventoryCallbackSent bool      `json:"inventoryCallbackSent"`
	OrderCallbackSent     bool      `json:"orderCallbackSent"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

func (p Payment) CallbacksPending() bool { return !p.InventoryCallbackSent || !p.OrderCallbackSent }

// orderStatus is what the order service is told about this payment's original outcome.
func (p Payment) orderStatus() string {
	if p.Status == StatusFailed {
		return OrderPaymentFailed
	}
	return OrderPaid
}

type Refund struct {
	ID                  string    `json:"id"`
	PaymentID           string    `json:"paymentId"`
	RefundTransactionID string    `json:"refundTransactionId"`
	Amount              int64     `json:"amount"`
	Status              string    `json:"status"`
	Reason              string    `json:"reason"`
	CreatedAt           time.Time `json:"createdAt"`
}

type ProcessRequest struct {
	OrderID      string `json:"orderId"`
	TotalAmount  int64  `json:"totalAmount"`
	UserID       string `json:"userId"`
	Items        []Item `json:"items"`
	CardLastFour string `json:"cardLastFour,omitempty"`
}

type RefundRequest struct {
	PaymentID string `json:"paymentId"`
	// Amount defaults to the full payment amount when nil.
	Amount *int64 `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// StatusUpdate is the body of the order payment-status callback.
type StatusUpdate struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	PaymentID     string `json:"paymentId"`
}

type CallbackTarget string

const (
	TargetInventory CallbackTarget = "inventory"
	TargetOrder     CallbackTarget = "order"
)
