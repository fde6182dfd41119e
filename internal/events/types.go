package events

const (
	TopicInventoryStock   = "inventory.stock"
	TopicOrderLifecycle   = "order.lifecycle"
	TopicPaymentProcessed = "payment.processed"
)

const (
	EventStockInitialized   = "StockInitialized"
	EventStockReserved      = "StockReserved"
	EventStockConfirmed     = "StockConfirmed"
	EventStockReleased      = "StockReleased"
	EventStockAdjusted      = "StockAdjusted"
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentProcessed   = "PaymentProcessed"
	EventPaymentRefunded    = "PaymentRefunded"
)

type StockChangedPayload struct {
	ProductID      string `json:"product_id"`
	OrderID        string `json:"order_id,omitempty"`
	Type           string `json:"type"`
	QuantityChange int    `json:"quantity_change"`
	Quantity       int    `json:"quantity"`
	Reserved       int    `json:"reserved"`
}

type ItemPrice struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	Price     int64  `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID    string      `json:"order_id"`
	UserID     string      `json:"user_id"`
	Items      []ItemPrice `json:"items"`
	TotalPrice int64       `json:"total_price"`
}

type OrderStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	ChangedBy string `json:"changed_by"`
	Version   int    `json:"version"`
}

type PaymentProcessedPayload struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
}

type PaymentRefundedPayload struct {
	PaymentID           string `json:"payment_id"`
	RefundTransactionID string `json:"refund_transaction_id"`
	OrderID             string `json:"order_id"`
	Amount              int64  `json:"amount"`
}

// PartitionKey keeps every event of one entity on one partition.
func PartitionKey(id string) []byte { return []byte(id) }
