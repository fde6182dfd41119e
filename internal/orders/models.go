package orders

import "time"

// Money fields are minor currency units (kuruş).
type Order struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"userId"`
	TotalPrice           int64          `json:"totalPrice"`
	FormattedTotal       string         `json:"formattedTotal"`
	Status               Status         `json:"status"`
	ShippingAddress      string         `json:"shippingAddress"`
	BillingAddress       string         `json:"billingAddress"`
	Notes                string         `json:"notes"`
	PaymentTransactionID string         `json:"paymentTransactionId,omitempty"`
	Version              int            `json:"version"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
	Items                []Item         `json:"items,omitempty"`
	History              []HistoryEntry `json:"statusHistory,omitempty"`
}

// Item is a snapshot taken at checkout, never a live catalog reference.
type Item struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	ProductImage string `json:"productImage,omitempty"`
	Price        int64  `json:"price"`
	Quantity     int    `json:"quantity"`
	Subtotal     int64  `json:"subtotal"`
}

type HistoryEntry struct {
	OldStatus Status    `json:"oldStatus,omitempty"`
	NewStatus Status    `json:"newStatus"`
	ChangedBy string    `json:"changedBy"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
}

// StatusChange is a version-fenced status write.
type StatusChange struct {
	OrderID         string
	From            Status
	To              Status
	ExpectedVersion int
	ChangedBy       string
	Notes           string
	// PaymentTransactionID is stored when non-empty.
	PaymentTransactionID string
}

type ListFilter struct {
	UserID string
	Status Status
	Page   int
	Limit  int
}

type OrderPage struct {
	Items []Order `json:"items"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
	Total int     `json:"total"`
	Pages int     `json:"pages"`
}

// Actor is whoever asks for a read or a change.
type Actor struct {
	UserID string
	Admin  bool
	Seller bool
}

type CheckoutRequest struct {
	UserID          string
	Token           string
	IdempotencyKey  string
	ShippingAddress string
	BillingAddress  string
	Notes           string
	CardLastFour    string
}

type CheckoutResult struct {
	Order        Order          `json:"order"`
	Payment      PaymentOutcome `json:"payment"`
	PaymentError string         `json:"paymentError,omitempty"`
	Idempotent   bool           `json:"idempotent,omitempty"`
	CartCleared  bool           `json:"cartCleared"`
}

type PaymentUpdate struct {
	Status        Status `json:"status"`
	TransactionID string `json:"transactionId"`
	PaymentID     string `json:"paymentId"`
}

type PaymentUpdateResult struct {
	Order   Order `json:"order"`
	Applied bool  `json:"applied"`
	// Duplicate means the order already had the reported status.
	Duplicate bool `json:"duplicate,omitempty"`
}

// StatusView is the cached projection served by the status endpoint.
type StatusView struct {
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}
