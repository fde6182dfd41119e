package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-saga/internal/catalog"
	"github.com/ariefcatur/go-checkout-saga/internal/inventory"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
)

// CartLine is one line as the cart service reports it. Price is in lira and only informational.
type CartLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Cart is reached with the shopper's own token.
type Cart interface {
	Items(ctx context.Context, token string) ([]CartLine, error)
	Clear(ctx context.Context, token string) error
}

type Catalog interface {
	Product(ctx context.Context, id string) (catalog.Product, error)
}

type Inventory interface {
	BatchCheck(ctx context.Context, items []inventory.BatchItem) (inventory.BatchResult, error)
	Reserve(ctx context.Context, req inventory.Request) (inventory.Result, error)
	Release(ctx context.Context, req inventory.Request) (inventory.Result, error)
}

type Payments interface {
	Process(ctx context.Context, req payment.ProcessRequest) (payment.Payment, error)
}

// PaymentOutcome is the slice of the payment result returned to the shopper.
type PaymentOutcome struct {
	Status        string `json:"status,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	PaymentID     string `json:"paymentId,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}
