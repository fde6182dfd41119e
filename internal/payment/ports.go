package payment

import (
	"context"
	"time"
)

// Inventory receives the stock side of a payment outcome.
type Inventory interface {
	Confirm(ctx context.Context, productID string, quantity int, orderID, userID string) error
	Release(ctx context.Context, productID string, quantity int, orderID, userID, reason string) error
}

// Orders receives payment status changes.
type Orders interface {
	UpdatePaymentStatus(ctx context.Context, orderID string, u StatusUpdate) error
}

type Store interface {
	Create(ctx context.Context, p Payment) error
	// Get looks a payment up by id or by transaction id.
	Get(ctx context.Context, idOrTransactionID string) (Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	MarkCallbackSent(ctx context.Context, paymentID string, target CallbackTarget) error
	// Refund locks the payment, lets decide build the refund from the locked row, then inserts
	// the refund and marks the payment REFUNDED in the same transaction.
	Refund(ctx context.Context, paymentID string, decide func(Payment) (Refund, error)) (Payment, Refund, error)
	PendingCallbacks(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error)
}
