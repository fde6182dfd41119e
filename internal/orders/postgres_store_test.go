package orders

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
)

// newPostgresStore runs against the database in TEST_POSTGRES_DSN.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, postgres.MigrateUp(dsn, "orders"))
	db, err := postgres.Connect(context.Background(), dsn, "orders-test", 4)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return NewPostgresStore(db)
}

func TestPostgresStatusWritesAreVersionFenced(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	id, user := uuid.NewString(), "u-"+uuid.NewString()

	o, err := store.Create(ctx, Order{
		ID: id, UserID: user, Status: StatusPendingPayment, TotalPrice: 212550, ShippingAddress: "Moda Cd. 1",
		Items: []Item{
			{ProductID: "p1", ProductName: "Kettle", Price: 100000, Quantity: 2, Subtotal: 200000},
			{ProductID: "p2", ProductName: "Mug", Price: 12550, Quantity: 1, Subtotal: 12550},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, o.Version)

	paid, err := store.UpdateStatus(ctx, StatusChange{
		OrderID: id, From: o.Status, To: StatusPaid, ExpectedVersion: o.Version,
		ChangedBy: ChangedByPayment, PaymentTransactionID: "TXN-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, paid.Version)
	assert.Equal(t, "TXN-1", paid.PaymentTransactionID)

	// A cancel decided on the stale read loses.
	_, err = store.UpdateStatus(ctx, StatusChange{OrderID: id, From: o.Status, To: StatusCancelled, ExpectedVersion: o.Version})
	assert.ErrorIs(t, err, apperr.ErrVersionConflict)

	_, err = store.UpdateStatus(ctx, StatusChange{OrderID: uuid.NewString(), From: o.Status, To: StatusPaid, ExpectedVersion: 1})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	require.NoError(t, store.AppendHistory(ctx, id, HistoryEntry{
		OldStatus: StatusPaid, NewStatus: StatusPaid, ChangedBy: ChangedByPayment, Notes: "ignored payment status PAYMENT_FAILED",
	}))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, int64(212550), got.TotalPrice)
	require.Len(t, got.Items, 2)
	require.Len(t, got.History, 3)
	assert.Equal(t, StatusPendingPayment, got.History[1].OldStatus)
	assert.Equal(t, "ignored payment status PAYMENT_FAILED", got.History[2].Notes)

	page, total, err := store.List(ctx, ListFilter{UserID: user, Status: StatusPaid, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Len(t, page[0].Items, 2)
}
