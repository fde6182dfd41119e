package svcclient

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-checkout-saga/internal/inventory"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
)

type Inventory struct{ c *Client }

func NewInventory(baseURL, serviceKey string, opts ...Option) *Inventory {
	return &Inventory{c: New("inventory", baseURL, serviceKey, opts...)}
}

func (i *Inventory) mutate(ctx context.Context, op string, req inventory.Request) (inventory.Result, error) {
	var res inventory.Result
	err := i.c.do(ctx, call{
		name:   "inventory." + op,
		method: http.MethodPost,
		path:   "/inventory/" + op,
		body:   req,
		out:    &res,
		// Keyed by (orderId, productId), so a repeat is a no-op on the ledger.
		retry: req.OrderID != "",
	})
	return res, err
}

func (i *Inventory) Reserve(ctx context.Context, req inventory.Request) (inventory.Result, error) {
	return i.mutate(ctx, "reserve", req)
}

func (i *Inventory) Confirm(ctx context.Context, req inventory.Request) (inventory.Result, error) {
	return i.mutate(ctx, "confirm", req)
}

func (i *Inventory) Release(ctx context.Context, req inventory.Request) (inventory.Result, error) {
	return i.mutate(ctx, "release", req)
}

func (i *Inventory) BatchCheck(ctx context.Context, items []inventory.BatchItem) (inventory.BatchResult, error) {
	var res inventory.BatchResult
	err := i.c.do(ctx, call{
		name:   "inventory.batch_check",
		method: http.MethodPost,
		path:   "/inventory/batch/check",
		body:   map[string]any{"items": items},
		out:    &res,
		retry:  true,
	})
	return res, err
}

// ForPayments adapts the client to the callbacks the payment simulator makes.
func (i *Inventory) ForPayments() payment.Inventory { return paymentInventory{i} }

type paymentInventory struct{ i *Inventory }

func (p paymentInventory) Confirm(ctx context.Context, productID string, qty int, orderID, userID string) error {
	_, err := p.i.Confirm(ctx, inventory.Request{ProductID: productID, Quantity: qty, OrderID: orderID, UserID: userID})
	return err
}

func (p paymentInventory) Release(ctx context.Context, productID string, qty int, orderID, userID, reason string) error {
	_, err := p.i.Release(ctx, inventory.Request{ProductID: productID, Quantity: qty, OrderID: orderID, UserID: userID, Reason: reason})
	return err
}
