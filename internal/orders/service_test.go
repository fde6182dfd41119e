package orders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/catalog"
	"github.com/ariefcatur/go-checkout-saga/internal/inventory"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
)

type fakeCart struct {
	mu       sync.Mutex
	lines    []CartLine
	err      error
	clearErr error
	cleared  int
}

func (c *fakeCart) Items(context.Context, string) ([]CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CartLine(nil), c.lines...), c.err
}

func (c *fakeCart) Clear(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clearErr != nil {
		return c.clearErr
	}
	c.cleared++
	c.lines = nil
	return nil
}

type fakeCatalog map[string]catalog.Product

func (c fakeCatalog) Product(_ context.Context, id string) (catalog.Product, error) {
	p, ok := c[id]
	if !ok {
		return catalog.Product{}, apperr.NotFound("product " + id)
	}
	return p, nil
}

func lira(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// flakyInventory fails Reserve for one product and optionally every BatchCheck.
type flakyInventory struct {
	*inventory.Ledger
	failReserve string
	batchErr    error
}

func (f flakyInventory) Reserve(ctx context.Context, req inventory.Request) (inventory.Result, error) {
	if req.ProductID == f.failReserve {
		return inventory.Result{}, apperr.Upstream("inventory", errors.New("connection reset"))
	}
	return f.Ledger.Reserve(ctx, req)
}

func (f flakyInventory) BatchCheck(ctx context.Context, items []inventory.BatchItem) (inventory.BatchResult, error) {
	if f.batchErr != nil {
		return inventory.BatchResult{}, f.batchErr
	}
	return f.Ledger.BatchCheck(ctx, items)
}

// abortingInventory cancels the checkout request while reserving one product, the way a client
// disconnect does. That reserve lands but its reply is lost. Like the HTTP client, every call
// fails once its context is done.
type abortingInventory struct {
	*inventory.Ledger
	abortOn string
	cancel  context.CancelFunc
}

func (a abortingInventory) Reserve(ctx context.Context, req inventory.Request) (inventory.Result, error) {
	if err := ctx.Err(); err != nil {
		return inventory.Result{}, apperr.Upstream("inventory", err)
	}
	if req.ProductID == a.abortOn {
		_, _ = a.Ledger.Reserve(ctx, req)
		a.cancel()
		return inventory.Result{}, apperr.Upstream("inventory", context.Canceled)
	}
	return a.Ledger.Reserve(ctx, req)
}

func (a abortingInventory) Release(ctx context.Context, req inventory.Request) (inventory.Result, error) {
	if err := ctx.Err(); err != nil {
		return inventory.Result{}, apperr.Upstream("inventory", err)
	}
	return a.Ledger.Release(ctx, req)
}

type failingPayments struct{ err error }

func (f failingPayments) Process(context.Context, payment.ProcessRequest) (payment.Payment, error) {
	return payment.Payment{}, f.err
}

// stockCallbacks and orderCallbacks connect the payment simulator back to the ledger and the
// order service in process.
type stockCallbacks struct{ l *inventory.Ledger }

func (a stockCallbacks) Confirm(ctx context.Context, productID string, qty int, orderID, userID string) error {
	_, err := a.l.Confirm(ctx, inventory.Request{ProductID: productID, Quantity: qty, OrderID: orderID, UserID: userID})
	return err
}

func (a stockCallbacks) Release(ctx context.Context, productID string, qty int, orderID, userID, reason string) error {
	_, err := a.l.Release(ctx, inventory.Request{ProductID: productID, Quantity: qty, OrderID: orderID, UserID: userID, Reason: reason})
	return err
}

type orderCallbacks struct{ svc *Service }

func (a *orderCallbacks) UpdatePaymentStatus(ctx context.Context, orderID string, u payment.StatusUpdate) error {
	_, err := a.svc.ApplyPaymentStatus(ctx, orderID, PaymentUpdate{
		Status: Status(u.Status), TransactionID: u.TransactionID, PaymentID: u.PaymentID,
	})
	return err
}

type harness struct {
	svc     *Service
	store   *MemoryStore
	ledger  *inventory.Ledger
	sim     *payment.Simulator
	cart    *fakeCart
	catalog fakeCatalog
	cache   Cache
}

type harnessOpts struct {
	successRate int
	inventory   func(*inventory.Ledger) Inventory
	payments    Payments
	cache       Cache
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	ctx := context.Background()
	ledger := inventory.NewLedger(inventory.NewMemoryStore(), nil, nil)
	for id, qty := range map[string]int{"p1": 10, "p2": 5, "p3": 0} {
		_, err := ledger.Init(ctx, id, qty, "admin")
		require.NoError(t, err)
	}
	h := &harness{
		store:  NewMemoryStore(),
		ledger: ledger,
		cart: &fakeCart{lines: []CartLine{
			{ProductID: "p1", Name: "Kettle", Price: lira("900"), Quantity: 2},
			{ProductID: "p2", Name: "Mug", Price: lira("125.50"), Quantity: 1},
		}},
		catalog: fakeCatalog{
			"p1": {ID: "p1", Name: "Kettle", Price: lira("1000.00"), Stock: 10, Images: []string{"kettle.jpg"}},
			"p2": {ID: "p2", Name: "Mug", Price: lira("125.5"), Stock: 5},
			"p3": {ID: "p3", Name: "Plate", Price: lira("50"), Stock: 0},
		},
		cache: o.cache,
	}
	var inv Inventory = ledger
	if o.inventory != nil {
		inv = o.inventory(ledger)
	}
	cb := &orderCallbacks{}
	h.sim = payment.NewSimulator(payment.NewMemoryStore(), stockCallbacks{ledger}, cb,
		payment.Config{SuccessRate: o.successRate})
	var pay Payments = h.sim
	if o.payments != nil {
		pay = o.payments
	}
	h.svc = NewService(Deps{
		Store:     h.store,
		Cache:     o.cache,
		Cart:      h.cart,
		Catalog:   h.catalog,
		Inventory: inv,
		Payments:  pay,
	})
	cb.svc = h.svc
	return h
}

func (h *harness) stock(t *testing.T, productID string) inventory.StockView {
	t.Helper()
	v, err := h.ledger.Get(context.Background(), productID)
	require.NoError(t, err)
	return v
}

func (h *harness) orderCount(t *testing.T) int {
	t.Helper()
	_, total, err := h.store.List(context.Background(), ListFilter{Page: 1, Limit: 100})
	require.NoError(t, err)
	return total
}

func checkoutReq() CheckoutRequest {
	return CheckoutRequest{UserID: "u1", Token: "tok", ShippingAddress: "Moda Cd. 1, Istanbul"}
}

func TestCheckoutPaidOrderUsesCatalogPrices(t *testing.T) {
	h := newHarness(t, harnessOpts{successRate: 100})
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, checkoutReq())
	require.NoError(t, err)
	h.sim.Wait()

	assert.Equal(t, int64(2*100000+12550), res.Order.TotalPrice)
	assert.Equal(t, "SUCCESS", res.Payment.Status)
	assert.True(t, strings.HasPrefix(res.Payment.TransactionID, "TXN-"))
	assert.True(t, res.CartCleared)
	assert.Empty(t, res.PaymentError)

	o, err := h.svc.Get(ctx, Actor{UserID: "u1"}, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, res.Payment.TransactionID, o.PaymentTransactionID)
	assert.Equal(t, "₺2.125,50", o.FormattedTotal)
	require.Len(t, o.Items, 2)
	assert.Equal(t, int64(100000), o.Items[0].Price)
	assert.Equal(t, int64(200000), o.Items[0].Subtotal)
	assert.Equal(t, "kettle.jpg", o.Items[0].ProductImage)
	require.Len(t, o.History, 2)
	assert.Equal(t, StatusPendingPayment, o.History[0].NewStatus)
	assert.Equal(t, StatusPaid, o.History[1].NewStatus)

	p1 := h.stock(t, "p1")
	assert.Equal(t, 8, p1.Quantity)
	assert.Equal(t, 0, p1.Reserved)
	p2 := h.stock(t, "p2")
	assert.Equal(t, 4, p2.Quantity)
	assert.Equal(t, 0, p2.Reserved)
}

func TestCheckoutDeclinedPaymentReleasesStock(t *testing.T) {
	h := newHarness(t, harnessOpts{successRate: 0})
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, checkoutReq())
	require.NoError(t, err)
	h.sim.Wait()

	assert.Equal(t, "FAILED", res.Payment.Status)
	assert.True(t, res.CartCleared)

	o, err := h.store.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentFailed, o.Status)

	for _, id := range []string{"p1", "p2"} {
		v := h.stock(t, id)
		assert.Equal(t, 0, v.Reserved, id)
	}
	assert.Equal(t, 10, h.stock(t, "p1").Quantity)
}

func TestCheckoutRejections(t *testing.T) {
	cases := []struct {
		name  string
		lines []CartLine
		want  error
	}{
		{name: "empty cart", lines: nil, want: apperr.ErrEmptyCart},
		{name: "unknown product", lines: []CartLine{{ProductID: "nope", Quantity: 1}}, want: apperr.ErrProductNotFound},
		{name: "catalog stock", lines: []CartLine{{ProductID: "p3", Quantity: 1}}, want: apperr.ErrInsufficientStock},
		{name: "inventory stock", lines: []CartLine{{ProductID: "p2", Quantity: 5}, {ProductID: "p1", Quantity: 11}}, want: apperr.ErrInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOpts{successRate: 100})
			h.catalog["p1"] = catalog.Product{ID: "p1", Name: "Kettle", Price: lira("1000"), Stock: 50}
			h.cart.lines = tc.lines

			_, err := h.svc.Checkout(context.Background(), checkoutReq())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, h.orderCount(t))
			assert.Zero(t, h.cart.cleared)
			assert.Equal(t, 0, h.stock(t, "p1").Reserved)
			assert.Equal(t, 0, h.stock(t, "p2").Reserved)
		})
	}
}

func TestCheckoutCartUnavailable(t *testing.T) {
	h := newHarness(t, harnessOpts{successRate: 100})
	h.cart.err = apperr.Upstream("cart", errors.New("dial tcp: refused"))

	_, err := h.svc.Checkout(context.Background(), checkoutReq())
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
	assert.Zero(t, h.orderCount(t))
}

func TestCheckoutCompensatesReservedLines(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := NewRedisCache(rdb)

	h := newHarness(t, harnessOpts{
		successRate: 100,
		cache:       cache,
		inventory: func(l *inventory.Ledger) Inventory {
			return flakyInventory{Ledger: l, failReserve: "p2"}
		},
	})
	ctx := context.Background()

	_, err := h.svc.Checkout(ctx, checkoutReq())
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
	assert.Zero(t, h.orderCount(t))
	assert.Zero(t, h.cart.cleared)

	p1 := h.stock(t, "p1")
	assert.Equal(t, 10, p1.Quantity)
	assert.Equal(t, 0, p1.Reserved)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	orderID := strings.TrimPrefix(keys[0], "saga:")
	saga, err := h.svc.Saga(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, StepCompensate, saga.Step)
	require.Len(t, saga.Lines, 2)
	assert.Equal(t, LineReleased, saga.Lines[0].Outcome)
	assert.Equal(t, LineFailed, saga.Lines[1].Outcome)
	assert.NotEmpty(t, saga.Lines[1].Error)
}

func TestAbortedCheckoutReturnsAllReservedStock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, harnessOpts{
		successRate: 100,
		inventory: func(l *inventory.Ledger) Inventory {
			return abortingInventory{Ledger: l, abortOn: "p2", cancel: cancel}
		},
	})

	_, err := h.svc.Checkout(ctx, checkoutReq())
	require.Error(t, err)
	assert.Zero(t, h.orderCount(t))
	assert.Zero(t, h.cart.cleared)

	p1 := h.stock(t, "p1")
	assert.Equal(t, 10, p1.Quantity)
	assert.Equal(t, 0, p1.Reserved)
	p2 := h.stock(t, "p2")
	assert.Equal(t, 5, p2.Quantity)
	assert.Equal(t, 0, p2.Reserved)
}

func TestCheckoutSurvivesBestEffortFailures(t *testing.T) {
	h := newHarness(t, harnessOpts{
		successRate: 100,
		inventory: func(l *inventory.Ledger) Inventory {
			return flakyInventory{Ledger: l, batchErr: errors.New("timeout")}
		},
	})
	h.cart.clearErr = apperr.Upstream("cart", errors.New("timeout"))

	res, err := h.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)
	h.sim.Wait()
	assert.False(t, res.CartCleared)
	assert.Equal(t, 1, h.orderCount(t))
}

func TestCheckoutPaymentTransportFailureLeavesOrderPending(t *testing.T) {
	h := newHarness(t, harnessOpts{
		payments: failingPayments{err: apperr.Upstream("payment", context.DeadlineExceeded)},
	})
	ctx := context.Background()

	res, err := h.svc.Checkout(ctx, checkoutReq())
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, res.Order.Status)
	assert.Contains(t, res.PaymentError, "payment unavailable")
	assert.True(t, res.CartCleared)
	assert.Equal(t, 2, h.stock(t, "p1").Reserved)
}

func TestCheckoutMergesRepeatedLines(t *testing.T) {
	h := newHarness(t, harnessOpts{successRate: 100})
	h.cart.lines = []CartLine{
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 2},
	}
	res, err := h.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)
	h.sim.Wait()

	require.Len(t, res.Order.Items, 2)
	assert.Equal(t, "p2", res.Order.Items[0].ProductID)
	assert.Equal(t, 3, res.Order.Items[0].Quantity)
	assert.Equal(t, 2, h.stock(t, "p2").Quantity)
}

func TestCheckoutIdempotencyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := newHarness(t, harnessOpts{successRate: 100, cache: NewRedisCache(rdb)})
	ctx := context.Background()

	req := checkoutReq()
	req.IdempotencyKey = "k-1"
	first, err := h.svc.Checkout(ctx, req)
	require.NoError(t, err)
	h.sim.Wait()

	second, err := h.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, h.orderCount(t))
	assert.True(t, mr.Exists(redisx.IdemOrderCreate("u1", "k-1")))
}

func placeOrder(t *testing.T, h *harness) Order {
	t.Helper()
	res, err := h.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)
	h.sim.Wait()
	return res.Order
}

func TestUpdateStatusRules(t *testing.T) {
	h := newHarness(t, harnessOpts{payments: failingPayments{err: errors.New("down")}})
	ctx := context.Background()
	o := placeOrder(t, h)
	admin := Actor{UserID: "admin-1", Admin: true}

	_, err := h.svc.UpdateStatus(ctx, admin, o.ID, StatusPendingPayment, "")
	assert.ErrorIs(t, err, apperr.ErrNoStatusChange)

	_, err = h.svc.UpdateStatus(ctx, admin, o.ID, "LOST", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = h.svc.UpdateStatus(ctx, Actor{UserID: "u1"}, o.ID, StatusShipped, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	updated, err := h.svc.UpdateStatus(ctx, Actor{UserID: "seller-1", Seller: true}, o.ID, StatusProcessing, "packed")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, updated.Status)
	assert.Equal(t, 2, updated.Version)

	got, err := h.svc.Get(ctx, admin, o.ID)
	require.NoError(t, err)
	last := got.History[len(got.History)-1]
	assert.Equal(t, StatusPendingPayment, last.OldStatus)
	assert.Equal(t, "seller-1", last.ChangedBy)
	assert.Equal(t, "packed", last.Notes)
}

func TestCancelRules(t *testing.T) {
	ctx := context.Background()
	owner := Actor{UserID: "u1"}
	admin := Actor{UserID: "admin-1", Admin: true}

	t.Run("owner while pending", func(t *testing.T) {
		h := newHarness(t, harnessOpts{payments: failingPayments{err: errors.New("down")}})
		o := placeOrder(t, h)
		got, err := h.svc.Cancel(ctx, owner, o.ID, "")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)

		_, err = h.svc.Cancel(ctx, admin, o.ID, "")
		assert.ErrorIs(t, err, apperr.ErrNoStatusChange)
	})
	t.Run("owner after payment", func(t *testing.T) {
		h := newHarness(t, harnessOpts{successRate: 100})
		o := placeOrder(t, h)
		_, err := h.svc.Cancel(ctx, owner, o.ID, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

		got, err := h.svc.Cancel(ctx, admin, o.ID, "fraud check")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
	})
	t.Run("admin from any status", func(t *testing.T) {
		h := newHarness(t, harnessOpts{successRate: 100})
		for _, st := range []Status{StatusProcessing, StatusShipped, StatusDelivered, StatusRefunded} {
			h.cart.lines = []CartLine{{ProductID: "p1", Quantity: 1}}
			o := placeOrder(t, h)
			_, err := h.svc.UpdateStatus(ctx, admin, o.ID, st, "")
			require.NoError(t, err)

			got, err := h.svc.Cancel(ctx, admin, o.ID, "")
			require.NoError(t, err, st)
			assert.Equal(t, StatusCancelled, got.Status)
			assert.Equal(t, st, got.History[len(got.History)-1].OldStatus)
		}
	})
	t.Run("admin after failed payment", func(t *testing.T) {
		h := newHarness(t, harnessOpts{successRate: 0})
		o := placeOrder(t, h)
		got, err := h.svc.Cancel(ctx, admin, o.ID, "")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)

		h2 := newHarness(t, harnessOpts{successRate: 0})
		o2 := placeOrder(t, h2)
		_, err = h2.svc.Cancel(ctx, owner, o2.ID, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})
	t.Run("someone else", func(t *testing.T) {
		h := newHarness(t, harnessOpts{payments: failingPayments{err: errors.New("down")}})
		o := placeOrder(t, h)
		_, err := h.svc.Cancel(ctx, Actor{UserID: "u2"}, o.ID, "")
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})
}

func TestLatePaymentAfterCancelIsRecordedNotApplied(t *testing.T) {
	h := newHarness(t, harnessOpts{payments: failingPayments{err: errors.New("down")}})
	ctx := context.Background()
	o := placeOrder(t, h)

	_, err := h.svc.Cancel(ctx, Actor{UserID: "u1"}, o.ID, "")
	require.NoError(t, err)

	res, err := h.svc.ApplyPaymentStatus(ctx, o.ID, PaymentUpdate{Status: StatusPaid, TransactionID: "TXN-1", PaymentID: "pay-1"})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, StatusCancelled, res.Order.Status)

	got, err := h.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	last := got.History[len(got.History)-1]
	assert.Equal(t, ChangedByPayment, last.ChangedBy)
	assert.Contains(t, last.Notes, "ignored payment status PAID")
}

func TestRepeatedPaymentStatusIsDuplicate(t *testing.T) {
	h := newHarness(t, harnessOpts{successRate: 100})
	ctx := context.Background()
	o := placeOrder(t, h)

	before, err := h.store.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, before.Status)

	res, err := h.svc.ApplyPaymentStatus(ctx, o.ID, PaymentUpdate{Status: StatusPaid})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Applied)
	assert.Equal(t, before.Version, res.Order.Version)

	_, err = h.svc.ApplyPaymentStatus(ctx, o.ID, PaymentUpdate{Status: StatusShipped})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	refunded, err := h.svc.ApplyPaymentStatus(ctx, o.ID, PaymentUpdate{Status: StatusRefunded})
	require.NoError(t, err)
	assert.True(t, refunded.Applied)
	assert.Equal(t, StatusRefunded, refunded.Order.Status)
}

func TestStatusWritesAreVersionFenced(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	o, err := store.Create(ctx, Order{ID: "o1", UserID: "u1", Status: StatusPendingPayment, TotalPrice: 100})
	require.NoError(t, err)

	_, err = store.UpdateStatus(ctx, StatusChange{OrderID: "o1", From: o.Status, To: StatusPaid, ExpectedVersion: o.Version})
	require.NoError(t, err)

	_, err = store.UpdateStatus(ctx, StatusChange{OrderID: "o1", From: o.Status, To: StatusCancelled, ExpectedVersion: o.Version})
	assert.ErrorIs(t, err, apperr.ErrVersionConflict)

	got, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestStatusCacheIsInvalidatedOnWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := newHarness(t, harnessOpts{payments: failingPayments{err: errors.New("down")}, cache: NewRedisCache(rdb)})
	ctx := context.Background()
	o := placeOrder(t, h)
	owner := Actor{UserID: "u1"}

	v, err := h.svc.Status(ctx, owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, v.Status)
	assert.True(t, mr.Exists(redisx.OrderStatus(o.ID)))

	_, err = h.svc.Status(ctx, Actor{UserID: "u2"}, o.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.svc.Cancel(ctx, owner, o.ID, "")
	require.NoError(t, err)
	assert.False(t, mr.Exists(redisx.OrderStatus(o.ID)))

	v, err = h.svc.Status(ctx, owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, v.Status)
}

func TestListScopesAndPages(t *testing.T) {
	h := newHarness(t, harnessOpts{payments: failingPayments{err: errors.New("down")}})
	ctx := context.Background()
	for range 3 {
		h.cart.lines = []CartLine{{ProductID: "p1", Quantity: 1}}
		placeOrder(t, h)
	}
	h.cart.lines = []CartLine{{ProductID: "p1", Quantity: 1}}
	req := checkoutReq()
	req.UserID = "u2"
	_, err := h.svc.Checkout(ctx, req)
	require.NoError(t, err)

	page, err := h.svc.List(ctx, Actor{UserID: "u1"}, ListFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Pages)
	assert.Len(t, page.Items, 2)

	all, err := h.svc.ListAll(ctx, Actor{UserID: "admin-1", Admin: true}, ListFilter{Status: StatusPendingPayment})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)

	_, err = h.svc.ListAll(ctx, Actor{UserID: "u1"}, ListFilter{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.svc.List(ctx, Actor{UserID: "u1"}, ListFilter{Status: "LOST"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
