package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/events"
	"github.com/ariefcatur/go-checkout-saga/internal/inventory"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/money"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
	"github.com/ariefcatur/go-checkout-saga/internal/telemetry"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

const (
	catalogParallelism   = 4
	defaultPageLimit     = 10
	defaultAdminLimit    = 20
	maxPageLimit         = 100
	paymentUpdateRetries = 3

	// ChangedByPayment is recorded in history for callback-driven writes.
	ChangedByPayment = "payment-service"
)

type Deps struct {
	Store     Store
	Cache     Cache
	Cart      Cart
	Catalog   Catalog
	Inventory Inventory
	Payments  Payments
	Metrics   *metrics.Metrics
	Events    *events.Emitter
}

// Service orchestrates checkout and owns every order status write.
type Service struct {
	store   Store
	cache   Cache
	cart    Cart
	catalog Catalog
	inv     Inventory
	pay     Payments
	metrics *metrics.Metrics
	events  *events.Emitter
	tracer  trace.Tracer
}

func NewService(d Deps) *Service {
	if d.Cache == nil {
		d.Cache = NopCache{}
	}
	return &Service{
		store:   d.Store,
		cache:   d.Cache,
		cart:    d.Cart,
		catalog: d.Catalog,
		inv:     d.Inventory,
		pay:     d.Payments,
		metrics: d.Metrics,
		events:  d.Events,
		tracer:  telemetry.Tracer("orders"),
	}
}

// Checkout turns the caller's cart into an order: validate, reserve, persist, charge, clear.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (res CheckoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.checkout", trace.WithAttributes(attribute.String("user.id", req.UserID)))
	start := time.Now()
	defer func() {
		s.metrics.ObserveUseCase("orders.checkout", apperr.Outcome(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.CodeOf(err))
		}
		span.End()
	}()
	log := logging.FromContext(ctx).With(zap.String("user_id", req.UserID))

	if req.UserID == "" {
		return CheckoutResult{}, apperr.ErrUnauthorized
	}
	if req.IdempotencyKey != "" {
		if prev, ok := s.replay(ctx, req); ok {
			return prev, nil
		}
	}

	lines, err := s.cart.Items(ctx, req.Token)
	if err != nil {
		return CheckoutResult{}, err
	}
	lines, err = mergeLines(lines)
	if err != nil {
		return CheckoutResult{}, err
	}
	if len(lines) == 0 {
		return CheckoutResult{}, apperr.ErrEmptyCart
	}

	items, total, err := s.price(ctx, lines)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := s.preflight(ctx, items); err != nil {
		return CheckoutResult{}, err
	}

	orderID := uuid.NewString()
	span.SetAttributes(attribute.String("order.id", orderID))
	log = log.With(zap.String("order_id", orderID))
	ctx = logging.ContextWithLogger(ctx, log)

	saga := newSaga(orderID, items)
	if err := s.reserve(ctx, saga, req.UserID); err != nil {
		return CheckoutResult{}, err
	}

	order, err := s.store.Create(ctx, Order{
		ID:              orderID,
		UserID:          req.UserID,
		TotalPrice:      total,
		Status:          StatusPendingPayment,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
		Items:           items,
	})
	if err != nil {
		log.Error("persist order failed, releasing reservations", zap.Error(err))
		s.compensate(ctx, saga, req.UserID, "order could not be stored")
		if _, ok := apperr.As(err); !ok || apperr.KindOf(err) != apperr.KindInternal {
			err = apperr.Internal("create order", err)
		}
		return CheckoutResult{}, err
	}
	s.events.Emit(ctx, events.EventOrderCreated, orderID, orderID, createdPayload(order))
	log.Info("order created", zap.Int64("total", total), zap.Int("items", len(items)))

	res = CheckoutResult{Order: order}
	if req.IdempotencyKey != "" {
		if err := s.cache.RememberOrder(ctx, req.UserID, req.IdempotencyKey, orderID); err != nil {
			log.Warn("store idempotency key", zap.Error(err))
		}
	}

	// From here the payment callback owns the snapshot.
	saga.step(StepPayment)
	s.saveSaga(ctx, saga)
	res.Payment, res.PaymentError = s.charge(ctx, order, req)

	if err := s.cart.Clear(ctx, req.Token); err != nil {
		log.Warn("clear cart failed", zap.Error(err))
	} else {
		res.CartCleared = true
	}

	// The payment callback may already have moved the order on.
	if fresh, err := s.store.Get(ctx, orderID); err == nil {
		res.Order = fresh
	}
	res.Order.FormattedTotal = money.Format(res.Order.TotalPrice)
	return res, nil
}

func (s *Service) replay(ctx context.Context, req CheckoutRequest) (CheckoutResult, bool) {
	log := logging.FromContext(ctx)
	id, ok, err := s.cache.IdempotentOrder(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		log.Warn("idempotency lookup failed", zap.Error(err))
		return CheckoutResult{}, false
	}
	if !ok {
		return CheckoutResult{}, false
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		log.Warn("idempotent order missing", zap.String("order_id", id), zap.Error(err))
		return CheckoutResult{}, false
	}
	o.FormattedTotal = money.Format(o.TotalPrice)
	log.Info("checkout replayed", zap.String("order_id", id))
	return CheckoutResult{
		Order:      o,
		Payment:    PaymentOutcome{TransactionID: o.PaymentTransactionID},
		Idempotent: true,
	}, true
}

// mergeLines folds repeated products into the first occurrence, keeping cart order.
func mergeLines(lines []CartLine) ([]CartLine, error) {
	out := make([]CartLine, 0, len(lines))
	index := map[string]int{}
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, apperr.Validation("cart line has no productId")
		}
		if l.Quantity <= 0 {
			return nil, apperr.Validation(fmt.Sprintf("invalid quantity %d for product %s", l.Quantity, l.ProductID))
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}

// price checks every line against the catalog and snapshots the catalog price. The cart
// price is never trusted.
func (s *Service) price(ctx context.Context, lines []CartLine) ([]Item, int64, error) {
	items := make([]Item, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogParallelism)
	for i, l := range lines {
		g.Go(func() error {
			p, err := s.catalog.Product(gctx, l.ProductID)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindNotFound {
					return apperr.WithMessage(apperr.ErrProductNotFound, "product not found: "+l.ProductID)
				}
				return err
			}
			if p.Stock < l.Quantity {
				return apperr.WithMessage(apperr.ErrInsufficientStock,
					fmt.Sprintf("insufficient stock for %s: requested %d, available %d", l.ProductID, l.Quantity, p.Stock))
			}
			price := p.PriceMinor()
			if cartPrice := money.FromLira(l.Price); cartPrice != price {
				logging.FromContext(ctx).Info("cart price is stale, using catalog price",
					zap.String("product_id", l.ProductID), zap.Int64("cart_price", cartPrice), zap.Int64("catalog_price", price))
			}
			name, image := p.Name, p.Image()
			if name == "" {
				name = l.Name
			}
			if image == "" {
				image = l.Image
			}
			items[i] = Item{
				ProductID:    l.ProductID,
				ProductName:  name,
				ProductImage: image,
				Price:        price,
				Quantity:     l.Quantity,
				Subtotal:     price * int64(l.Quantity),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	var total int64
	for _, it := range items {
		total += it.Subtotal
	}
	return items, total, nil
}

// preflight asks the inventory whether everything is available. It is advisory: reservation
// is the real check, so a failing call only logs.
func (s *Service) preflight(ctx context.Context, items []Item) error {
	req := make([]inventory.BatchItem, len(items))
	for i, it := range items {
		req[i] = inventory.BatchItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	res, err := s.inv.BatchCheck(ctx, req)
	if err != nil {
		logging.FromContext(ctx).Warn("inventory batch check failed, continuing", zap.Error(err))
		return nil
	}
	if res.AllAvailable {
		return nil
	}
	for _, l := range res.Items {
		if !l.IsAvailable {
			return apperr.WithMessage(apperr.ErrInsufficientStock,
				fmt.Sprintf("insufficient stock for %s: requested %d, available %d", l.ProductID, l.Requested, l.Available))
		}
	}
	return apperr.ErrInsufficientStock
}

// reserve holds stock line by line. The first failure releases whatever was already held.
func (s *Service) reserve(ctx context.Context, saga *Saga, userID string) error {
	saga.step(StepReserving)
	for i, l := range saga.Lines {
		_, err := s.inv.Reserve(ctx, inventory.Request{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			OrderID:   saga.OrderID,
			UserID:    userID,
		})
		if err != nil {
			_ = saga.mark(i, LineFailed, err)
			logging.FromContext(ctx).Warn("reservation failed, compensating",
				zap.String("product_id", l.ProductID), zap.Error(err))
			var unsure []int
			if reserveMayHaveLanded(err) {
				unsure = append(unsure, i)
			}
			s.compensate(ctx, saga, userID, "reservation failed for "+l.ProductID, unsure...)
			return err
		}
		_ = saga.mark(i, LineReserved, nil)
	}
	saga.step(StepReserved)
	s.saveSaga(ctx, saga)
	return nil
}

// reserveMayHaveLanded reports a reserve error that does not rule out the ledger having
// applied it: a transport failure, a timeout or a cancelled request.
func reserveMayHaveLanded(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindUpstreamUnavailable, apperr.KindInternal:
		return true
	}
	return false
}

// compensate releases every line still reserved, plus the unsure lines whose reserve may have
// landed unseen. It runs detached from the request so an aborted checkout still returns its
// stock. A failed release leaves the line Reserved in the snapshot for an operator.
func (s *Service) compensate(ctx context.Context, saga *Saga, userID, reason string, unsure ...int) {
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)
	for _, i := range append(saga.reserved(), unsure...) {
		l := saga.Lines[i]
		rctx, cancel := context.WithTimeout(ctx, timeouts.PeerRequest)
		_, err := s.inv.Release(rctx, inventory.Request{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			OrderID:   saga.OrderID,
			UserID:    userID,
			Reason:    reason,
		})
		cancel()
		if err != nil {
			log.Error("compensating release failed", zap.String("product_id", l.ProductID), zap.Error(err))
			continue
		}
		if l.Outcome == LineReserved {
			_ = saga.mark(i, LineReleased, nil)
		}
	}
	saga.step(StepCompensate)
	s.saveSaga(ctx, saga)
}

// charge calls the payment service. A transport failure leaves the order PENDING_PAYMENT and
// is reported, not returned.
func (s *Service) charge(ctx context.Context, o Order, req CheckoutRequest) (PaymentOutcome, string) {
	pctx, cancel := context.WithTimeout(ctx, timeouts.PaymentRequest)
	defer cancel()

	items := make([]payment.Item, len(o.Items))
	for i, it := range o.Items {
		items[i] = payment.Item{ProductID: it.ProductID, Name: it.ProductName, Quantity: it.Quantity, Price: it.Price}
	}
	p, err := s.pay.Process(pctx, payment.ProcessRequest{
		OrderID:      o.ID,
		TotalAmount:  o.TotalPrice,
		UserID:       o.UserID,
		Items:        items,
		CardLastFour: req.CardLastFour,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("payment call failed, order stays pending", zap.Error(err))
		return PaymentOutcome{}, "payment could not be confirmed: " + messageOf(err)
	}
	return PaymentOutcome{
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		PaymentID:     p.ID,
		ErrorCode:     p.ErrorCode,
		ErrorMessage:  p.ErrorMessage,
	}, ""
}

func (s *Service) saveSaga(ctx context.Context, saga *Saga) {
	if err := s.cache.SaveSaga(ctx, saga); err != nil {
		logging.FromContext(ctx).Warn("save saga snapshot", zap.String("order_id", saga.OrderID), zap.Error(err))
	}
}

// Saga returns the last snapshot of an order's checkout saga.
func (s *Service) Saga(ctx context.Context, orderID string) (Saga, error) {
	saga, ok, err := s.cache.LoadSaga(ctx, orderID)
	if err != nil {
		return Saga{}, apperr.Internal("load saga", err)
	}
	if !ok {
		return Saga{}, apperr.NotFound("no saga snapshot for order " + orderID)
	}
	return saga, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id string) (Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !actor.Admin && o.UserID != actor.UserID {
		return Order{}, apperr.WithMessage(apperr.ErrForbidden, "order belongs to another user")
	}
	o.FormattedTotal = money.Format(o.TotalPrice)
	return o, nil
}

// Status serves the cached status projection, filling the cache on a miss.
func (s *Service) Status(ctx context.Context, actor Actor, id string) (StatusView, error) {
	v, ok, err := s.cache.Status(ctx, id)
	if err != nil {
		logging.FromContext(ctx).Warn("status cache read failed", zap.Error(err))
	}
	if !ok {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return StatusView{}, err
		}
		v = StatusView{OrderID: o.ID, UserID: o.UserID, Status: o.Status, Version: o.Version, UpdatedAt: o.UpdatedAt}
		if err := s.cache.SetStatus(ctx, v); err != nil {
			logging.FromContext(ctx).Warn("status cache write failed", zap.Error(err))
		}
	}
	if !actor.Admin && v.UserID != actor.UserID {
		return StatusView{}, apperr.WithMessage(apperr.ErrForbidden, "order belongs to another user")
	}
	return v, nil
}

// List returns the actor's own orders.
func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) (OrderPage, error) {
	f.UserID = actor.UserID
	return s.list(ctx, f, defaultPageLimit)
}

// ListAll is the back-office listing, optionally filtered by user.
func (s *Service) ListAll(ctx context.Context, actor Actor, f ListFilter) (OrderPage, error) {
	if !actor.Admin && !actor.Seller {
		return OrderPage{}, apperr.ErrForbidden
	}
	return s.list(ctx, f, defaultAdminLimit)
}

func (s *Service) list(ctx context.Context, f ListFilter, defLimit int) (OrderPage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return OrderPage{}, apperr.Validation("unknown status: " + string(f.Status))
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defLimit
	}
	f.Limit = min(f.Limit, maxPageLimit)

	items, total, err := s.store.List(ctx, f)
	if err != nil {
		return OrderPage{}, err
	}
	for i := range items {
		items[i].FormattedTotal = money.Format(items[i].TotalPrice)
	}
	return OrderPage{
		Items: items,
		Page:  f.Page,
		Limit: f.Limit,
		Total: total,
		Pages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

// UpdateStatus is the back-office override: any enumerated status except the current one.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, to Status, notes string) (Order, error) {
	if !actor.Admin && !actor.Seller {
		return Order{}, apperr.ErrForbidden
	}
	if !to.Valid() {
		return Order{}, apperr.Validation("unknown status: " + string(to))
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.Status == to {
		return Order{}, apperr.WithMessage(apperr.ErrNoStatusChange, "order is already "+string(to))
	}
	return s.transition(ctx, o, to, actor.UserID, notes, "")
}

// Cancel lets the owner withdraw an unpaid order and an admin cancel from any status. Stock is
// left to the payment flow.
func (s *Service) Cancel(ctx context.Context, actor Actor, id, reason string) (Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	switch {
	case !actor.Admin && o.UserID != actor.UserID:
		return Order{}, apperr.WithMessage(apperr.ErrForbidden, "order belongs to another user")
	case !actor.Admin && o.Status != StatusPendingPayment:
		return Order{}, apperr.WithMessage(apperr.ErrInvalidTransition,
			"only orders awaiting payment can be cancelled, order is "+string(o.Status))
	case o.Status == StatusCancelled:
		return Order{}, apperr.WithMessage(apperr.ErrNoStatusChange, "order is already "+string(o.Status))
	}
	if reason == "" {
		reason = "cancelled by " + actor.UserID
	}
	return s.transition(ctx, o, StatusCancelled, actor.UserID, reason, "")
}

// ApplyPaymentStatus records a payment outcome reported by the payment service. Delivery is at
// least once: the held status is acknowledged as a duplicate, and an outcome that may not
// follow the current status is noted in history without touching the status.
func (s *Service) ApplyPaymentStatus(ctx context.Context, id string, upd PaymentUpdate) (res PaymentUpdateResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveUseCase("orders.payment_status", apperr.Outcome(err), time.Since(start)) }()
	if !paymentStatuses[upd.Status] {
		return PaymentUpdateResult{}, apperr.Validation("unsupported payment status: " + string(upd.Status))
	}
	log := logging.FromContext(ctx).With(zap.String("order_id", id), zap.String("status", string(upd.Status)))

	for attempt := 1; ; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return PaymentUpdateResult{}, err
		}
		if o.Status == upd.Status {
			log.Info("payment status already applied")
			return PaymentUpdateResult{Order: o, Duplicate: true}, nil
		}
		if !CanTransition(o.Status, upd.Status) {
			note := fmt.Sprintf("ignored payment status %s (payment %s) while %s", upd.Status, upd.PaymentID, o.Status)
			if err := s.store.AppendHistory(ctx, id, HistoryEntry{
				OldStatus: o.Status, NewStatus: o.Status, ChangedBy: ChangedByPayment, Notes: note,
			}); err != nil {
				return PaymentUpdateResult{}, err
			}
			log.Warn("payment status not applicable", zap.String("current", string(o.Status)))
			return PaymentUpdateResult{Order: o}, nil
		}

		notes := "payment " + upd.PaymentID
		updated, err := s.transition(ctx, o, upd.Status, ChangedByPayment, notes, upd.TransactionID)
		if errors.Is(err, apperr.ErrVersionConflict) && attempt < paymentUpdateRetries {
			log.Info("order changed concurrently, retrying", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return PaymentUpdateResult{}, err
		}
		s.settleSaga(ctx, id, upd.Status)
		return PaymentUpdateResult{Order: updated, Applied: true}, nil
	}
}

func (s *Service) settleSaga(ctx context.Context, orderID string, st Status) {
	saga, ok, err := s.cache.LoadSaga(ctx, orderID)
	if err != nil || !ok {
		return
	}
	switch st {
	case StatusPaid:
		saga.markAll(LineReserved, LineConfirmed)
	case StatusPaymentFailed:
		saga.markAll(LineReserved, LineReleased)
	}
	saga.step(StepCompleted)
	s.saveSaga(ctx, &saga)
}

// transition performs one fenced write and its side effects.
func (s *Service) transition(ctx context.Context, o Order, to Status, by, notes, txnID string) (Order, error) {
	updated, err := s.store.UpdateStatus(ctx, StatusChange{
		OrderID:              o.ID,
		From:                 o.Status,
		To:                   to,
		ExpectedVersion:      o.Version,
		ChangedBy:            by,
		Notes:                notes,
		PaymentTransactionID: txnID,
	})
	if err != nil {
		return Order{}, err
	}
	if err := s.cache.InvalidateStatus(ctx, o.ID); err != nil {
		logging.FromContext(ctx).Warn("invalidate status cache", zap.String("order_id", o.ID), zap.Error(err))
	}
	logging.FromContext(ctx).Info("order status changed",
		zap.String("order_id", o.ID), zap.String("from", string(o.Status)), zap.String("to", string(to)), zap.String("by", by))
	s.events.Emit(ctx, events.EventOrderStatusChanged, o.ID, o.ID, events.OrderStatusChangedPayload{
		OrderID:   o.ID,
		OldStatus: string(o.Status),
		NewStatus: string(to),
		ChangedBy: by,
		Version:   updated.Version,
	})
	updated.FormattedTotal = money.Format(updated.TotalPrice)
	return updated, nil
}

func createdPayload(o Order) events.OrderCreatedPayload {
	items := make([]events.ItemPrice, len(o.Items))
	for i, it := range o.Items {
		items[i] = events.ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, Price: it.Price}
	}
	return events.OrderCreatedPayload{OrderID: o.ID, UserID: o.UserID, Items: items, TotalPrice: o.TotalPrice}
}

func messageOf(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Message
	}
	return err.Error()
}
