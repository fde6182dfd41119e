package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/events"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/telemetry"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

const (
	declinedCode    = apperr.CodePaymentDeclined
	declinedMessage = "payment declined, please check your card details"
	defaultReason   = "customer request"
	refundSucceeded = "SUCCESS"
)

type Config struct {
	// SuccessRate is a percentage in [0, 100].
	SuccessRate int
	DelayMin    time.Duration
	DelayMax    time.Duration
}

type Simulator struct {
	store     Store
	inventory Inventory
	orders    Orders
	cfg       Config

	mu     sync.Mutex
	random *rand.Rand

	wg      sync.WaitGroup
	metrics *metrics.Metrics
	events  *events.Emitter
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Simulator)

func WithRand(r *rand.Rand) Option          { return func(s *Simulator) { s.random = r } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Simulator) { s.metrics = m } }
func WithEmitter(em *events.Emitter) Option { return func(s *Simulator) { s.events = em } }
func WithClock(now func() time.Time) Option { return func(s *Simulator) { s.now = now } }

func NewSimulator(store Store, inv Inventory, orders Orders, cfg Config, opts ...Option) *Simulator {
	s := &Simulator{
		store:     store,
		inventory: inv,
		orders:    orders,
		cfg:       cfg,
		random:    rand.New(rand.NewSource(time.Now().UnixNano())),
		tracer:    telemetry.Tracer("payment"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process simulates an authorization, persists the outcome and starts both callbacks in the
// background. A declined payment is returned with Status FAILED and a nil error.
func (s *Simulator) Process(ctx context.Context, req ProcessRequest) (p Payment, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.process", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int64("amount", req.TotalAmount),
	))
	start := time.Now()
	defer func() {
		outcome := "error"
		if err == nil {
			outcome = strings.ToLower(string(p.Status))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.CodeOf(err))
		}
		s.metrics.ObserveUseCase("payment.process", outcome, time.Since(start))
		span.End()
	}()

	if err := validateProcess(req); err != nil {
		return Payment{}, err
	}

	// The transaction id exists before the outcome so a failed attempt stays traceable.
	txnID := newReference("TXN", s.now())
	log := logging.FromContext(ctx).With(zap.String("transaction_id", txnID), zap.String("order_id", req.OrderID))

	if err := s.delay(ctx); err != nil {
		return Payment{}, apperr.Internal("payment interrupted", err)
	}

	now := s.now().UTC()
	p = Payment{
		ID:            uuid.NewString(),
		TransactionID: txnID,
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Amount:        req.TotalAmount,
		Currency:      DefaultCurrency,
		Status:        StatusSuccess,
		CardLastFour:  req.CardLastFour,
		Items:         req.Items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.Items == nil {
		p.Items = []Item{}
	}
	if !s.approve() {
		p.Status = StatusFailed
		p.ErrorCode = declinedCode
		p.ErrorMessage = declinedMessage
	}

	if err := s.store.Create(ctx, p); err != nil {
		return Payment{}, err
	}
	s.metrics.Payment(string(p.Status))
	span.SetAttributes(attribute.String("payment.status", string(p.Status)))
	log.Info("payment processed", zap.String("status", string(p.Status)), zap.Int64("amount", p.Amount))

	s.events.Emit(ctx, events.EventPaymentProcessed, p.OrderID, p.OrderID, events.PaymentProcessedPayload{
		PaymentID: p.ID, TransactionID: p.TransactionID, OrderID: p.OrderID, Status: string(p.Status), Amount: p.Amount,
	})

	s.async(ctx, func(ctx context.Context) {
		_, _ = s.deliver(ctx, p)
	})
	return p, nil
}

// Refund returns money for a SUCCESS payment and marks it REFUNDED.
func (s *Simulator) Refund(ctx context.Context, req RefundRequest) (Payment, Refund, error) {
	if req.PaymentID == "" {
		return Payment{}, Refund{}, apperr.Validation("paymentId is required")
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultReason
	}

	p, r, err := s.store.Refund(ctx, req.PaymentID, func(p Payment) (Refund, error) {
		if p.Status != StatusSuccess {
			return Refund{}, apperr.WithMessage(apperr.ErrNotRefundable,
				fmt.Sprintf("payment %s is %s, only SUCCESS payments can be refunded", p.ID, p.Status))
		}
		amount := p.Amount
		if req.Amount != nil {
			amount = *req.Amount
		}
		if amount <= 0 || amount > p.Amount {
			return Refund{}, apperr.Validation(fmt.Sprintf("refund amount must be within 1..%d", p.Amount))
		}
		return Refund{
			ID:                  uuid.NewString(),
			PaymentID:           p.ID,
			RefundTransactionID: newReference("REF", s.now()),
			Amount:              amount,
			Status:              refundSucceeded,
			Reason:              reason,
			CreatedAt:           s.now().UTC(),
		}, nil
	})
	if err != nil {
		return Payment{}, Refund{}, err
	}
	s.metrics.Payment(string(StatusRefunded))
	logging.FromContext(ctx).Info("payment refunded",
		zap.String("payment_id", p.ID), zap.String("refund_transaction_id", r.RefundTransactionID), zap.Int64("amount", r.Amount))

	s.events.Emit(ctx, events.EventPaymentRefunded, p.OrderID, p.OrderID, events.PaymentRefundedPayload{
		PaymentID: p.ID, RefundTransactionID: r.RefundTransactionID, OrderID: p.OrderID, Amount: r.Amount,
	})
	s.async(ctx, func(ctx context.Context) {
		err := s.callOrders(ctx, p.OrderID, StatusUpdate{Status: OrderRefunded, TransactionID: p.TransactionID, PaymentID: p.ID})
		if err != nil {
			logging.FromContext(ctx).Warn("refund callback failed", zap.String("order_id", p.OrderID), zap.Error(err))
		}
	})
	return p, r, nil
}

func (s *Simulator) Get(ctx context.Context, idOrTransactionID string) (Payment, error) {
	if idOrTransactionID == "" {
		return Payment{}, apperr.Validation("payment id is required")
	}
	return s.store.Get(ctx, idOrTransactionID)
}

func (s *Simulator) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	if orderID == "" {
		return nil, apperr.Validation("order id is required")
	}
	return s.store.ListByOrder(ctx, orderID)
}

// PendingCallbacks lists payments older than olderThan that still miss a callback flag.
func (s *Simulator) PendingCallbacks(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error) {
	return s.store.PendingCallbacks(ctx, olderThan, limit)
}

// Redeliver synchronously re-runs whichever callbacks of the payment are still unsent.
func (s *Simulator) Redeliver(ctx context.Context, idOrTransactionID string) (Payment, error) {
	p, err := s.store.Get(ctx, idOrTransactionID)
	if err != nil {
		return Payment{}, err
	}
	return s.deliver(ctx, p)
}

// Wait blocks until every in-flight callback goroutine has finished.
func (s *Simulator) Wait() { s.wg.Wait() }

// deliver runs the unsent callbacks of p. Each flag is set only after its callback succeeded.
func (s *Simulator) deliver(ctx context.Context, p Payment) (Payment, error) {
	log := logging.FromContext(ctx).With(zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))
	var errs []error

	if !p.InventoryCallbackSent {
		if err := s.callInventory(ctx, p); err != nil {
			log.Warn("inventory callback failed", zap.Error(err))
			s.metrics.Callback(string(TargetInventory), "error")
			errs = append(errs, err)
		} else if err := s.store.MarkCallbackSent(ctx, p.ID, TargetInventory); err != nil {
			log.Error("mark inventory callback", zap.Error(err))
			errs = append(errs, err)
		} else {
			p.InventoryCallbackSent = true
			s.metrics.Callback(string(TargetInventory), "success")
		}
	}

	if !p.OrderCallbackSent {
		u := StatusUpdate{Status: p.orderStatus(), TransactionID: p.TransactionID, PaymentID: p.ID}
		if err := s.callOrders(ctx, p.OrderID, u); err != nil {
			log.Warn("order callback failed", zap.Error(err))
			s.metrics.Callback(string(TargetOrder), "error")
			errs = append(errs, err)
		} else if err := s.store.MarkCallbackSent(ctx, p.ID, TargetOrder); err != nil {
			log.Error("mark order callback", zap.Error(err))
			errs = append(errs, err)
		} else {
			p.OrderCallbackSent = true
			s.metrics.Callback(string(TargetOrder), "success")
		}
	}
	return p, errors.Join(errs...)
}

// callInventory confirms every item of a successful payment or releases every item of a failed
// one. All items are attempted even if one fails.
func (s *Simulator) callInventory(ctx context.Context, p Payment) error {
	var errs []error
	for _, it := range p.Items {
		cctx, cancel := context.WithTimeout(ctx, timeouts.Callback)
		var err error
		if p.Status == StatusFailed {
			err = s.inventory.Release(cctx, it.ProductID, it.Quantity, p.OrderID, p.UserID, "payment failed")
		} else {
			err = s.inventory.Confirm(cctx, it.ProductID, it.Quantity, p.OrderID, p.UserID)
		}
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.ProductID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Simulator) callOrders(ctx context.Context, orderID string, u StatusUpdate) error {
	cctx, cancel := context.WithTimeout(ctx, timeouts.Callback)
	defer cancel()
	return s.orders.UpdatePaymentStatus(cctx, orderID, u)
}

// async runs fn on a tracked goroutine with a context that outlives the request but keeps its
// values (logger, trace).
func (s *Simulator) async(ctx context.Context, fn func(context.Context)) {
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(detached)
	}()
}

func (s *Simulator) approve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.random.Float64()*100 < float64(s.cfg.SuccessRate)
}

func (s *Simulator) delay(ctx context.Context) error {
	d := s.cfg.DelayMin
	if spread := s.cfg.DelayMax - s.cfg.DelayMin; spread > 0 {
		s.mu.Lock()
		d += time.Duration(s.random.Int63n(int64(spread)))
		s.mu.Unlock()
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateProcess(req ProcessRequest) error {
	switch {
	case req.OrderID == "":
		return apperr.Validation("orderId is required")
	case req.UserID == "":
		return apperr.Validation("userId is required")
	case req.TotalAmount <= 0:
		return apperr.Validation("totalAmount must be positive")
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return apperr.Validation("every item needs a productId and a positive quantity")
		}
	}
	return nil
}

// newReference builds ids like TXN-1718000000000-1A2B3C4D.
func newReference(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixMilli(), suffix)
}
