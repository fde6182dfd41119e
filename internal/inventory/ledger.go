package inventory

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/events"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/telemetry"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	defaultTxLimit   = 50
)

// Ledger is the only component that mutates stock.
type Ledger struct {
	store   Store
	metrics *metrics.Metrics
	events  *events.Emitter
	tracer  trace.Tracer
}

func NewLedger(store Store, m *metrics.Metrics, em *events.Emitter) *Ledger {
	return &Ledger{store: store, metrics: m, events: em, tracer: telemetry.Tracer("inventory")}
}

func (l *Ledger) Init(ctx context.Context, productID string, initialStock int, userID string) (StockView, error) {
	if productID == "" {
		return StockView{}, apperr.Validation("productId is required")
	}
	if initialStock < 0 {
		return StockView{}, apperr.Validation("initialStock must not be negative")
	}
	st, _, err := l.store.Create(ctx, productID, initialStock, userID)
	l.metrics.StockOp("init", apperr.Outcome(err))
	if err != nil {
		return StockView{}, err
	}
	logging.FromContext(ctx).Info("stock record created",
		zap.String("product_id", productID), zap.Int("quantity", initialStock))
	l.events.Emit(ctx, events.EventStockInitialized, productID, productID, events.StockChangedPayload{
		ProductID: productID, Type: string(TxInit), QuantityChange: initialStock, Quantity: initialStock,
	})
	return viewOf(st), nil
}

func (l *Ledger) Get(ctx context.Context, productID string) (StockView, error) {
	st, err := l.store.Get(ctx, productID)
	if err != nil {
		return StockView{}, err
	}
	return viewOf(st), nil
}

func (l *Ledger) Reserve(ctx context.Context, req Request) (Result, error) {
	return l.mutate(ctx, "reserve", events.EventStockReserved, req, Mutation{Type: TxReserve})
}

func (l *Ledger) Confirm(ctx context.Context, req Request) (Result, error) {
	return l.mutate(ctx, "confirm", events.EventStockConfirmed, req, Mutation{Type: TxConfirm})
}

func (l *Ledger) Release(ctx context.Context, req Request) (Result, error) {
	return l.mutate(ctx, "release", events.EventStockReleased, req, Mutation{Type: TxRelease, Notes: req.Reason})
}

// Adjust corrects stock administratively. SET on an unknown product creates the record.
func (l *Ledger) Adjust(ctx context.Context, productID string, quantity int, op AdjustOp, userID string) (Result, error) {
	if productID == "" {
		return Result{}, apperr.Validation("productId is required")
	}
	if !op.Valid() {
		return Result{}, apperr.Validation("operation must be SET, ADD or REMOVE")
	}
	if quantity < 0 {
		return Result{}, apperr.Validation("quantity must not be negative")
	}

	if op == AdjustSet {
		if _, err := l.store.Get(ctx, productID); err != nil {
			if apperr.KindOf(err) != apperr.KindNotFound {
				return Result{}, err
			}
			v, err := l.Init(ctx, productID, quantity, userID)
			if err == nil {
				return Result{ProductID: productID, Quantity: v.Quantity, Reserved: v.Reserved, Available: v.Available}, nil
			}
			// Lost a race with another creator; fall through to a normal SET.
			if !errors.Is(err, apperr.ErrAlreadyExists) {
				return Result{}, err
			}
		}
	}

	return l.mutate(ctx, "adjust", events.EventStockAdjusted,
		Request{ProductID: productID, Quantity: quantity, UserID: userID},
		Mutation{Type: txAdjust, Adjust: op})
}

func (l *Ledger) mutate(ctx context.Context, op, eventType string, req Request, m Mutation) (res Result, err error) {
	ctx, span := l.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
		attribute.String("order.id", req.OrderID),
	))
	start := time.Now()
	defer func() {
		l.metrics.StockOp(op, apperr.Outcome(err))
		l.metrics.ObserveUseCase("inventory."+op, apperr.Outcome(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.CodeOf(err))
		}
		span.End()
	}()

	if req.ProductID == "" {
		return Result{}, apperr.Validation("productId is required")
	}
	if m.Type != txAdjust && req.Quantity <= 0 {
		return Result{}, apperr.Validation("quantity must be positive")
	}

	m.ProductID = req.ProductID
	m.Quantity = req.Quantity
	m.OrderID = req.OrderID
	m.UserID = req.UserID

	ch, err := l.store.Apply(ctx, m)
	if err != nil {
		return Result{}, err
	}

	log := logging.FromContext(ctx).With(
		zap.String("product_id", req.ProductID), zap.String("order_id", req.OrderID), zap.Int("quantity", req.Quantity))
	res = Result{
		ProductID: req.ProductID,
		Quantity:  ch.After.Quantity,
		Reserved:  ch.After.Reserved,
		Available: ch.After.Available(),
		Duplicate: ch.Duplicate,
	}
	if ch.Duplicate {
		span.SetAttributes(attribute.Bool("duplicate", true))
		log.Info("settled reservation, nothing to do", zap.String("op", op))
		return res, nil
	}
	res.TransactionID = ch.Transaction.ID
	log.Info("stock "+op, zap.Int("available", res.Available), zap.Int("reserved", res.Reserved))

	l.events.Emit(ctx, eventType, partitionKey(req), req.OrderID, events.StockChangedPayload{
		ProductID:      req.ProductID,
		OrderID:        req.OrderID,
		Type:           string(ch.Transaction.Type),
		QuantityChange: ch.Transaction.QuantityChange,
		Quantity:       ch.After.Quantity,
		Reserved:       ch.After.Reserved,
	})
	return res, nil
}

// BatchCheck is read-only; it is a pre-flight and never a guarantee.
func (l *Ledger) BatchCheck(ctx context.Context, items []BatchItem) (BatchResult, error) {
	if len(items) == 0 {
		return BatchResult{}, apperr.Validation("items must not be empty")
	}
	out := BatchResult{AllAvailable: true, Items: make([]BatchLine, 0, len(items))}
	for _, it := range items {
		line := BatchLine{ProductID: it.ProductID, Requested: it.Quantity}
		st, err := l.store.Get(ctx, it.ProductID)
		switch {
		case err == nil:
			line.Available = st.Available()
			line.IsAvailable = it.Quantity > 0 && line.Available >= it.Quantity
		case apperr.KindOf(err) == apperr.KindNotFound:
			line.Error = "stock record not found"
		default:
			return BatchResult{}, err
		}
		if !line.IsAvailable {
			out.AllAvailable = false
		}
		out.Items = append(out.Items, line)
	}
	return out, nil
}

func (l *Ledger) List(ctx context.Context, f ListFilter) (StockPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	f.Limit = min(f.Limit, maxPageLimit)

	stocks, total, err := l.store.List(ctx, f)
	if err != nil {
		return StockPage{}, err
	}
	page := StockPage{Items: make([]StockView, 0, len(stocks)), Page: f.Page, Limit: f.Limit, Total: total}
	page.Pages = (total + f.Limit - 1) / f.Limit
	for _, st := range stocks {
		page.Items = append(page.Items, viewOf(st))
	}
	return page, nil
}

func (l *Ledger) Transactions(ctx context.Context, productID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultTxLimit
	}
	if _, err := l.store.Get(ctx, productID); err != nil {
		return nil, err
	}
	return l.store.Transactions(ctx, productID, min(limit, maxPageLimit))
}

func partitionKey(req Request) string {
	if req.OrderID != "" {
		return req.OrderID
	}
	return req.ProductID
}
