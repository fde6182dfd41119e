// Package reconciler re-runs payment callbacks that never reached inventory or orders.
//
// Two triggers feed it: a periodic sweep over payments whose callback flags are still unset,
// and PaymentProcessed events from Kafka. Redelivery is safe to repeat because stock
// confirm/release are keyed by order and the payment-status callback is idempotent.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/events"
	kafkax "github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
)

const dedupService = "reconciler"

// Payments is implemented by *svcclient.Payments.
type Payments interface {
	PendingCallbacks(ctx context.Context, olderThan time.Duration, limit int) ([]payment.Payment, error)
	Redeliver(ctx context.Context, id string) (payment.Payment, error)
}

type Config struct {
	Interval time.Duration
	// Grace skips payments whose first callback attempt may still be in flight.
	Grace time.Duration
	Batch int
	// Settle is how long after a PaymentProcessed event the Kafka path waits before acting.
	Settle   time.Duration
	MaxTries uint
}

type Reconciler struct {
	payments Payments
	rdb      redis.Cmdable
	cfg      Config
	metrics  *metrics.Metrics
	backoff  func() backoff.BackOff
	now      func() time.Time
}

type Option func(*Reconciler)

func WithMetrics(m *metrics.Metrics) Option { return func(r *Reconciler) { r.metrics = m } }

func WithBackOff(f func() backoff.BackOff) Option { return func(r *Reconciler) { r.backoff = f } }

func New(p Payments, rdb redis.Cmdable, cfg Config, opts ...Option) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 5
	}
	r := &Reconciler{
		payments: p,
		rdb:      rdb,
		cfg:      cfg,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run sweeps once immediately and then every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		if n, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Warn("reconcile sweep", zap.Int("delivered", n), zap.Error(err))
		} else if n > 0 {
			log.Info("reconcile sweep", zap.Int("delivered", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Sweep redelivers the callbacks of every pending payment in one batch and reports how many
// payments ended with both flags set.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	pending, err := r.payments.PendingCallbacks(ctx, r.cfg.Grace, r.cfg.Batch)
	if err != nil {
		return 0, err
	}
	var (
		done int
		errs []error
	)
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := r.redeliver(ctx, p.ID); err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", p.ID, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// HandlePaymentProcessed is a kafka.Handler for the payment.processed topic. Returning an error
// leaves the offset uncommitted.
func (r *Reconciler) HandlePaymentProcessed(ctx context.Context, m kafkago.Message) error {
	env, err := events.Decode(m.Value)
	if err != nil {
		// Poison message; committing it is the only way past it.
		logging.FromContext(ctx).Warn("drop undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != events.EventPaymentProcessed {
		return nil
	}

	key := redisx.Dedup(dedupService, env.EventID)
	seen, err := redisx.Exists(ctx, r.rdb, key)
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[events.PaymentProcessedPayload](env.Payload)
	if err != nil {
		logging.FromContext(ctx).Warn("drop malformed payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if err := r.settle(ctx, env.OccurredAt); err != nil {
		return err
	}
	if err := r.redeliver(ctx, p.PaymentID); err != nil {
		return err
	}
	// Marked only after success so a failed attempt is retried on the next fetch.
	if _, err := redisx.Claim(ctx, r.rdb, key, redisx.TTLDedup); err != nil {
		logging.FromContext(ctx).Warn("dedup mark", zap.String("event_id", env.EventID), zap.Error(err))
	}
	return nil
}

// settle waits until the simulator's own asynchronous delivery has had time to finish.
func (r *Reconciler) settle(ctx context.Context, occurred time.Time) error {
	wait := occurred.Add(r.cfg.Settle).Sub(r.now())
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redeliver retries upstream failures with backoff. Anything else (unknown payment, rejected
// request) is permanent.
func (r *Reconciler) redeliver(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { r.metrics.ObserveUseCase("reconciler.redeliver", apperr.Outcome(err), time.Since(start)) }()

	log := logging.FromContext(ctx).With(zap.String("payment_id", id))
	_, err = backoff.Retry(ctx, func() (payment.Payment, error) {
		p, err := r.payments.Redeliver(ctx, id)
		if err == nil {
			return p, nil
		}
		if apperr.KindOf(err) == apperr.KindUpstreamUnavailable {
			return p, err
		}
		return p, backoff.Permanent(err)
	},
		backoff.WithBackOff(r.backoff()),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug("redeliver retry", zap.Duration("next", next), zap.Error(err))
		}),
	)
	if err != nil {
		log.Warn("redeliver callbacks", zap.Error(err))
		return err
	}
	log.Info("callbacks redelivered")
	return nil
}
