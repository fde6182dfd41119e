package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-checkout-saga/internal/config"
	"github.com/ariefcatur/go-checkout-saga/internal/events"
	"github.com/ariefcatur/go-checkout-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/reconciler"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/ariefcatur/go-checkout-saga/internal/svcclient"
	"github.com/ariefcatur/go-checkout-saga/internal/telemetry"
	"github.com/ariefcatur/go-checkout-saga/internal/timeouts"
)

const (
	service = "reconciler"
	workers = 4
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.NewLogger(service, cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("reconciler exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithLogger(ctx, logger)

	shutdownTracing, err := telemetry.Setup(ctx, service, cfg.Env, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()
	m := metrics.New(service)

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	rec := reconciler.New(
		svcclient.NewPayments(cfg.PaymentURL, cfg.InternalServiceKey, svcclient.WithMetrics(m)),
		rdb,
		reconciler.Config{
			Interval: cfg.ReconcileInterval,
			Grace:    cfg.ReconcileGrace,
			Batch:    cfg.ReconcileBatch,
			Settle:   cfg.PaymentDelayMax + timeouts.Callback,
		},
		reconciler.WithMetrics(m),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rec.Run(ctx) })
	if len(cfg.KafkaBrokers) > 0 {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcileGroup, events.TopicPaymentProcessed, workers, logger)
		g.Go(func() error { return cons.Start(ctx, rec.HandlePaymentProcessed) })
	} else {
		logger.Info("no kafka brokers configured; sweeping only")
	}
	// Health and metrics only.
	router := httpx.NewRouter(logger, m)
	g.Go(func() error { return httpx.Serve(ctx, httpx.NewServer(cfg.HTTPAddr, router), logger) })

	return g.Wait()
}
