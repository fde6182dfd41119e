package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-saga/internal/config"
	"github.com/ariefcatur/go-checkout-saga/internal/events"
	"github.com/ariefcatur/go-checkout-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/payment"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/ariefcatur/go-checkout-saga/internal/svcclient"
	"github.com/ariefcatur/go-checkout-saga/internal/telemetry"
)

const service = "payment"

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
		logger.Fatal("payment service exited", zap.Error(err))
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

	var store payment.Store
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		if err := postgres.MigrateUp(cfg.PostgresDSN, "payment"); err != nil {
			return err
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, service, cfg.PostgresConns)
		if err != nil {
			return err
		}
		defer db.Close()
		store = payment.NewPostgresStore(db)
	default:
		logger.Warn("using in-memory payment store; state is lost on restart")
		store = payment.NewMemoryStore()
	}

	var prod *kafkax.Producer
	var pub events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, events.TopicPaymentProcessed, 1024, logger)
		prod.Start(ctx)
		pub = prod
	}

	inv := svcclient.NewInventory(cfg.InventoryURL, cfg.InternalServiceKey, svcclient.WithMetrics(m))
	ord := svcclient.NewOrders(cfg.OrderURL, cfg.InternalServiceKey, svcclient.WithMetrics(m))
	sim := payment.NewSimulator(store, inv.ForPayments(), ord, payment.Config{
		SuccessRate: cfg.PaymentSuccessRate,
		DelayMin:    cfg.PaymentDelayMin,
		DelayMax:    cfg.PaymentDelayMax,
	}, payment.WithMetrics(m), payment.WithEmitter(events.NewEmitter(pub, service)))

	router := httpx.NewRouter(logger, m)
	(&httpx.PaymentHandler{
		Simulator: sim,
		Auth:      httpx.NewAuthenticator(cfg.JWTSecret, cfg.InternalServiceKey),
	}).Register(router)

	err = httpx.Serve(ctx, httpx.NewServer(cfg.HTTPAddr, router), logger)
	// Callbacks already in flight finish before the process exits; the reconciler covers the rest.
	sim.Wait()
	stop()
	if prod != nil {
		prod.WaitClosed()
	}
	return err
}
