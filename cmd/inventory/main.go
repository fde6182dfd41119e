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
	"github.com/ariefcatur/go-checkout-saga/internal/inventory"
	kafkax "github.com/ariefcatur/go-checkout-saga/internal/kafka"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/ariefcatur/go-checkout-saga/internal/telemetry"
)

const service = "inventory"

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
		logger.Fatal("inventory service exited", zap.Error(err))
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

	var store inventory.Store
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		if err := postgres.MigrateUp(cfg.PostgresDSN, "inventory"); err != nil {
			return err
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, service, cfg.PostgresConns)
		if err != nil {
			return err
		}
		defer db.Close()
		store = inventory.NewPostgresStore(db)
	default:
		logger.Warn("using in-memory stock ledger; state is lost on restart")
		store = inventory.NewMemoryStore()
	}

	var prod *kafkax.Producer
	var pub events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, events.TopicInventoryStock, 1024, logger)
		prod.Start(ctx)
		pub = prod
	}

	ledger := inventory.NewLedger(store, m, events.NewEmitter(pub, service))

	router := httpx.NewRouter(logger, m)
	(&httpx.InventoryHandler{
		Ledger: ledger,
		Auth:   httpx.NewAuthenticator(cfg.JWTSecret, cfg.InternalServiceKey),
	}).Register(router)

	err = httpx.Serve(ctx, httpx.NewServer(cfg.HTTPAddr, router), logger)
	stop()
	if prod != nil {
		prod.WaitClosed()
	}
	return err
}
