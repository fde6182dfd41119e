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
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/ariefcatur/go-checkout-saga/internal/svcclient"
	"github.com/ariefcatur/go-checkout-saga/internal/telemetry"
)

const service = "order"

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
		logger.Fatal("order service exited", zap.Error(err))
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

	var store orders.Store
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		if err := postgres.MigrateUp(cfg.PostgresDSN, "orders"); err != nil {
			return err
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, service, cfg.PostgresConns)
		if err != nil {
			return err
		}
		defer db.Close()
		store = orders.NewPostgresStore(db)
	default:
		logger.Warn("using in-memory order store; state is lost on restart")
		store = orders.NewMemoryStore()
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Cache, idempotency and saga snapshots degrade; checkout itself keeps working.
		logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	var prod *kafkax.Producer
	var pub events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrderLifecycle, 1024, logger)
		prod.Start(ctx)
		pub = prod
	}

	withMetrics := svcclient.WithMetrics(m)
	svc := orders.NewService(orders.Deps{
		Store:     store,
		Cache:     orders.NewRedisCache(rdb),
		Cart:      svcclient.NewCart(cfg.CartURL, withMetrics),
		Catalog:   svcclient.NewCatalog(cfg.CatalogURL, withMetrics),
		Inventory: svcclient.NewInventory(cfg.InventoryURL, cfg.InternalServiceKey, withMetrics),
		Payments:  svcclient.NewPayments(cfg.PaymentURL, cfg.InternalServiceKey, withMetrics),
		Metrics:   m,
		Events:    events.NewEmitter(pub, service),
	})

	router := httpx.NewRouter(logger, m)
	(&httpx.OrdersHandler{
		Service: svc,
		Auth:    httpx.NewAuthenticator(cfg.JWTSecret, cfg.InternalServiceKey),
	}).Register(router)

	err = httpx.Serve(ctx, httpx.NewServer(cfg.HTTPAddr, router), logger)
	stop()
	if prod != nil {
		prod.WaitClosed()
	}
	return err
}
