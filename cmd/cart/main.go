package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-saga/internal/cart"
	"github.com/ariefcatur/go-checkout-saga/internal/config"
	"github.com/ariefcatur/go-checkout-saga/internal/httpx"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/ariefcatur/go-checkout-saga/internal/svcclient"
	"github.com/ariefcatur/go-checkout-saga/internal/telemetry"
)

const service = "cart"

func main() {
	_ = godotenv.Load()
	// Prices go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

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
		logger.Fatal("cart service exited", zap.Error(err))
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
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	carts := cart.NewService(rdb, svcclient.NewCatalog(cfg.CatalogURL, svcclient.WithMetrics(m)), cfg.CartTTL)

	router := httpx.NewRouter(logger, m)
	(&httpx.CartHandler{
		Cart: carts,
		Auth: httpx.NewAuthenticator(cfg.JWTSecret, cfg.InternalServiceKey),
	}).Register(router)

	return httpx.Serve(ctx, httpx.NewServer(cfg.HTTPAddr, router), logger)
}
