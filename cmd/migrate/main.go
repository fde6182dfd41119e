package main

import (
	"errors"
	"flag"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-saga/internal/config"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/postgres"
)

func main() {
	schema := flag.String("schema", "", "schema to migrate: inventory, orders or payment (empty means all)")
	action := flag.String("action", "up", "up, down or version")
	steps := flag.Int("steps", 0, "with down: number of migrations to roll back (0 rolls back one)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.NewLogger("migrate", cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	schemas := postgres.Schemas
	if *schema != "" {
		schemas = []string{*schema}
	}
	for _, s := range schemas {
		if err := apply(cfg.PostgresDSN, s, *action, *steps, logger); err != nil {
			logger.Fatal("migrate", zap.String("schema", s), zap.String("action", *action), zap.Error(err))
		}
	}
}

func apply(dsn, schema, action string, steps int, logger *zap.Logger) error {
	m, err := postgres.NewMigrator(dsn, schema)
	if err != nil {
		return err
	}
	defer m.Close()

	switch action {
	case "up":
		err = m.Up()
	case "down":
		if steps <= 0 {
			steps = 1
		}
		err = m.Steps(-steps)
	case "version":
	default:
		return errors.New("action must be up, down or version")
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("no migrations applied", zap.String("schema", schema))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("migration state", zap.String("schema", schema), zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}
