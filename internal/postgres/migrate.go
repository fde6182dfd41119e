package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Schemas that have a migration set. Each service keeps its own version table.
var Schemas = []string{"inventory", "orders", "payment"}

// NewMigrator opens a migrator for one service schema.
func NewMigrator(dsn, schema string) (*migrate.Migrate, error) {
	known := false
	for _, s := range Schemas {
		if s == schema {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown schema %q", schema)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+schema)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	url, err := migrateURL(dsn, schema)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration of schema. No change is not an error.
func MigrateUp(dsn, schema string) error {
	m, err := NewMigrator(dsn, schema)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s up: %w", schema, err)
	}
	return nil
}

func migrateURL(dsn, schema string) (string, error) {
	var rest string
	switch {
	case strings.HasPrefix(dsn, "postgres://"):
		rest = strings.TrimPrefix(dsn, "postgres://")
	case strings.HasPrefix(dsn, "postgresql://"):
		rest = strings.TrimPrefix(dsn, "postgresql://")
	default:
		return "", fmt.Errorf("dsn must be a postgres:// url")
	}
	sep := "?"
	if strings.Contains(rest, "?") {
		sep = "&"
	}
	return "pgx5://" + rest + sep + "x-migrations-table=schema_migrations_" + schema, nil
}
