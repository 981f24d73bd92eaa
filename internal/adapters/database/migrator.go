package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type migrator struct {
	db *sqlx.DB

	logger *slog.Logger
}

func NewDatabaseMigrator(db *sqlx.DB, logger *slog.Logger) *migrator {
	return &migrator{
		db:     db,
		logger: logger,
	}
}

// Migrate creates schemaName if needed and applies all pending migrations to it
func (m *migrator) Migrate(ctx context.Context, schemaName string) error {
	if schemaName == "" {
		return fmt.Errorf("migrate: schema name is empty")
	}

	migratorInstance, closeInstance, err := m.newInstance(ctx, schemaName)
	if err != nil {
		return err
	}
	defer closeInstance()

	logger := m.logger.With("schema", schemaName)

	logger.InfoContext(ctx, "Starting migrations...")
	if err := migratorInstance.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate: failed to migrate: %w", err)
		}
		logger.InfoContext(ctx, "No migrations to run.")
	}

	version, dirty, err := migratorInstance.Version()
	if err != nil {
		return fmt.Errorf("migrate: failed to read version: %w", err)
	}
	logger.InfoContext(ctx, "Migrations completed successfully.", "version", version, "dirty", dirty)

	return nil
}

// newInstance binds a migrate instance to a dedicated connection with search_path set to schemaName
func (m *migrator) newInstance(ctx context.Context, schemaName string) (*migrate.Migrate, func(), error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("migrate: failed to connect to db: %w", err)
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to create schema: %w", err)
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to set search path: %w", err)
	}

	migrationSource, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to create driver from embedded migrations: %w", err)
	}

	dbDriver, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		DatabaseName: DB_NAME,
		SchemaName:   schemaName,
	})
	if err != nil {
		migrationSource.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to create postgres driver: %w", err)
	}

	migratorInstance, err := migrate.NewWithInstance("iofs", migrationSource, "postgres", dbDriver)
	if err != nil {
		migrationSource.Close()
		dbDriver.Close()
		return nil, nil, fmt.Errorf("migrate: failed to create migration instance: %w", err)
	}

	return migratorInstance, func() {
		// Closes both the source and the driver, which owns conn
		migratorInstance.Close()
	}, nil
}
