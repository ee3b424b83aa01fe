package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "inkpath_schema_migrations"

// Migrator applies the embedded schema migrations through the pool.
type Migrator struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewMigrator(pool *pgxpool.Pool, logger zerolog.Logger) *Migrator {
	return &Migrator{pool: pool, logger: logger.With().Str("component", "migrator").Logger()}
}

// Up applies all pending migrations. Having nothing to apply is not an error.
func (m *Migrator) Up() error {
	mg, err := m.instance()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logger.Info().Msg("migrations applied")
	return nil
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	mg, err := m.instance()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	m.logger.Info().Msg("migrations rolled back")
	return nil
}

// Version reports the current schema version. A database that has never
// been migrated reports version 0.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	mg, err := m.instance()
	if err != nil {
		return 0, false, err
	}
	defer mg.Close()

	version, dirty, err = mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (m *Migrator) instance() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(m.pool)
	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{MigrationsTable: migrationsTable})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return mg, nil
}
