package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	maxRetries    = 5
	retryInterval = 2 * time.Second
)

// NewPool connects to Postgres, retrying while the database comes up.
func NewPool(ctx context.Context, databaseURL string, maxConns int32, logger zerolog.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = maxConns
	config.MinConns = 2
	if config.MinConns > maxConns {
		config.MinConns = maxConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				logger.Info().Int32("max_conns", maxConns).Msg("database connected")
				return pool, nil
			} else {
				pool.Close()
				err = pingErr
			}
		}

		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxRetries).
			Msg("database connection attempt failed")
		if attempt < maxRetries {
			select {
			case <-time.After(retryInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("database connection failed after %d attempts: %w", maxRetries, err)
}
