package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresClient stores telemetry history and auth events.
type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database))

	return &PostgresClient{pool: pool, logger: logger}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS telemetry_samples (
	id            UUID PRIMARY KEY,
	sampled_at    TIMESTAMPTZ NOT NULL,
	enabled       BOOLEAN NOT NULL,
	serial        TEXT NOT NULL,
	voltage_l1    INTEGER,
	voltage_l2    INTEGER,
	voltage_l3    INTEGER,
	current_l1    INTEGER,
	current_l2    INTEGER,
	current_l3    INTEGER,
	power         INTEGER NOT NULL,
	energy        BIGINT NOT NULL,
	state         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS telemetry_samples_sampled_at_idx ON telemetry_samples (sampled_at DESC);

CREATE TABLE IF NOT EXISTS auth_events (
	id          UUID PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	event_type  TEXT NOT NULL,
	username    TEXT NOT NULL,
	ip_address  TEXT NOT NULL,
	success     BOOLEAN NOT NULL,
	reason      TEXT NOT NULL DEFAULT ''
);
`

// EnsureSchema creates the tables if they do not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}
