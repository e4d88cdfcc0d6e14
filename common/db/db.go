// Package db owns the pgx connection pools. The entity store and the
// checkpoint store are separate pools even when they point at the same
// database, so checkpoint write bursts cannot starve API queries.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/logger"
)

const (
	defaultMaxConns = 10
	pingTimeout     = 5 * time.Second
	healthTimeout   = 3 * time.Second
)

// DB wraps a pgxpool.Pool with transaction and health helpers.
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New creates a connection pool against the primary database
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	return connect(ctx, cfg.Database.URL, cfg, log)
}

// NewCheckpoint creates a connection pool against the checkpoint store.
// When no dedicated store is configured this is a second pool on the
// primary database.
func NewCheckpoint(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	return connect(ctx, cfg.CheckpointURL(), cfg, log)
}

func connect(ctx context.Context, url string, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = defaultMaxConns
	}
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected",
		"host", poolConfig.ConnConfig.Host,
		"db", poolConfig.ConnConfig.Database,
		"max_conns", poolConfig.MaxConns,
	)

	return &DB{Pool: pool, log: log}, nil
}

// WithTx runs fn inside a transaction. A non-nil error from fn (or a
// panic) rolls back; otherwise the transaction commits.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	return db.Pool.Ping(ctx)
}
