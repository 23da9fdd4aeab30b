package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pingTimeout = 5 * time.Second

// PoolConfig tunes the connection pool. Zero values keep pgxpool defaults.
type PoolConfig struct {
	MaxConns          int32
	HealthCheckPeriod time.Duration
	// AppName is reported to Postgres as application_name.
	AppName string
}

// New opens a pool against dsn and fails unless the server answers a ping.
func New(ctx context.Context, dsn string, tune PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse dsn: %w", err)
	}
	tune.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("platform/db: open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}
	return pool, nil
}

func (t PoolConfig) apply(cfg *pgxpool.Config) {
	if t.MaxConns > 0 {
		cfg.MaxConns = t.MaxConns
	}
	if t.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = t.HealthCheckPeriod
	}
	name := t.AppName
	if name == "" {
		name = "branchledger"
	}
	if _, set := cfg.ConnConfig.RuntimeParams["application_name"]; !set {
		cfg.ConnConfig.RuntimeParams["application_name"] = name
	}
}
