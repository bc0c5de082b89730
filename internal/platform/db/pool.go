package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Health reports database reachability plus basic pool stats, for the
// readiness endpoint.
type Health struct {
	Reachable bool  `json:"reachable"`
	TotalConns int32 `json:"total_conns"`
	IdleConns  int32 `json:"idle_conns"`
}

func CheckHealth(ctx context.Context, pool *pgxpool.Pool) Health {
	h := Health{}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err == nil {
		h.Reachable = true
	}
	stat := pool.Stat()
	h.TotalConns = stat.TotalConns()
	h.IdleConns = stat.IdleConns()
	return h
}
