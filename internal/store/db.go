package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lexicon/api/internal/logger"
)

// PoolConfig sizes the connection pool. Zero fields take the defaults below.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectAttempts bounds the startup ping; postgres often comes up after
	// the API in compose setups.
	ConnectAttempts int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 20
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 1
	}
	return c
}

// Open connects through the pgx stdlib driver and pings until the database
// answers or the attempts run out.
func Open(ctx context.Context, databaseURL string, pool PoolConfig, log *logger.Logger) (*sql.DB, error) {
	if log == nil {
		log = logger.Nop()
	}
	pool = pool.withDefaults()

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if attempt >= pool.ConnectAttempts {
			_ = db.Close()
			return nil, fmt.Errorf("ping db after %d attempts: %w", attempt, err)
		}
		wait := time.Duration(attempt) * time.Second
		log.Warn("database not reachable yet", "attempt", attempt, "retry_in", wait.String(), "error", err)
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	log.Info("database connected", "max_open_conns", pool.MaxOpenConns, "max_idle_conns", pool.MaxIdleConns)
	return db, nil
}
