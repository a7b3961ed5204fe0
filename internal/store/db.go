// Package store provides the PostgreSQL persistence layer for the trigger
// pipeline: events, triggers and their relations, the idempotency ledger,
// trigger state, the dead letter queue, and action results.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/R3E-Network/triggerflow/infrastructure/config"
	"github.com/R3E-Network/triggerflow/infrastructure/errors"
)

// Open opens and verifies a PostgreSQL connection pool.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Database("open database", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Database("ping database", err)
	}

	return db, nil
}
