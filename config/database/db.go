package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"storyboard/pkg/logger"

	_ "github.com/lib/pq"
)

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

// Handle holds the current connection pool. The pool can be attached or
// detached at runtime, so callers ask Configured before every use.
type Handle struct {
	db atomic.Pointer[sql.DB]
}

// NewHandle wraps db, which may be nil for a server running without a backend.
func NewHandle(db *sql.DB) *Handle {
	h := &Handle{}
	if db != nil {
		h.db.Store(db)
	}
	return h
}

func (h *Handle) DB() *sql.DB {
	return h.db.Load()
}

func (h *Handle) Configured() bool {
	return h.db.Load() != nil
}

// Set swaps in a new pool and returns the previous one (possibly nil) for the caller to close.
func (h *Handle) Set(db *sql.DB) *sql.DB {
	return h.db.Swap(db)
}

// Close detaches and closes the current pool.
func (h *Handle) Close() error {
	if db := h.db.Swap(nil); db != nil {
		return db.Close()
	}
	return nil
}

// Connect opens a Postgres pool and pings it, retrying a few times in case of
// temporary DNS/network blips.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}

	for i := 0; i < pingAttempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db, nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", pingBackoff, err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(pingBackoff):
		}
	}
	db.Close()
	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", pingAttempts, err)
}
