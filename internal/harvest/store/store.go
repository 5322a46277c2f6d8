// Package store is the SQLite persistence layer for the harvesting
// substrate: cache metadata, rate-limit configuration, the request-event
// journal, daily statistics and harvest sessions.
//
// The store is deliberately time-free: callers pass epoch-millisecond
// timestamps in, which keeps sliding-window and expiry logic testable with
// an injected clock.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite handle with typed queries.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the SQLite database at cfg.DBPath,
// applies the schema and seeds the default rate limits. The database runs
// in WAL mode with foreign keys on, so one writer and many readers can
// share it.
func Open(ctx context.Context, cfg configtypes.StorageConfig, logger *zap.Logger) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("storage: db_path is required")
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.ToDuration())

	s := &Store{db: db, logger: logger}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migration failed: %w", err)
	}

	logger.Info("Database opened",
		zap.String("path", cfg.DBPath),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return s, nil
}

// NewWithDB wraps an existing database handle. Tests use this to inject
// sqlmock connections; the schema is assumed to be present.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func buildDSN(cfg configtypes.StorageConfig) string {
	busyMs := cfg.BusyTimeout.ToDuration().Milliseconds()
	if busyMs <= 0 {
		busyMs = 5000
	}

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", fmt.Sprintf("%d", busyMs))
	params.Set("_foreign_keys", "on")
	params.Set("_synchronous", "NORMAL")

	return fmt.Sprintf("file:%s?%s", cfg.DBPath, params.Encode())
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(pingCtx); err != nil {
		s.logger.Error("Database ping failed", zap.Error(err))
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
