package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// GetRateLimit returns the rate-limit configuration for a site, or
// ErrNotFound when the site has no row.
func (s *Store) GetRateLimit(ctx context.Context, site string) (*RateLimitRow, error) {
	var row RateLimitRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM rate_limit_configs WHERE site_name = ?`, site)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Rate limit lookup failed",
			zap.String("site", site),
			zap.Error(err))
		return nil, fmt.Errorf("rate limit lookup failed: %w", err)
	}
	return &row, nil
}

// UpsertRateLimit writes a rate-limit configuration, replacing any existing
// row for the site. Startup pushes config-file budgets through here so the
// file wins over seeds and stale rows.
func (s *Store) UpsertRateLimit(ctx context.Context, row *RateLimitRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limit_configs
			(site_name, budget, period_seconds, concurrent_limit, retry_after_seconds, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(site_name) DO UPDATE SET
			budget = excluded.budget,
			period_seconds = excluded.period_seconds,
			concurrent_limit = excluded.concurrent_limit,
			retry_after_seconds = excluded.retry_after_seconds,
			updated_at = excluded.updated_at`,
		row.SiteName, row.Budget, row.PeriodSeconds, row.ConcurrentLimit,
		row.RetryAfterSeconds, row.UpdatedAt)
	if err != nil {
		s.logger.Error("Rate limit upsert failed",
			zap.String("site", row.SiteName),
			zap.Error(err))
		return fmt.Errorf("rate limit upsert failed: %w", err)
	}
	return nil
}

// ListRateLimits returns every rate-limit row, ordered by site name.
func (s *Store) ListRateLimits(ctx context.Context) ([]RateLimitRow, error) {
	var rows []RateLimitRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM rate_limit_configs ORDER BY site_name`)
	if err != nil {
		s.logger.Error("Rate limit list failed", zap.Error(err))
		return nil, fmt.Errorf("rate limit list failed: %w", err)
	}
	return rows, nil
}
