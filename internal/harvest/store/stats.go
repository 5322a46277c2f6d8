package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StatDate formats a timestamp as the UTC date string keying daily-stat
// rows.
func StatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// LookupOutcome classifies a cache lookup for the daily statistics.
type LookupOutcome string

const (
	// LookupHit: valid entry found, body served from cache.
	LookupHit LookupOutcome = "hit"
	// LookupMiss: no entry at all.
	LookupMiss LookupOutcome = "miss"
	// LookupExpired: an entry existed but its lifetime had passed.
	LookupExpired LookupOutcome = "expired"
	// LookupInvalidated: the entry was broken (blob file gone) and was
	// flipped invalid during the lookup.
	LookupInvalidated LookupOutcome = "invalidated"
)

// StatsSiteAll is the pseudo-site under which site-independent counters
// (cleanup totals) are recorded.
const StatsSiteAll = "all"

// outcomeColumns maps each lookup outcome to the daily-stat columns it
// bumps besides total_requests. Expired and invalidated lookups are also
// misses: the caller did not get a body from cache.
var outcomeColumns = map[LookupOutcome][]string{
	LookupHit:         {"cache_hits"},
	LookupMiss:        {"cache_misses"},
	LookupExpired:     {"cache_misses", "cache_expired"},
	LookupInvalidated: {"cache_misses", "cache_invalidated"},
}

// RecordLookup bumps the daily counters for one cache lookup. statDate is a
// UTC YYYY-MM-DD string.
func (s *Store) RecordLookup(ctx context.Context, site, statDate string, outcome LookupOutcome) error {
	columns, ok := outcomeColumns[outcome]
	if !ok {
		return fmt.Errorf("unknown lookup outcome %q", outcome)
	}

	insertCols := "site_name, stat_date, total_requests"
	insertVals := "?, ?, 1"
	updates := "total_requests = total_requests + 1"
	for _, col := range columns {
		insertCols += ", " + col
		insertVals += ", 1"
		updates += fmt.Sprintf(", %s = %s + 1", col, col)
	}

	query := fmt.Sprintf(
		`INSERT INTO cache_daily_stats (%s) VALUES (%s)
		 ON CONFLICT(site_name, stat_date) DO UPDATE SET %s`,
		insertCols, insertVals, updates)

	if _, err := s.db.ExecContext(ctx, query, site, statDate); err != nil {
		s.logger.Error("Daily stat update failed",
			zap.String("site", site),
			zap.String("date", statDate),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
		return fmt.Errorf("daily stat update failed: %w", err)
	}
	return nil
}

// EnsureDailyRow creates the zeroed daily row for a site if it does not
// exist yet. Cache stores call this so the day's row is present even before
// the first lookup of the day.
func (s *Store) EnsureDailyRow(ctx context.Context, site, statDate string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_daily_stats (site_name, stat_date) VALUES (?, ?)`,
		site, statDate)
	if err != nil {
		s.logger.Error("Daily row creation failed",
			zap.String("site", site),
			zap.String("date", statDate),
			zap.Error(err))
		return fmt.Errorf("daily row creation failed: %w", err)
	}
	return nil
}

// AddCleanupStats accumulates cleanup totals into the daily row for
// StatsSiteAll without touching the request counters.
func (s *Store) AddCleanupStats(ctx context.Context, statDate string, entriesCleaned, filesCleaned int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_daily_stats
			(site_name, stat_date, entries_cleaned, files_cleaned)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(site_name, stat_date) DO UPDATE SET
			entries_cleaned = entries_cleaned + excluded.entries_cleaned,
			files_cleaned = files_cleaned + excluded.files_cleaned`,
		StatsSiteAll, statDate, entriesCleaned, filesCleaned)
	if err != nil {
		s.logger.Error("Cleanup stat update failed",
			zap.String("date", statDate),
			zap.Error(err))
		return fmt.Errorf("cleanup stat update failed: %w", err)
	}
	return nil
}

// GetDailyStats returns the daily row for one site and date, or ErrNotFound.
func (s *Store) GetDailyStats(ctx context.Context, site, statDate string) (*DailyStats, error) {
	var row DailyStats
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM cache_daily_stats WHERE site_name = ? AND stat_date = ?`,
		site, statDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Daily stats lookup failed",
			zap.String("site", site),
			zap.String("date", statDate),
			zap.Error(err))
		return nil, fmt.Errorf("daily stats lookup failed: %w", err)
	}
	return &row, nil
}

// SumDailyStats aggregates the daily counters across all sites for one
// date. Rows under StatsSiteAll are included, so the result carries the
// cleanup totals too.
func (s *Store) SumDailyStats(ctx context.Context, statDate string) (*DailyStats, error) {
	var row DailyStats
	err := s.db.GetContext(ctx, &row,
		`SELECT
			0 AS id, '' AS site_name, ? AS stat_date,
			COALESCE(SUM(total_requests), 0) AS total_requests,
			COALESCE(SUM(cache_hits), 0) AS cache_hits,
			COALESCE(SUM(cache_misses), 0) AS cache_misses,
			COALESCE(SUM(cache_expired), 0) AS cache_expired,
			COALESCE(SUM(cache_invalidated), 0) AS cache_invalidated,
			COALESCE(SUM(entries_cleaned), 0) AS entries_cleaned,
			COALESCE(SUM(files_cleaned), 0) AS files_cleaned
		 FROM cache_daily_stats WHERE stat_date = ?`,
		statDate, statDate)
	if err != nil {
		s.logger.Error("Daily stats aggregation failed",
			zap.String("date", statDate),
			zap.Error(err))
		return nil, fmt.Errorf("daily stats aggregation failed: %w", err)
	}
	return &row, nil
}
