package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// InsertRequestEvent appends one event to the request journal.
func (s *Store) InsertRequestEvent(ctx context.Context, ev *RequestEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_events
			(site_name, request_timestamp, status, response_time_ms, error_message, from_cache)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SiteName, ev.RequestTimestamp, ev.Status, ev.ResponseTimeMs, ev.ErrorMessage, ev.FromCache)
	if err != nil {
		s.logger.Error("Request event insert failed",
			zap.String("site", ev.SiteName),
			zap.String("status", ev.Status),
			zap.Error(err))
		return fmt.Errorf("request event insert failed: %w", err)
	}
	return nil
}

// WindowState returns the number of budget-consuming events for a site
// since sinceMs and the timestamp of the oldest one. Only successful
// network fetches consume budget: failures and cache hits do not count.
func (s *Store) WindowState(ctx context.Context, site string, sinceMs int64) (count int64, oldestMs int64, err error) {
	row := struct {
		Count  int64 `db:"count"`
		Oldest int64 `db:"oldest"`
	}{}

	err = s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS count, COALESCE(MIN(request_timestamp), 0) AS oldest
		 FROM request_events
		 WHERE site_name = ? AND request_timestamp >= ?
		   AND status = 'success' AND from_cache = 0`,
		site, sinceMs)
	if err != nil {
		s.logger.Error("Window state query failed",
			zap.String("site", site),
			zap.Error(err))
		return 0, 0, fmt.Errorf("window state query failed: %w", err)
	}
	return row.Count, row.Oldest, nil
}

// GetWindowStats aggregates the journal for a site since sinceMs: budgeted
// fetches, failures, cache hits and the mean response time.
func (s *Store) GetWindowStats(ctx context.Context, site string, sinceMs int64) (*WindowStats, error) {
	var stats WindowStats
	err := s.db.GetContext(ctx, &stats,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'success' AND from_cache = 0) AS in_window,
			COUNT(*) FILTER (WHERE status != 'success') AS failed,
			COUNT(*) FILTER (WHERE from_cache = 1) AS cached,
			COALESCE(AVG(response_time_ms) FILTER (WHERE response_time_ms IS NOT NULL AND from_cache = 0), 0) AS avg_response_ms
		 FROM request_events
		 WHERE site_name = ? AND request_timestamp >= ?`,
		site, sinceMs)
	if err != nil {
		s.logger.Error("Window stats query failed",
			zap.String("site", site),
			zap.Error(err))
		return nil, fmt.Errorf("window stats query failed: %w", err)
	}
	return &stats, nil
}

// PruneEvents deletes journal rows older than beforeMs and returns how many
// were removed. The journal only needs to cover the widest rate-limit
// window; cleanup trims the rest.
func (s *Store) PruneEvents(ctx context.Context, beforeMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM request_events WHERE request_timestamp < ?`, beforeMs)
	if err != nil {
		s.logger.Error("Event journal prune failed", zap.Error(err))
		return 0, fmt.Errorf("event journal prune failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
