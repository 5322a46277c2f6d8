package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Schema statements. Every statement is idempotent so migrate can run at
// each startup. Timestamps are epoch milliseconds (UTC); stat_date is a
// UTC YYYY-MM-DD string.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cache_content (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		http_status INTEGER NOT NULL DEFAULT 200,
		file_uuid TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL UNIQUE,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		compression TEXT NOT NULL DEFAULT 'none',
		parsed_data TEXT,
		fetch_duration_ms INTEGER,
		created_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS cache_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		original_url TEXT NOT NULL,
		normalized_url TEXT NOT NULL UNIQUE,
		url_hash TEXT NOT NULL UNIQUE,
		site_name TEXT NOT NULL,
		page_type TEXT NOT NULL DEFAULT 'list',
		is_valid INTEGER NOT NULL DEFAULT 1,
		cache_hits INTEGER NOT NULL DEFAULT 0,
		first_cached_at INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		content_id INTEGER NOT NULL REFERENCES cache_content(id) ON DELETE CASCADE
	)`,

	`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at
		ON cache_entries(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_last_accessed
		ON cache_entries(last_accessed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_content_id
		ON cache_entries(content_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_site
		ON cache_entries(site_name)`,

	`CREATE TABLE IF NOT EXISTS rate_limit_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_name TEXT NOT NULL UNIQUE,
		budget INTEGER NOT NULL,
		period_seconds INTEGER NOT NULL,
		concurrent_limit INTEGER NOT NULL DEFAULT 1,
		retry_after_seconds INTEGER NOT NULL DEFAULT 60,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS request_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_name TEXT NOT NULL,
		request_timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		response_time_ms INTEGER,
		error_message TEXT,
		from_cache INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_request_events_site_ts
		ON request_events(site_name, request_timestamp)`,

	`CREATE TABLE IF NOT EXISTS cache_daily_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_name TEXT NOT NULL,
		stat_date TEXT NOT NULL,
		total_requests INTEGER NOT NULL DEFAULT 0,
		cache_hits INTEGER NOT NULL DEFAULT 0,
		cache_misses INTEGER NOT NULL DEFAULT 0,
		cache_expired INTEGER NOT NULL DEFAULT 0,
		cache_invalidated INTEGER NOT NULL DEFAULT 0,
		entries_cleaned INTEGER NOT NULL DEFAULT 0,
		files_cleaned INTEGER NOT NULL DEFAULT 0,
		UNIQUE(site_name, stat_date)
	)`,

	`CREATE TABLE IF NOT EXISTS harvest_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		site_name TEXT NOT NULL,
		session_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		pages_fetched INTEGER NOT NULL DEFAULT 0,
		pages_from_cache INTEGER NOT NULL DEFAULT 0,
		pages_failed INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_harvest_sessions_started
		ON harvest_sessions(started_at)`,
}

// seedRateLimit is a conservative default budget for a known listing site.
type seedRateLimit struct {
	site    string
	budget  int
	periodS int
}

// Default budgets: requests per 5-minute window. Config file values win
// over these at startup.
var rateLimitSeeds = []seedRateLimit{
	{"athome", 60, 300},
	{"suumo", 30, 300},
	{"ieichiba", 20, 300},
	{"zero_estate", 10, 300},
	{"jmty", 20, 300},
	{"homes", 30, 300},
	{"rakuten", 30, 300},
	{"default", 60, 300},
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	nowMs := time.Now().UTC().UnixMilli()
	for _, seed := range rateLimitSeeds {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO rate_limit_configs
				(site_name, budget, period_seconds, concurrent_limit, retry_after_seconds, updated_at)
			 VALUES (?, ?, ?, 1, 60, ?)`,
			seed.site, seed.budget, seed.periodS, nowMs)
		if err != nil {
			return fmt.Errorf("seeding rate limit for %s failed: %w", seed.site, err)
		}
	}

	s.logger.Debug("Schema migration complete",
		zap.Int("statements", len(schemaStatements)),
		zap.Int("rate_limit_seeds", len(rateLimitSeeds)))

	return nil
}
