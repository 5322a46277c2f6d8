package store

import "database/sql"

// CacheEntry is one row of cache_entries: the identity of a cached URL.
type CacheEntry struct {
	ID             int64  `db:"id"`
	OriginalURL    string `db:"original_url"`
	NormalizedURL  string `db:"normalized_url"`
	URLHash        string `db:"url_hash"`
	SiteName       string `db:"site_name"`
	PageType       string `db:"page_type"`
	IsValid        bool   `db:"is_valid"`
	CacheHits      int64  `db:"cache_hits"`
	FirstCachedAt  int64  `db:"first_cached_at"`
	LastAccessedAt int64  `db:"last_accessed_at"`
	ExpiresAt      int64  `db:"expires_at"`
	ContentID      int64  `db:"content_id"`
}

// CacheContent is one row of cache_content: a deduplicated body blob
// reference. Many entries may share one content row.
type CacheContent struct {
	ID              int64          `db:"id"`
	HTTPStatus      int            `db:"http_status"`
	FileUUID        string         `db:"file_uuid"`
	ContentHash     string         `db:"content_hash"`
	SizeBytes       int64          `db:"size_bytes"`
	Compression     string         `db:"compression"`
	ParsedData      sql.NullString `db:"parsed_data"`
	FetchDurationMs sql.NullInt64  `db:"fetch_duration_ms"`
	CreatedAt       int64          `db:"created_at"`
}

// EntryWithContent is the joined row returned by cache lookups.
type EntryWithContent struct {
	EntryID        int64          `db:"entry_id"`
	OriginalURL    string         `db:"original_url"`
	NormalizedURL  string         `db:"normalized_url"`
	URLHash        string         `db:"url_hash"`
	SiteName       string         `db:"site_name"`
	PageType       string         `db:"page_type"`
	CacheHits      int64          `db:"cache_hits"`
	FirstCachedAt  int64          `db:"first_cached_at"`
	LastAccessedAt int64          `db:"last_accessed_at"`
	ExpiresAt      int64          `db:"expires_at"`
	ContentID      int64          `db:"content_id"`
	HTTPStatus     int            `db:"http_status"`
	FileUUID       string         `db:"file_uuid"`
	ContentHash    string         `db:"content_hash"`
	SizeBytes      int64          `db:"size_bytes"`
	Compression    string         `db:"compression"`
	ParsedData     sql.NullString `db:"parsed_data"`
}

// FileRef identifies one blob file on disk.
type FileRef struct {
	FileUUID    string `db:"file_uuid"`
	Compression string `db:"compression"`
}

// LRUCandidate is one eviction candidate for the size sweep, ordered by
// least recent access.
type LRUCandidate struct {
	EntryID        int64  `db:"entry_id"`
	ContentID      int64  `db:"content_id"`
	FileUUID       string `db:"file_uuid"`
	Compression    string `db:"compression"`
	SizeBytes      int64  `db:"size_bytes"`
	LastAccessedAt int64  `db:"last_accessed_at"`
}

// RateLimitRow is one row of rate_limit_configs.
type RateLimitRow struct {
	ID                int64  `db:"id"`
	SiteName          string `db:"site_name"`
	Budget            int    `db:"budget"`
	PeriodSeconds     int    `db:"period_seconds"`
	ConcurrentLimit   int    `db:"concurrent_limit"`
	RetryAfterSeconds int    `db:"retry_after_seconds"`
	UpdatedAt         int64  `db:"updated_at"`
}

// RequestEvent is one row of the append-only request journal.
type RequestEvent struct {
	ID               int64          `db:"id"`
	SiteName         string         `db:"site_name"`
	RequestTimestamp int64          `db:"request_timestamp"`
	Status           string         `db:"status"`
	ResponseTimeMs   sql.NullInt64  `db:"response_time_ms"`
	ErrorMessage     sql.NullString `db:"error_message"`
	FromCache        bool           `db:"from_cache"`
}

// WindowStats aggregates the request journal over one sliding window.
type WindowStats struct {
	InWindow      int64   `db:"in_window"`
	Failed        int64   `db:"failed"`
	Cached        int64   `db:"cached"`
	AvgResponseMs float64 `db:"avg_response_ms"`
}

// DailyStats is one row of cache_daily_stats.
type DailyStats struct {
	ID               int64  `db:"id"`
	SiteName         string `db:"site_name"`
	StatDate         string `db:"stat_date"`
	TotalRequests    int64  `db:"total_requests"`
	CacheHits        int64  `db:"cache_hits"`
	CacheMisses      int64  `db:"cache_misses"`
	CacheExpired     int64  `db:"cache_expired"`
	CacheInvalidated int64  `db:"cache_invalidated"`
	EntriesCleaned   int64  `db:"entries_cleaned"`
	FilesCleaned     int64  `db:"files_cleaned"`
}

// SessionRow is one row of harvest_sessions.
type SessionRow struct {
	ID             int64          `db:"id"`
	SessionID      string         `db:"session_id"`
	SiteName       string         `db:"site_name"`
	SessionType    string         `db:"session_type"`
	Status         string         `db:"status"`
	StartedAt      int64          `db:"started_at"`
	FinishedAt     sql.NullInt64  `db:"finished_at"`
	PagesFetched   int64          `db:"pages_fetched"`
	PagesFromCache int64          `db:"pages_from_cache"`
	PagesFailed    int64          `db:"pages_failed"`
	ErrorMessage   sql.NullString `db:"error_message"`
}
