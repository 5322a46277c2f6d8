package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const validEntryQuery = `
	SELECT
		e.id AS entry_id,
		e.original_url, e.normalized_url, e.url_hash, e.site_name,
		e.page_type, e.cache_hits, e.first_cached_at, e.last_accessed_at,
		e.expires_at, e.content_id,
		c.http_status, c.file_uuid, c.content_hash, c.size_bytes,
		c.compression, c.parsed_data
	FROM cache_entries e
	JOIN cache_content c ON c.id = e.content_id
	WHERE e.url_hash = ? AND e.is_valid = 1 AND e.expires_at > ?`

// GetValidEntry returns the valid, unexpired entry for urlHash joined with
// its content row, or ErrNotFound.
func (s *Store) GetValidEntry(ctx context.Context, urlHash string, nowMs int64) (*EntryWithContent, error) {
	var row EntryWithContent
	err := s.db.GetContext(ctx, &row, validEntryQuery, urlHash, nowMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Cache entry lookup failed",
			zap.String("url_hash", urlHash),
			zap.Error(err))
		return nil, fmt.Errorf("cache entry lookup failed: %w", err)
	}
	return &row, nil
}

// HasExpiredEntry reports whether urlHash has a valid but expired entry.
// Lookups use this to classify a miss as "expired" for the daily stats.
func (s *Store) HasExpiredEntry(ctx context.Context, urlHash string, nowMs int64) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one,
		`SELECT 1 FROM cache_entries WHERE url_hash = ? AND is_valid = 1 AND expires_at <= ?`,
		urlHash, nowMs)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		s.logger.Error("Expired entry check failed",
			zap.String("url_hash", urlHash),
			zap.Error(err))
		return false, fmt.Errorf("expired entry check failed: %w", err)
	}
	return true, nil
}

// TouchEntry bumps the hit counter and access time of an entry.
func (s *Store) TouchEntry(ctx context.Context, entryID, nowMs int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET cache_hits = cache_hits + 1, last_accessed_at = ? WHERE id = ?`,
		nowMs, entryID)
	if err != nil {
		s.logger.Error("Cache entry touch failed",
			zap.Int64("entry_id", entryID),
			zap.Error(err))
		return fmt.Errorf("cache entry touch failed: %w", err)
	}
	return nil
}

// InvalidateEntry flips one entry invalid, typically after its blob file
// went missing.
func (s *Store) InvalidateEntry(ctx context.Context, entryID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET is_valid = 0 WHERE id = ?`, entryID)
	if err != nil {
		s.logger.Error("Cache entry invalidation failed",
			zap.Int64("entry_id", entryID),
			zap.Error(err))
		return fmt.Errorf("cache entry invalidation failed: %w", err)
	}
	return nil
}

// InvalidateByURLHash flips the entry for urlHash invalid and reports
// whether a row was affected.
func (s *Store) InvalidateByURLHash(ctx context.Context, urlHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET is_valid = 0 WHERE url_hash = ? AND is_valid = 1`, urlHash)
	if err != nil {
		s.logger.Error("Cache invalidation by hash failed",
			zap.String("url_hash", urlHash),
			zap.Error(err))
		return false, fmt.Errorf("cache invalidation failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FindContentByHash returns the content row for a body hash, or ErrNotFound.
// Store uses this for content-level deduplication.
func (s *Store) FindContentByHash(ctx context.Context, contentHash string) (*CacheContent, error) {
	var row CacheContent
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM cache_content WHERE content_hash = ?`, contentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Content lookup by hash failed",
			zap.String("content_hash", contentHash),
			zap.Error(err))
		return nil, fmt.Errorf("content lookup failed: %w", err)
	}
	return &row, nil
}

// InsertContent inserts a content row and returns its id.
func (s *Store) InsertContent(ctx context.Context, c *CacheContent) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_content
			(http_status, file_uuid, content_hash, size_bytes, compression,
			 parsed_data, fetch_duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.HTTPStatus, c.FileUUID, c.ContentHash, c.SizeBytes, c.Compression,
		c.ParsedData, c.FetchDurationMs, c.CreatedAt)
	if err != nil {
		s.logger.Error("Content insert failed",
			zap.String("file_uuid", c.FileUUID),
			zap.Error(err))
		return 0, fmt.Errorf("content insert failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("content insert id: %w", err)
	}
	return id, nil
}

// UpsertEntry inserts the entry or, when the url_hash already exists,
// points the existing row at the new content and refreshes its lifetime and
// validity. Returns the entry id.
func (s *Store) UpsertEntry(ctx context.Context, e *CacheEntry) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries
			(original_url, normalized_url, url_hash, site_name, page_type,
			 is_valid, cache_hits, first_cached_at, last_accessed_at, expires_at, content_id)
		 VALUES (?, ?, ?, ?, ?, 1, 0, ?, ?, ?, ?)
		 ON CONFLICT(url_hash) DO UPDATE SET
			original_url = excluded.original_url,
			site_name = excluded.site_name,
			page_type = excluded.page_type,
			is_valid = 1,
			last_accessed_at = excluded.last_accessed_at,
			expires_at = excluded.expires_at,
			content_id = excluded.content_id`,
		e.OriginalURL, e.NormalizedURL, e.URLHash, e.SiteName, e.PageType,
		e.FirstCachedAt, e.LastAccessedAt, e.ExpiresAt, e.ContentID)
	if err != nil {
		s.logger.Error("Cache entry upsert failed",
			zap.String("url_hash", e.URLHash),
			zap.Error(err))
		return 0, fmt.Errorf("cache entry upsert failed: %w", err)
	}

	var id int64
	if err := s.db.GetContext(ctx, &id,
		`SELECT id FROM cache_entries WHERE url_hash = ?`, e.URLHash); err != nil {
		return 0, fmt.Errorf("cache entry id lookup failed: %w", err)
	}
	return id, nil
}

// ExpireEntries flips every valid entry whose lifetime has passed and
// returns how many were expired.
func (s *Store) ExpireEntries(ctx context.Context, nowMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET is_valid = 0 WHERE is_valid = 1 AND expires_at <= ?`, nowMs)
	if err != nil {
		s.logger.Error("Entry expiry sweep failed", zap.Error(err))
		return 0, fmt.Errorf("entry expiry sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ValidFileRefs snapshots the blob files referenced by at least one valid
// entry. The cleanup orphan sweep treats files outside this set as garbage.
func (s *Store) ValidFileRefs(ctx context.Context) ([]FileRef, error) {
	var refs []FileRef
	err := s.db.SelectContext(ctx, &refs,
		`SELECT DISTINCT c.file_uuid, c.compression
		 FROM cache_content c
		 JOIN cache_entries e ON e.content_id = c.id
		 WHERE e.is_valid = 1`)
	if err != nil {
		s.logger.Error("Valid file snapshot failed", zap.Error(err))
		return nil, fmt.Errorf("valid file snapshot failed: %w", err)
	}
	return refs, nil
}

// InvalidateByFileUUID flips every entry whose content references the given
// blob file. Used when a file is removed by age or size sweeps.
func (s *Store) InvalidateByFileUUID(ctx context.Context, fileUUID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET is_valid = 0
		 WHERE is_valid = 1
		   AND content_id IN (SELECT id FROM cache_content WHERE file_uuid = ?)`,
		fileUUID)
	if err != nil {
		s.logger.Error("Invalidation by file failed",
			zap.String("file_uuid", fileUUID),
			zap.Error(err))
		return 0, fmt.Errorf("invalidation by file failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// LRUCandidates returns all valid entries joined with their blob info,
// least recently accessed first.
func (s *Store) LRUCandidates(ctx context.Context) ([]LRUCandidate, error) {
	var rows []LRUCandidate
	err := s.db.SelectContext(ctx, &rows,
		`SELECT e.id AS entry_id, e.content_id, c.file_uuid, c.compression,
			c.size_bytes, e.last_accessed_at
		 FROM cache_entries e
		 JOIN cache_content c ON c.id = e.content_id
		 WHERE e.is_valid = 1
		 ORDER BY e.last_accessed_at ASC`)
	if err != nil {
		s.logger.Error("LRU candidate query failed", zap.Error(err))
		return nil, fmt.Errorf("lru candidate query failed: %w", err)
	}
	return rows, nil
}

// DeleteEntriesWithoutContent removes entry rows whose content row is gone.
// With cascading deletes this is normally a no-op, but it keeps the table
// consistent if content rows were removed out of band.
func (s *Store) DeleteEntriesWithoutContent(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries
		 WHERE content_id NOT IN (SELECT id FROM cache_content)`)
	if err != nil {
		s.logger.Error("Dangling entry sweep failed", zap.Error(err))
		return 0, fmt.Errorf("dangling entry sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteUnreferencedContent removes content rows no valid entry references.
// Invalid entries still pointing at them are removed by the cascade.
func (s *Store) DeleteUnreferencedContent(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_content
		 WHERE id NOT IN (SELECT DISTINCT content_id FROM cache_entries WHERE is_valid = 1)`)
	if err != nil {
		s.logger.Error("Unreferenced content sweep failed", zap.Error(err))
		return 0, fmt.Errorf("unreferenced content sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountValidEntries returns how many entries are currently valid.
func (s *Store) CountValidEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM cache_entries WHERE is_valid = 1`); err != nil {
		s.logger.Error("Valid entry count failed", zap.Error(err))
		return 0, fmt.Errorf("valid entry count failed: %w", err)
	}
	return n, nil
}

// CountContent returns the number of content rows.
func (s *Store) CountContent(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM cache_content`); err != nil {
		s.logger.Error("Content count failed", zap.Error(err))
		return 0, fmt.Errorf("content count failed: %w", err)
	}
	return n, nil
}

// TotalContentBytes sums the uncompressed body sizes of content rows still
// referenced by valid entries.
func (s *Store) TotalContentBytes(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM cache_content
		 WHERE id IN (SELECT DISTINCT content_id FROM cache_entries WHERE is_valid = 1)`)
	if err != nil {
		s.logger.Error("Content size sum failed", zap.Error(err))
		return 0, fmt.Errorf("content size sum failed: %w", err)
	}
	return n, nil
}
