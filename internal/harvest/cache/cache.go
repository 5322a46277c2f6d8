// Package cache is the split-store page cache: metadata and indexing live
// in SQLite, bodies live as UUID-named files under one cache root. Lookups
// and stores canonicalize URLs themselves, so callers always hand in the
// raw URL they saw.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/canonical"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// Hit is a successful cache lookup.
type Hit struct {
	Body       []byte
	ParsedData []byte // nil when the content row has none
	HTTPStatus int
	CacheID    int64 // content row id
	Age        time.Duration
}

// StoreOptions carries the optional parts of a store call.
type StoreOptions struct {
	ParsedData    []byte
	FetchDuration time.Duration
}

// Stats is the read-only cache report for the ops surface.
type Stats struct {
	TotalEntries  int64   `json:"total_entries"`
	FileCount     int     `json:"file_count"`
	FileBytes     int64   `json:"file_bytes"`
	TodayRequests int64   `json:"today_requests"`
	TodayHits     int64   `json:"today_hits"`
	TodayMisses   int64   `json:"today_misses"`
	HitRate       float64 `json:"hit_rate"`
}

// Cache coordinates the metadata store and the blob directory.
type Cache struct {
	store  *store.Store
	blobs  *BlobStore
	canon  *canonical.Canonicalizer
	clock  clock.Clock
	cfg    configtypes.CacheConfig
	logger *zap.Logger
}

func New(st *store.Store, blobs *BlobStore, canon *canonical.Canonicalizer, clk clock.Clock, cfg configtypes.CacheConfig, logger *zap.Logger) *Cache {
	return &Cache{
		store:  st,
		blobs:  blobs,
		canon:  canon,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
	}
}

// Blobs exposes the blob directory, mainly for the ops surface.
func (c *Cache) Blobs() *BlobStore { return c.blobs }

// Lookup returns the cached page for rawURL or nil on a miss. It never
// fails upward: database and filesystem trouble is logged, counted as a
// miss and the caller proceeds to fetch. An entry whose blob is missing or
// unreadable is invalidated in place.
func (c *Cache) Lookup(ctx context.Context, rawURL, site string, pageType types.PageType) *Hit {
	res := c.canon.Canonicalize(rawURL, site)
	now := c.clock.Now()
	nowMs := now.UnixMilli()
	date := store.StatDate(now)

	row, err := c.store.GetValidEntry(ctx, res.URLHash, nowMs)
	if errors.Is(err, store.ErrNotFound) {
		outcome := store.LookupMiss
		if expired, eerr := c.store.HasExpiredEntry(ctx, res.URLHash, nowMs); eerr == nil && expired {
			outcome = store.LookupExpired
		}
		c.recordLookup(ctx, site, date, outcome)
		return nil
	}
	if err != nil {
		// Database trouble reads as a miss so the fetch path still works.
		c.recordLookup(ctx, site, date, store.LookupMiss)
		return nil
	}

	// Error already logged by the store; the hit is still servable.
	_ = c.store.TouchEntry(ctx, row.EntryID, nowMs)

	body, err := c.blobs.Read(row.FileUUID, row.Compression)
	if err != nil {
		c.logger.Warn("Cache blob unreadable, invalidating entry",
			zap.String("url_hash", row.URLHash),
			zap.String("file_uuid", row.FileUUID),
			zap.Error(err))
		_ = c.store.InvalidateEntry(ctx, row.EntryID)
		c.recordLookup(ctx, site, date, store.LookupInvalidated)
		return nil
	}

	_ = c.blobs.TouchAccess(row.FileUUID, row.Compression, now)

	c.recordLookup(ctx, site, date, store.LookupHit)

	hit := &Hit{
		Body:       body,
		HTTPStatus: row.HTTPStatus,
		CacheID:    row.ContentID,
		Age:        time.Duration(nowMs-row.FirstCachedAt) * time.Millisecond,
	}
	if row.ParsedData.Valid {
		hit.ParsedData = []byte(row.ParsedData.String)
	}

	c.logger.Debug("Cache hit",
		zap.String("site", site),
		zap.String("url", res.NormalizedURL),
		zap.Duration("age", hit.Age))
	return hit
}

// Store caches one fetched page and returns the content row id. Bodies are
// deduplicated by SHA-256: a body already on disk is not written again,
// the entry just points at the existing content row. The blob file is
// written before the content row is committed, so a crash in between
// leaves an orphan file for the cleanup sweep, never a dangling row.
func (c *Cache) Store(ctx context.Context, rawURL, site string, pageType types.PageType, httpStatus int, body []byte, opts StoreOptions) (int64, error) {
	res := c.canon.Canonicalize(rawURL, site)
	now := c.clock.Now()
	nowMs := now.UnixMilli()

	sum := sha256.Sum256(body)
	contentHash := hex.EncodeToString(sum[:])

	contentID, err := c.ensureContent(ctx, contentHash, httpStatus, body, opts, nowMs)
	if err != nil {
		return 0, err
	}

	entryID, err := c.store.UpsertEntry(ctx, &store.CacheEntry{
		OriginalURL:    res.OriginalURL,
		NormalizedURL:  res.NormalizedURL,
		URLHash:        res.URLHash,
		SiteName:       site,
		PageType:       string(pageType),
		FirstCachedAt:  nowMs,
		LastAccessedAt: nowMs,
		ExpiresAt:      now.Add(c.ttlFor(pageType)).UnixMilli(),
		ContentID:      contentID,
	})
	if err != nil {
		return 0, err
	}

	// Errors already logged by the store.
	_ = c.store.EnsureDailyRow(ctx, site, store.StatDate(now))

	c.logger.Debug("Cached page",
		zap.String("site", site),
		zap.String("url", res.NormalizedURL),
		zap.String("page_type", string(pageType)),
		zap.Int64("entry_id", entryID),
		zap.Int64("content_id", contentID),
		zap.Int("body_bytes", len(body)))
	return contentID, nil
}

// ensureContent finds the content row for contentHash or creates it,
// writing the blob file first.
func (c *Cache) ensureContent(ctx context.Context, contentHash string, httpStatus int, body []byte, opts StoreOptions, nowMs int64) (int64, error) {
	existing, err := c.store.FindContentByHash(ctx, contentHash)
	if err == nil {
		c.logger.Debug("Content deduplicated",
			zap.String("content_hash", contentHash),
			zap.String("file_uuid", existing.FileUUID))
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	blob, applied, err := compress(body, c.cfg.Compression)
	if err != nil {
		return 0, err
	}

	fileUUID := uuid.New().String()
	if err := c.blobs.Write(fileUUID, applied, blob); err != nil {
		return 0, err
	}

	row := &store.CacheContent{
		HTTPStatus:  httpStatus,
		FileUUID:    fileUUID,
		ContentHash: contentHash,
		SizeBytes:   int64(len(blob)),
		Compression: applied,
		CreatedAt:   nowMs,
	}
	if len(opts.ParsedData) > 0 {
		row.ParsedData = sql.NullString{String: string(opts.ParsedData), Valid: true}
	}
	if opts.FetchDuration > 0 {
		row.FetchDurationMs = sql.NullInt64{Int64: opts.FetchDuration.Milliseconds(), Valid: true}
	}

	contentID, err := c.store.InsertContent(ctx, row)
	if err != nil {
		// Another worker may have stored the same body between the dedup
		// check and the insert. Reuse its row and drop our duplicate file.
		if again, ferr := c.store.FindContentByHash(ctx, contentHash); ferr == nil {
			_, _ = c.blobs.Remove(fileUUID, applied)
			return again.ID, nil
		}
		// Blob written but row not committed: the orphan sweep reclaims it.
		return 0, err
	}
	return contentID, nil
}

// Invalidate flips the entry for rawURL invalid. Returns whether an entry
// was actually flipped.
func (c *Cache) Invalidate(ctx context.Context, rawURL, site string) (bool, error) {
	res := c.canon.Canonicalize(rawURL, site)

	flipped, err := c.store.InvalidateByURLHash(ctx, res.URLHash)
	if err != nil {
		return false, err
	}
	if flipped {
		c.logger.Info("Cache entry invalidated",
			zap.String("site", site),
			zap.String("url", res.NormalizedURL))
	}
	return flipped, nil
}

// Stats assembles the cache report: live entry count, blob directory
// usage and today's lookup counters.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	entries, err := c.store.CountValidEntries(ctx)
	if err != nil {
		return nil, err
	}

	files, bytes, err := c.blobs.Usage()
	if err != nil {
		return nil, err
	}

	today, err := c.store.SumDailyStats(ctx, store.StatDate(c.clock.Now()))
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalEntries:  entries,
		FileCount:     files,
		FileBytes:     bytes,
		TodayRequests: today.TotalRequests,
		TodayHits:     today.CacheHits,
		TodayMisses:   today.CacheMisses,
	}
	if stats.TodayRequests > 0 {
		stats.HitRate = float64(stats.TodayHits) / float64(stats.TodayRequests)
	}
	return stats, nil
}

func (c *Cache) ttlFor(pageType types.PageType) time.Duration {
	return TTLFor(c.cfg, pageType)
}

// TTLFor resolves the cache lifetime a page type gets under cfg, falling
// back to the built-in defaults where the config leaves one unset.
func TTLFor(cfg configtypes.CacheConfig, pageType types.PageType) time.Duration {
	var d time.Duration
	switch pageType {
	case types.PageTypeList:
		d = cfg.TTL.List.ToDuration()
	case types.PageTypeDetail:
		d = cfg.TTL.Detail.ToDuration()
	case types.PageTypeImage:
		d = cfg.TTL.Image.ToDuration()
	}
	if d <= 0 {
		d = pageType.DefaultTTL()
	}
	return d
}

func (c *Cache) recordLookup(ctx context.Context, site, date string, outcome store.LookupOutcome) {
	// Errors already logged by the store; stats must never break lookups.
	_ = c.store.RecordLookup(ctx, site, date, outcome)
}
