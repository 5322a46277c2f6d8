package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
)

// writeGrace protects very young files from the orphan sweep: a store may
// be between its blob write and the content-row commit.
const writeGrace = time.Minute

// defaultMaxAge is the age bound for the body files when the config does
// not set one.
const defaultMaxAge = 30 * 24 * time.Hour

// CleanupResult summarizes one maintenance pass.
type CleanupResult struct {
	EntriesInvalidated int64 `json:"entries_invalidated"`
	FilesDeleted       int64 `json:"files_deleted"`
	BytesFreed         int64 `json:"bytes_freed"`
	RowsCompacted      int64 `json:"rows_compacted"`
}

// Cleanup runs the compound maintenance pass. It is safe to run while
// lookups and stores proceed: it only invalidates entries and then
// garbage-collects what nothing valid references anymore.
//
// Phases: expire stale entries, snapshot the referenced files, sweep
// orphan files, sweep files past the age bound, evict by LRU down to 80%
// of the size bound, compact unreferenced rows, record the totals.
func (c *Cache) Cleanup(ctx context.Context) (*CleanupResult, error) {
	start := c.clock.Now()
	nowMs := start.UnixMilli()
	result := &CleanupResult{}

	expired, err := c.store.ExpireEntries(ctx, nowMs)
	if err != nil {
		return result, err
	}
	result.EntriesInvalidated += expired

	refs, err := c.store.ValidFileRefs(ctx)
	if err != nil {
		return result, err
	}
	referenced := make(map[string]bool, len(refs))
	for _, ref := range refs {
		referenced[ref.FileUUID] = true
	}

	if err := c.sweepOrphans(start, referenced, result); err != nil {
		return result, err
	}
	if err := c.sweepAged(ctx, start, result); err != nil {
		return result, err
	}
	if err := c.evictLRU(ctx, result); err != nil {
		return result, err
	}

	entriesGone, err := c.store.DeleteEntriesWithoutContent(ctx)
	if err != nil {
		return result, err
	}
	contentGone, err := c.store.DeleteUnreferencedContent(ctx)
	if err != nil {
		return result, err
	}
	result.RowsCompacted = entriesGone + contentGone

	// Error already logged by the store; the pass itself succeeded.
	_ = c.store.AddCleanupStats(ctx, store.StatDate(start),
		result.EntriesInvalidated+result.RowsCompacted, result.FilesDeleted)

	c.logger.Info("Cache cleanup finished",
		zap.Int64("entries_invalidated", result.EntriesInvalidated),
		zap.Int64("files_deleted", result.FilesDeleted),
		zap.Int64("bytes_freed", result.BytesFreed),
		zap.Int64("rows_compacted", result.RowsCompacted),
		zap.Duration("duration", c.clock.Now().Sub(start)))
	return result, nil
}

// sweepOrphans deletes body files no valid entry references, plus stale
// temp files from interrupted writes. Files younger than writeGrace are
// left alone.
func (c *Cache) sweepOrphans(now time.Time, referenced map[string]bool, result *CleanupResult) error {
	cutoff := now.Add(-writeGrace)

	tmpRemoved, tmpFreed, err := c.blobs.SweepTempDebris(cutoff)
	if err != nil {
		return err
	}
	result.FilesDeleted += int64(tmpRemoved)
	result.BytesFreed += tmpFreed

	blobs, err := c.blobs.List()
	if err != nil {
		return err
	}
	for _, blob := range blobs {
		if referenced[blob.Stem] || blob.ModTime.After(cutoff) {
			continue
		}
		freed, err := c.blobs.RemoveName(blob.Name)
		if err != nil {
			c.logger.Warn("Orphan sweep could not delete file",
				zap.String("file", blob.Name),
				zap.Error(err))
			continue
		}
		result.FilesDeleted++
		result.BytesFreed += freed
	}
	return nil
}

// sweepAged deletes body files whose content is older than the configured
// age bound and invalidates every entry that pointed at them.
func (c *Cache) sweepAged(ctx context.Context, now time.Time, result *CleanupResult) error {
	cutoff := now.Add(-c.maxAge())

	blobs, err := c.blobs.List()
	if err != nil {
		return err
	}
	for _, blob := range blobs {
		if !blob.ModTime.Before(cutoff) {
			continue
		}
		freed, err := c.blobs.RemoveName(blob.Name)
		if err != nil {
			c.logger.Warn("Age sweep could not delete file",
				zap.String("file", blob.Name),
				zap.Error(err))
			continue
		}
		result.FilesDeleted++
		result.BytesFreed += freed

		flipped, err := c.store.InvalidateByFileUUID(ctx, blob.Stem)
		if err == nil {
			result.EntriesInvalidated += flipped
		}
	}
	return nil
}

// evictLRU deletes the least recently accessed bodies until disk usage is
// at or under 80% of the configured bound.
func (c *Cache) evictLRU(ctx context.Context, result *CleanupResult) error {
	if c.cfg.MaxSizeMB <= 0 {
		return nil
	}
	maxBytes := c.cfg.MaxSizeMB * 1024 * 1024

	_, usage, err := c.blobs.Usage()
	if err != nil {
		return err
	}
	if usage <= maxBytes {
		return nil
	}
	target := maxBytes * 80 / 100

	candidates, err := c.store.LRUCandidates(ctx)
	if err != nil {
		return err
	}

	c.logger.Info("Cache over size bound, evicting by LRU",
		zap.Int64("usage_bytes", usage),
		zap.Int64("max_bytes", maxBytes),
		zap.Int64("target_bytes", target))

	handled := make(map[string]bool)
	for _, cand := range candidates {
		if usage <= target {
			break
		}
		if handled[cand.FileUUID] {
			continue
		}
		handled[cand.FileUUID] = true

		if c.blobs.Exists(cand.FileUUID, cand.Compression) {
			freed, err := c.blobs.Remove(cand.FileUUID, cand.Compression)
			if err != nil {
				c.logger.Warn("LRU eviction could not delete file",
					zap.String("file_uuid", cand.FileUUID),
					zap.Error(err))
				continue
			}
			result.FilesDeleted++
			result.BytesFreed += freed
			usage -= freed
		}

		// All entries sharing the body go invalid together.
		flipped, err := c.store.InvalidateByFileUUID(ctx, cand.FileUUID)
		if err == nil {
			result.EntriesInvalidated += flipped
		}
	}
	return nil
}

func (c *Cache) maxAge() time.Duration {
	if c.cfg.Cleanup != nil {
		if d := c.cfg.Cleanup.MaxAge.ToDuration(); d > 0 {
			return d
		}
	}
	return defaultMaxAge
}
