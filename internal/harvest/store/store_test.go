package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), configtypes.StorageConfig{
		DBPath:       filepath.Join(t.TempDir(), "harvest.db"),
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestContent(t *testing.T, s *Store, hash, uuid string, size int64) int64 {
	t.Helper()
	id, err := s.InsertContent(context.Background(), &CacheContent{
		HTTPStatus:  200,
		FileUUID:    uuid,
		ContentHash: hash,
		SizeBytes:   size,
		Compression: types.CompressionNone,
		CreatedAt:   1000,
	})
	require.NoError(t, err)
	return id
}

func TestOpenMigratesAndSeeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	// Seeded budgets are present.
	athome, err := s.GetRateLimit(ctx, "athome")
	require.NoError(t, err)
	assert.Equal(t, 60, athome.Budget)
	assert.Equal(t, 300, athome.PeriodSeconds)

	fallback, err := s.GetRateLimit(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 60, fallback.Budget)

	_, err = s.GetRateLimit(ctx, "nosuchsite")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := configtypes.StorageConfig{DBPath: filepath.Join(dir, "harvest.db")}

	s1, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Second open must not fail on existing schema or seeds.
	s2, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestEntryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contentID := insertTestContent(t, s, "hash-a", "uuid-a", 100)

	entryID, err := s.UpsertEntry(ctx, &CacheEntry{
		OriginalURL:    "https://www.athome.co.jp/kodate/1/?utm=x",
		NormalizedURL:  "https://www.athome.co.jp/kodate/1",
		URLHash:        "h1",
		SiteName:       "athome",
		PageType:       string(types.PageTypeDetail),
		FirstCachedAt:  1000,
		LastAccessedAt: 1000,
		ExpiresAt:      5000,
		ContentID:      contentID,
	})
	require.NoError(t, err)
	require.NotZero(t, entryID)

	t.Run("valid lookup before expiry", func(t *testing.T) {
		row, err := s.GetValidEntry(ctx, "h1", 2000)
		require.NoError(t, err)
		assert.Equal(t, entryID, row.EntryID)
		assert.Equal(t, "uuid-a", row.FileUUID)
		assert.Equal(t, "athome", row.SiteName)
	})

	t.Run("expired lookup misses", func(t *testing.T) {
		_, err := s.GetValidEntry(ctx, "h1", 5000)
		assert.ErrorIs(t, err, ErrNotFound)

		expired, err := s.HasExpiredEntry(ctx, "h1", 5000)
		require.NoError(t, err)
		assert.True(t, expired)
	})

	t.Run("touch bumps hits and access time", func(t *testing.T) {
		require.NoError(t, s.TouchEntry(ctx, entryID, 3000))
		row, err := s.GetValidEntry(ctx, "h1", 2000)
		require.NoError(t, err)
		assert.Equal(t, int64(1), row.CacheHits)
		assert.Equal(t, int64(3000), row.LastAccessedAt)
	})

	t.Run("upsert refreshes in place", func(t *testing.T) {
		newContent := insertTestContent(t, s, "hash-b", "uuid-b", 200)
		again, err := s.UpsertEntry(ctx, &CacheEntry{
			OriginalURL:    "https://www.athome.co.jp/kodate/1/",
			NormalizedURL:  "https://www.athome.co.jp/kodate/1",
			URLHash:        "h1",
			SiteName:       "athome",
			PageType:       string(types.PageTypeDetail),
			FirstCachedAt:  8000,
			LastAccessedAt: 8000,
			ExpiresAt:      9000,
			ContentID:      newContent,
		})
		require.NoError(t, err)
		assert.Equal(t, entryID, again, "same url_hash must keep the same row")

		row, err := s.GetValidEntry(ctx, "h1", 8500)
		require.NoError(t, err)
		assert.Equal(t, "uuid-b", row.FileUUID)
		assert.Equal(t, int64(9000), row.ExpiresAt)
		// First-cached survives the refresh.
		assert.Equal(t, int64(1000), row.FirstCachedAt)
	})

	t.Run("invalidate by hash", func(t *testing.T) {
		flipped, err := s.InvalidateByURLHash(ctx, "h1")
		require.NoError(t, err)
		assert.True(t, flipped)

		_, err = s.GetValidEntry(ctx, "h1", 8500)
		assert.ErrorIs(t, err, ErrNotFound)

		flipped, err = s.InvalidateByURLHash(ctx, "h1")
		require.NoError(t, err)
		assert.False(t, flipped, "already invalid rows are not re-flipped")
	})
}

func TestContentDeduplication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestContent(t, s, "shared-hash", "uuid-s", 512)

	found, err := s.FindContentByHash(ctx, "shared-hash")
	require.NoError(t, err)
	assert.Equal(t, "uuid-s", found.FileUUID)

	_, err = s.FindContentByHash(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	// The unique constraint rejects duplicate body hashes.
	_, err = s.InsertContent(ctx, &CacheContent{
		HTTPStatus:  200,
		FileUUID:    "uuid-t",
		ContentHash: "shared-hash",
		CreatedAt:   1000,
	})
	assert.Error(t, err)
}

func TestExpireAndSweepQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	liveContent := insertTestContent(t, s, "hash-live", "uuid-live", 100)
	deadContent := insertTestContent(t, s, "hash-dead", "uuid-dead", 100)

	mustUpsert := func(hash string, expires int64, contentID int64) {
		_, err := s.UpsertEntry(ctx, &CacheEntry{
			OriginalURL: "https://x.jp/" + hash, NormalizedURL: "https://x.jp/" + hash,
			URLHash: hash, SiteName: "x", PageType: "list",
			FirstCachedAt: 1000, LastAccessedAt: 1000, ExpiresAt: expires,
			ContentID: contentID,
		})
		require.NoError(t, err)
	}
	mustUpsert("live", 10_000, liveContent)
	mustUpsert("dead", 2_000, deadContent)

	expired, err := s.ExpireEntries(ctx, 5_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	refs, err := s.ValidFileRefs(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "uuid-live", refs[0].FileUUID)

	// Unreferenced content goes away and takes the zombie entry with it.
	removed, err := s.DeleteUnreferencedContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := s.CountValidEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	contentCount, err := s.CountContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), contentCount)
}

func TestInvalidateByFileUUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contentID := insertTestContent(t, s, "hash-f", "uuid-f", 100)
	for _, h := range []string{"f1", "f2"} {
		_, err := s.UpsertEntry(ctx, &CacheEntry{
			OriginalURL: "https://x.jp/" + h, NormalizedURL: "https://x.jp/" + h,
			URLHash: h, SiteName: "x", PageType: "detail",
			FirstCachedAt: 1, LastAccessedAt: 1, ExpiresAt: 10_000,
			ContentID: contentID,
		})
		require.NoError(t, err)
	}

	flipped, err := s.InvalidateByFileUUID(ctx, "uuid-f")
	require.NoError(t, err)
	assert.Equal(t, int64(2), flipped, "every entry sharing the blob is invalidated")
}

func TestLRUCandidatesOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, h := range []string{"old", "mid", "new"} {
		contentID := insertTestContent(t, s, "hash-"+h, "uuid-"+h, 100)
		_, err := s.UpsertEntry(ctx, &CacheEntry{
			OriginalURL: "https://x.jp/" + h, NormalizedURL: "https://x.jp/" + h,
			URLHash: h, SiteName: "x", PageType: "list",
			FirstCachedAt: 1, LastAccessedAt: int64((i + 1) * 100), ExpiresAt: 10_000,
			ContentID: contentID,
		})
		require.NoError(t, err)
	}

	rows, err := s.LRUCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "uuid-old", rows[0].FileUUID)
	assert.Equal(t, "uuid-new", rows[2].FileUUID)
}

func TestWindowQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert := func(ts int64, status string, fromCache bool, respMs int64) {
		ev := &RequestEvent{
			SiteName: "suumo", RequestTimestamp: ts, Status: status, FromCache: fromCache,
		}
		if respMs > 0 {
			ev.ResponseTimeMs = sql.NullInt64{Int64: respMs, Valid: true}
		}
		require.NoError(t, s.InsertRequestEvent(ctx, ev))
	}

	insert(1_000, "success", false, 120) // outside window
	insert(5_000, "success", false, 100)
	insert(6_000, "success", true, 0)  // cache hit, no budget
	insert(7_000, "failed", false, 0)  // failure, no budget
	insert(8_000, "success", false, 200)

	count, oldest, err := s.WindowState(ctx, "suumo", 4_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(5_000), oldest)

	stats, err := s.GetWindowStats(ctx, "suumo", 4_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.InWindow)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Cached)
	assert.InDelta(t, 150.0, stats.AvgResponseMs, 0.01)

	// Other sites see an empty window.
	count, oldest, err = s.WindowState(ctx, "athome", 0)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, oldest)

	pruned, err := s.PruneEvents(ctx, 4_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestRateLimitUpsertWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRateLimit(ctx, &RateLimitRow{
		SiteName: "athome", Budget: 3, PeriodSeconds: 2,
		ConcurrentLimit: 1, RetryAfterSeconds: 30, UpdatedAt: 99,
	}))

	row, err := s.GetRateLimit(ctx, "athome")
	require.NoError(t, err)
	assert.Equal(t, 3, row.Budget)
	assert.Equal(t, 2, row.PeriodSeconds)
	assert.Equal(t, 30, row.RetryAfterSeconds)

	all, err := s.ListRateLimits(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all), 8, "seeds remain alongside the override")
}

func TestDailyStatOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const date = "2025-06-01"

	require.NoError(t, s.RecordLookup(ctx, "athome", date, LookupHit))
	require.NoError(t, s.RecordLookup(ctx, "athome", date, LookupMiss))
	require.NoError(t, s.RecordLookup(ctx, "athome", date, LookupExpired))
	require.NoError(t, s.RecordLookup(ctx, "athome", date, LookupInvalidated))

	row, err := s.GetDailyStats(ctx, "athome", date)
	require.NoError(t, err)
	assert.Equal(t, int64(4), row.TotalRequests)
	assert.Equal(t, int64(1), row.CacheHits)
	assert.Equal(t, int64(3), row.CacheMisses, "expired and invalidated count as misses")
	assert.Equal(t, int64(1), row.CacheExpired)
	assert.Equal(t, int64(1), row.CacheInvalidated)

	assert.Error(t, func() error {
		return s.RecordLookup(ctx, "athome", date, LookupOutcome("bogus"))
	}())

	require.NoError(t, s.AddCleanupStats(ctx, date, 5, 2))
	require.NoError(t, s.AddCleanupStats(ctx, date, 1, 1))

	total, err := s.SumDailyStats(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total.TotalRequests)
	assert.Equal(t, int64(6), total.EntriesCleaned)
	assert.Equal(t, int64(3), total.FilesCleaned)

	_, err = s.GetDailyStats(ctx, "athome", "1999-01-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertSession(ctx, &SessionRow{
		SessionID: "ab123-athome-full", SiteName: "athome",
		SessionType: "full", Status: "running", StartedAt: 1000,
	})
	require.NoError(t, err)

	require.NoError(t, s.FinishSession(ctx, id, "completed", 9000, 12, 30, 2, ""))

	rows, err := s.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "completed", rows[0].Status)
	assert.Equal(t, int64(12), rows[0].PagesFetched)
	assert.Equal(t, int64(30), rows[0].PagesFromCache)
	assert.Equal(t, int64(2), rows[0].PagesFailed)
	assert.False(t, rows[0].ErrorMessage.Valid)

	// Failed sessions carry their error message.
	id2, err := s.InsertSession(ctx, &SessionRow{
		SessionID: "cd456-suumo-list", SiteName: "suumo",
		SessionType: "list", Status: "running", StartedAt: 2000,
	})
	require.NoError(t, err)
	require.NoError(t, s.FinishSession(ctx, id2, "failed", 2500, 0, 0, 1, "entry fetch failed"))

	rows, err = s.RecentSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cd456-suumo-list", rows[0].SessionID)
	assert.Equal(t, "entry fetch failed", rows[0].ErrorMessage.String)
}
