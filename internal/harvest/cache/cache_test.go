package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/canonical"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

type cacheFixture struct {
	cache *Cache
	store *store.Store
	blobs *BlobStore
	clock *clock.Manual
}

func newCacheFixture(t *testing.T, cfg configtypes.CacheConfig) *cacheFixture {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(context.Background(), configtypes.StorageConfig{
		DBPath: filepath.Join(dir, "cache.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if cfg.Root == "" {
		cfg.Root = filepath.Join(dir, "blobs")
	}
	blobs, err := NewBlobStore(cfg.Root, zap.NewNop())
	require.NoError(t, err)

	canon := canonical.New(canonical.StaticParams{
		"athome": {"bukkenNo", "id"},
	}, zap.NewNop())

	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &cacheFixture{
		cache: New(st, blobs, canon, clk, cfg, zap.NewNop()),
		store: st,
		blobs: blobs,
		clock: clk,
	}
}

func TestStoreThenLookup(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{})
	ctx := context.Background()
	body := []byte("<html>kodate 12345</html>")

	cacheID, err := f.cache.Store(ctx,
		"https://www.athome.co.jp/kodate/12345/?bukkenNo=99&utm_source=mail",
		"athome", types.PageTypeDetail, 200, body,
		StoreOptions{ParsedData: []byte(`{"price":12800000}`), FetchDuration: 340 * time.Millisecond})
	require.NoError(t, err)
	require.NotZero(t, cacheID)

	// The differently-written URL canonicalizes to the same page.
	hit := f.cache.Lookup(ctx,
		"HTTPS://WWW.ATHOME.CO.JP:443/kodate/12345?utm_campaign=x&bukkenNo=99",
		"athome", types.PageTypeDetail)
	require.NotNil(t, hit)
	assert.Equal(t, body, hit.Body)
	assert.Equal(t, []byte(`{"price":12800000}`), hit.ParsedData)
	assert.Equal(t, 200, hit.HTTPStatus)
	assert.Equal(t, cacheID, hit.CacheID)

	// Daily stats saw one miss-free hit; the store step created the row.
	stats, err := f.cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEntries)
	assert.Equal(t, 1, stats.FileCount)
	assert.Equal(t, int64(1), stats.TodayRequests)
	assert.Equal(t, int64(1), stats.TodayHits)
	assert.Zero(t, stats.TodayMisses)
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestLookupMissIsCounted(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{})
	ctx := context.Background()

	hit := f.cache.Lookup(ctx, "https://www.athome.co.jp/none", "athome", types.PageTypeList)
	assert.Nil(t, hit)

	day, err := f.store.GetDailyStats(ctx, "athome", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.CacheMisses)
	assert.Zero(t, day.CacheHits)
}

func TestIdenticalBodiesShareOneBlob(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{})
	ctx := context.Background()
	body := []byte("<html>same listing syndicated twice</html>")

	id1, err := f.cache.Store(ctx, "https://www.athome.co.jp/a", "athome", types.PageTypeDetail, 200, body, StoreOptions{})
	require.NoError(t, err)
	id2, err := f.cache.Store(ctx, "https://www.athome.co.jp/b", "athome", types.PageTypeDetail, 200, body, StoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same body must reuse the content row")

	files, _, err := f.blobs.Usage()
	require.NoError(t, err)
	assert.Equal(t, 1, files)

	entries, err := f.store.CountValidEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entries)

	contentRows, err := f.store.CountContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), contentRows)
}

func TestRepeatedStoreIsIdempotent(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{})
	ctx := context.Background()
	body := []byte("<html>unchanged page</html>")
	url := "https://www.athome.co.jp/kodate/1"

	id1, err := f.cache.Store(ctx, url, "athome", types.PageTypeList, 200, body, StoreOptions{})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	id2, err := f.cache.Store(ctx, url, "athome", types.PageTypeList, 200, body, StoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	entries, err := f.store.CountValidEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entries)
}

func TestExpiryByPageTypeTTL(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{})
	ctx := context.Background()
	url := "https://www.athome.co.jp/list?page=2"

	_, err := f.cache.Store(ctx, url, "athome", types.PageTypeList, 200, []byte("<html>page 2</html>"), StoreOptions{})
	require.NoError(t, err)

	// Just inside the 6h list TTL.
	f.clock.Advance(6*time.Hour - time.Second)
	require.NotNil(t, f.cache.Lookup(ctx, url, "athome", types.PageTypeList))

	// Past it.
	f.clock.Advance(2 * time.Second)
	assert.Nil(t, f.cache.Lookup(ctx, url, "athome", types.PageTypeList))

	day, err := f.store.GetDailyStats(ctx, "athome", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.CacheExpired)
	assert.Equal(t, int64(1), day.CacheMisses)

	// A fresh store revives the same entry.
	_, err = f.cache.Store(ctx, url, "athome", types.PageTypeList, 200, []byte("<html>page 2 v2</html>"), StoreOptions{})
	require.NoError(t, err)
	require.NotNil(t, f.cache.Lookup(ctx, url, "athome", types.PageTypeList))
}

func TestConfiguredTTLOverridesDefault(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{
		TTL: configtypes.TTLConfig{List: types.Duration(time.Minute)},
	})
	ctx := context.Background()
	url := "https://www.athome.co.jp/list"

	_, err := f.cache.Store(ctx, url, "athome", types.PageTypeList, 200, []byte("short lived"), StoreOptions{})
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	assert.Nil(t, f.cache.Lookup(ctx, url, "athome", types.PageTypeList))
}

func TestLookupHealsMissingBlob(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{})
	ctx := context.Background()
	url := "https://www.athome.co.jp/kodate/7"

	_, err := f.cache.Store(ctx, url, "athome", types.PageTypeDetail, 200, []byte("<html>seven</html>"), StoreOptions{})
	require.NoError(t, err)

	// Lose the body file behind the cache's back.
	blobs, err := f.blobs.List()
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	require.NoError(t, os.Remove(filepath.Join(f.blobs.Root(), blobs[0].Name)))

	assert.Nil(t, f.cache.Lookup(ctx, url, "athome", types.PageTypeDetail))

	day, err := f.store.GetDailyStats(ctx, "athome", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.CacheInvalidated)

	// The entry is now invalid: the next lookup is a plain miss.
	assert.Nil(t, f.cache.Lookup(ctx, url, "athome", types.PageTypeDetail))
	day, err = f.store.GetDailyStats(ctx, "athome", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), day.CacheMisses)
	assert.Equal(t, int64(1), day.CacheInvalidated)
}

func TestLookupBumpsHitCounters(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{})
	ctx := context.Background()
	url := "https://www.athome.co.jp/kodate/8"

	_, err := f.cache.Store(ctx, url, "athome", types.PageTypeDetail, 200, []byte("<html>eight</html>"), StoreOptions{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NotNil(t, f.cache.Lookup(ctx, url, "athome", types.PageTypeDetail))
	f.clock.Advance(time.Minute)
	hit := f.cache.Lookup(ctx, url, "athome", types.PageTypeDetail)
	require.NotNil(t, hit)
	assert.Equal(t, 2*time.Minute, hit.Age)

	res := f.cache.canon.Canonicalize(url, "athome")
	row, err := f.store.GetValidEntry(ctx, res.URLHash, f.clock.Now().UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.CacheHits)
	assert.Equal(t, f.clock.Now().UnixMilli(), row.LastAccessedAt)
}

func TestStoreCompressesLargeBodies(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{Compression: types.CompressionSnappy})
	ctx := context.Background()
	url := "https://www.athome.co.jp/kodate/9"
	body := repeatedContent(8192)

	_, err := f.cache.Store(ctx, url, "athome", types.PageTypeDetail, 200, body, StoreOptions{})
	require.NoError(t, err)

	blobs, err := f.blobs.List()
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Contains(t, blobs[0].Name, types.ExtSnappy)
	assert.Less(t, blobs[0].Size, int64(len(body)))

	hit := f.cache.Lookup(ctx, url, "athome", types.PageTypeDetail)
	require.NotNil(t, hit)
	assert.Equal(t, body, hit.Body)
}

func TestInvalidate(t *testing.T) {
	f := newCacheFixture(t, configtypes.CacheConfig{})
	ctx := context.Background()
	url := "https://www.athome.co.jp/kodate/10"

	_, err := f.cache.Store(ctx, url, "athome", types.PageTypeDetail, 200, []byte("<html>ten</html>"), StoreOptions{})
	require.NoError(t, err)

	flipped, err := f.cache.Invalidate(ctx, url, "athome")
	require.NoError(t, err)
	assert.True(t, flipped)
	assert.Nil(t, f.cache.Lookup(ctx, url, "athome", types.PageTypeDetail))

	flipped, err = f.cache.Invalidate(ctx, url, "athome")
	require.NoError(t, err)
	assert.False(t, flipped)
}
