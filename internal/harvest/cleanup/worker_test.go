package cleanup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cache"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/canonical"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

type workerFixture struct {
	worker  *Worker
	cache   *cache.Cache
	store   *store.Store
	clock   *clock.Manual
	metrics *CleanupMetrics
}

// The manual clock starts at the wall clock so sweep cutoffs line up with
// real blob file mtimes.
func newWorkerFixture(t *testing.T, cfg *configtypes.CleanupConfig) *workerFixture {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(context.Background(), configtypes.StorageConfig{
		DBPath: filepath.Join(dir, "harvest.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	root := filepath.Join(dir, "blobs")
	blobs, err := cache.NewBlobStore(root, zap.NewNop())
	require.NoError(t, err)

	canon := canonical.New(canonical.StaticParams{"athome": {"id"}}, zap.NewNop())
	clk := clock.NewManual(time.Now())
	c := cache.New(st, blobs, canon, clk, configtypes.CacheConfig{Root: root, Cleanup: cfg}, zap.NewNop())

	metrics := NewCleanupMetricsWithRegistry("seccamp", prometheus.NewRegistry(), zap.NewNop())
	return &workerFixture{
		worker:  NewWorker(cfg, c, st, clk, zap.NewNop(), metrics),
		cache:   c,
		store:   st,
		clock:   clk,
		metrics: metrics,
	}
}

func TestWorkerLifecycleDisabled(t *testing.T) {
	f := newWorkerFixture(t, &configtypes.CleanupConfig{Enabled: false})

	f.worker.Start()
	time.Sleep(50 * time.Millisecond)
	f.worker.Shutdown()

	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.runsTotal.WithLabelValues("success")))
}

func TestWorkerRunsOnSchedule(t *testing.T) {
	f := newWorkerFixture(t, &configtypes.CleanupConfig{
		Enabled:  true,
		Interval: types.Duration(20 * time.Millisecond),
	})

	f.worker.Start()
	defer f.worker.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(f.metrics.runsTotal.WithLabelValues("success")) >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("cleanup never ran on schedule")
}

func TestRunOnceCleansAndPrunes(t *testing.T) {
	f := newWorkerFixture(t, &configtypes.CleanupConfig{Enabled: true})
	ctx := context.Background()
	base := f.clock.Now()

	body := []byte("<html>list page</html>")
	_, err := f.cache.Store(ctx, "https://www.athome.co.jp/list/?id=1",
		"athome", types.PageTypeList, 200, body, cache.StoreOptions{})
	require.NoError(t, err)

	// One journal event well past retention, one recent.
	for _, ts := range []time.Time{base.Add(-8 * 24 * time.Hour), base.Add(-time.Minute)} {
		require.NoError(t, f.store.InsertRequestEvent(ctx, &store.RequestEvent{
			SiteName:         "athome",
			RequestTimestamp: ts.UnixMilli(),
			Status:           string(types.StatusSuccess),
		}))
	}

	// Past the list TTL the entry expires and its blob becomes an orphan.
	f.clock.Advance(7 * time.Hour)

	result, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.EntriesInvalidated)
	assert.Equal(t, int64(1), result.FilesDeleted)
	assert.Equal(t, int64(len(body)), result.BytesFreed)
	assert.Equal(t, int64(1), result.RowsCompacted)

	count, _, err := f.store.WindowState(ctx, "athome", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "only the recent journal event should survive")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.runsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.entriesInvalidated))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.filesDeleted))
	assert.Equal(t, float64(len(body)), testutil.ToFloat64(f.metrics.bytesFreed))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.eventsPruned))
}

func TestRunOnceReportsFailure(t *testing.T) {
	f := newWorkerFixture(t, &configtypes.CleanupConfig{Enabled: true})

	// A closed store fails the first cleanup phase.
	require.NoError(t, f.store.Close())

	_, err := f.worker.RunOnce(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.runsTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.errorsTotal.WithLabelValues("cache_cleanup")))
}
