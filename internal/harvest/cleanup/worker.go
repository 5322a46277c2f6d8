// Package cleanup runs the periodic cache maintenance pass: expiry,
// orphan and age sweeps, LRU eviction and request journal pruning.
package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cache"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
)

const (
	// defaultInterval is used when the config leaves the interval unset.
	defaultInterval = 6 * time.Hour

	// eventRetention bounds the request journal. Rate-limit windows span
	// minutes, so a week of events is far more than the limiter needs and
	// still enough for operators digging through a bad day.
	eventRetention = 7 * 24 * time.Hour
)

type Worker struct {
	cfg     *configtypes.CleanupConfig
	cache   *cache.Cache
	store   *store.Store
	clock   clock.Clock
	logger  *zap.Logger
	metrics *CleanupMetrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(
	cfg *configtypes.CleanupConfig,
	c *cache.Cache,
	st *store.Store,
	clk clock.Clock,
	logger *zap.Logger,
	metrics *CleanupMetrics,
) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:     cfg,
		cache:   c,
		store:   st,
		clock:   clk,
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *Worker) Start() {
	if w.cfg == nil || !w.cfg.Enabled {
		w.logger.Info("Cache cleanup worker disabled")
		return
	}

	interval := w.cfg.Interval.ToDuration()
	if interval <= 0 {
		interval = defaultInterval
	}
	w.logger.Info("Cache cleanup worker starting",
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := w.RunOnce(w.ctx); err != nil {
					w.logger.Error("Scheduled cache cleanup failed", zap.Error(err))
				}
			case <-w.ctx.Done():
				w.logger.Info("Cache cleanup worker shutting down")
				return
			}
		}
	}()
}

func (w *Worker) Shutdown() {
	w.logger.Info("Stopping cache cleanup worker")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("Cache cleanup worker stopped")
}

// RunOnce executes a single cleanup pass. The ops server and harvestctl
// call this directly; the ticker goroutine calls it on schedule.
func (w *Worker) RunOnce(ctx context.Context) (*cache.CleanupResult, error) {
	start := w.clock.Now()

	result, err := w.cache.Cleanup(ctx)
	if err != nil {
		w.metrics.RecordDuration(w.clock.Now().Sub(start).Seconds())
		w.metrics.RecordRun("failure")
		w.metrics.RecordError("cache_cleanup")
		return result, err
	}

	cutoff := start.Add(-eventRetention).UnixMilli()
	if pruned, perr := w.store.PruneEvents(ctx, cutoff); perr != nil {
		// The journal keeps growing but the cache pass still counts.
		w.metrics.RecordError("event_prune")
	} else if pruned > 0 {
		w.metrics.RecordEventsPruned(pruned)
		w.logger.Debug("Request event journal pruned", zap.Int64("events", pruned))
	}

	w.metrics.RecordDuration(w.clock.Now().Sub(start).Seconds())
	w.metrics.RecordRun("success")
	w.metrics.RecordInvalidated(result.EntriesInvalidated)
	w.metrics.RecordFilesDeleted(result.FilesDeleted)
	w.metrics.RecordBytesFreed(result.BytesFreed)
	return result, nil
}
