// Package coordinator is the fetch façade. It composes the cache, the rate
// limiter, and the fetch drivers into the one call the crawler makes per
// URL: lookup, admit, fetch, store, record. The limiter's sleep happens
// here and nowhere else, and cache hits are the only requests recorded
// with fromCache set.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cache"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/driver"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/metrics"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/ratelimit"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// Options are the optional parts of a fetch.
type Options struct {
	// ForceRefresh skips the cache lookup and fetches from the origin.
	// The stored result replaces the cached copy as usual.
	ForceRefresh bool

	// ParsedData is opaque caller data stored alongside the body and
	// returned on later hits.
	ParsedData []byte
}

// FetchResult is what the coordinator hands back. A failed fetch has an
// empty body and the status that explains why; it is not an error.
type FetchResult struct {
	Body       []byte
	FromCache  bool
	HTTPStatus int
}

// Coordinator wires the fetch path together. metrics may be nil when the
// metrics endpoint is disabled.
type Coordinator struct {
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	drivers *driver.Selector
	metrics *metrics.PrometheusMetrics
	logger  *zap.Logger
}

func New(c *cache.Cache, l *ratelimit.Limiter, drivers *driver.Selector, m *metrics.PrometheusMetrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cache:   c,
		limiter: l,
		drivers: drivers,
		metrics: m,
		logger:  logger,
	}
}

// Fetch retrieves one URL through the cache and the rate limiter. The
// returned error is non-nil only for context cancellation; fetch failures
// come back as an empty body so the caller can move on to the next URL.
// Each call attempts the URL exactly once; retries belong to the caller.
func (co *Coordinator) Fetch(ctx context.Context, rawURL, site string, pageType types.PageType, opts Options) (*FetchResult, error) {
	if !opts.ForceRefresh {
		if hit := co.cache.Lookup(ctx, rawURL, site, pageType); hit != nil {
			// Hits consume no window budget but still land in the journal
			// so the stats surface sees the full request history.
			if err := co.limiter.Record(ctx, site, types.StatusSuccess, 0, "", true); err != nil {
				co.logger.Warn("Journal write failed for cache hit",
					zap.String("site", site),
					zap.Error(err))
			}
			if co.metrics != nil {
				co.metrics.RecordCacheHit(site)
				co.metrics.RecordFetch(site, pageType, metrics.OutcomeCached, 0)
			}
			return &FetchResult{Body: hit.Body, FromCache: true, HTTPStatus: hit.HTTPStatus}, nil
		}
		if co.metrics != nil {
			co.metrics.RecordCacheMiss(site)
		}
	}

	admitStart := time.Now()
	slept, err := co.limiter.Admit(ctx, site)
	if err != nil {
		// Canceled while waiting for budget; nothing happened, nothing
		// is recorded.
		return nil, err
	}
	if slept {
		wait := time.Since(admitStart)
		if co.metrics != nil {
			co.metrics.RecordRateLimitWait(site, wait)
		}
		co.logger.Debug("Admission delayed by rate limit",
			zap.String("site", site),
			zap.Duration("wait", wait))
	}

	if co.metrics != nil {
		co.metrics.IncActiveFetches()
		defer co.metrics.DecActiveFetches()
	}

	drv := co.drivers.DriverFor(site, pageType)
	fetchStart := time.Now()
	result, err := drv.Fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			// Canceled mid-fetch. The fetch never completed in any
			// direction, so the journal stays silent.
			return nil, ctx.Err()
		}
		return co.recordFailure(ctx, site, rawURL, pageType, err, time.Since(fetchStart)), nil
	}

	if result.StatusCode < 200 || result.StatusCode >= 300 {
		res := co.recordFailure(ctx, site, rawURL, pageType,
			fmt.Errorf("HTTP %d", result.StatusCode), result.Duration)
		res.HTTPStatus = result.StatusCode
		return res, nil
	}

	if _, serr := co.cache.Store(ctx, rawURL, site, pageType, result.StatusCode, result.Body, cache.StoreOptions{
		ParsedData:    opts.ParsedData,
		FetchDuration: result.Duration,
	}); serr != nil {
		// A fetch that worked is not undone by a cache that did not.
		// The next request for this URL just fetches again.
		co.logger.Warn("Cache store failed",
			zap.String("site", site),
			zap.String("url", rawURL),
			zap.Error(serr))
	}

	if rerr := co.limiter.Record(ctx, site, types.StatusSuccess, result.Duration, "", false); rerr != nil {
		co.logger.Warn("Journal write failed for fetch",
			zap.String("site", site),
			zap.Error(rerr))
	}
	if co.metrics != nil {
		co.metrics.RecordFetch(site, pageType, string(types.StatusSuccess), result.Duration)
	}

	co.logger.Debug("Fetched from origin",
		zap.String("site", site),
		zap.String("url", rawURL),
		zap.Int("status_code", result.StatusCode),
		zap.Duration("duration", result.Duration))

	return &FetchResult{Body: result.Body, HTTPStatus: result.StatusCode}, nil
}

// recordFailure journals a timeout or failed fetch and builds the empty
// result the caller gets instead of an error.
func (co *Coordinator) recordFailure(ctx context.Context, site, rawURL string, pageType types.PageType, cause error, duration time.Duration) *FetchResult {
	status := types.StatusFailed
	if errors.Is(cause, driver.ErrTimeout) {
		status = types.StatusTimeout
	}

	if err := co.limiter.Record(ctx, site, status, duration, cause.Error(), false); err != nil {
		co.logger.Warn("Journal write failed for fetch failure",
			zap.String("site", site),
			zap.Error(err))
	}
	if co.metrics != nil {
		co.metrics.RecordFetch(site, pageType, string(status), duration)
	}

	co.logger.Warn("Fetch failed",
		zap.String("site", site),
		zap.String("url", rawURL),
		zap.String("status", string(status)),
		zap.Error(cause))

	return &FetchResult{}
}
