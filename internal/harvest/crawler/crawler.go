// Package crawler walks listing sites through the fetch coordinator. A
// crawl runs in phases: list pages are followed through pagination, the
// property detail pages they link to are fetched by a bounded worker pool,
// and in full mode the detail pages' images come last. Every URL passes
// through the canonicalizer's fingerprint before it enters a frontier, so
// alias URLs collapse before they cost a fetch.
package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/canonical"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/coordinator"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/extract"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/session"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// Mode selects how deep a crawl goes.
type Mode string

const (
	// ModeFull walks list pages, detail pages and images.
	ModeFull Mode = "full"
	// ModeList walks list pages only.
	ModeList Mode = "list"
	// ModeDetail walks list and detail pages but skips images.
	ModeDetail Mode = "detail"
)

// Valid reports whether m names a known crawl mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeFull, ModeList, ModeDetail:
		return true
	}
	return false
}

func (m Mode) sessionType() types.SessionType {
	switch m {
	case ModeList:
		return types.SessionTypeList
	case ModeDetail:
		return types.SessionTypeDetail
	default:
		return types.SessionTypeFull
	}
}

// SiteReport summarizes one site's crawl.
type SiteReport struct {
	Site        string `json:"site"`
	SessionID   string `json:"session_id"`
	ListPages   int    `json:"list_pages"`
	DetailPages int    `json:"detail_pages"`
	Images      int    `json:"images"`
	Fetched     int64  `json:"fetched"`
	FromCache   int64  `json:"from_cache"`
	Failed      int64  `json:"failed"`
}

// Crawler drives site crawls. All fetching goes through the coordinator,
// so cache hits and rate limiting behave the same for every phase.
type Crawler struct {
	coord    *coordinator.Coordinator
	canon    *canonical.Canonicalizer
	sessions *session.Recorder
	cfgMgr   configtypes.ConfigManager
	logger   *zap.Logger
}

// New creates a Crawler.
func New(coord *coordinator.Coordinator, canon *canonical.Canonicalizer, sessions *session.Recorder, cfgMgr configtypes.ConfigManager, logger *zap.Logger) *Crawler {
	return &Crawler{
		coord:    coord,
		canon:    canon,
		sessions: sessions,
		cfgMgr:   cfgMgr,
		logger:   logger,
	}
}

// CrawlAll crawls every enabled configured site in order. A failing site
// does not stop the ones after it; cancellation does. The returned reports
// cover the sites that ran, including a partial report for a cancelled
// crawl.
func (c *Crawler) CrawlAll(ctx context.Context, mode Mode) []SiteReport {
	sites := c.cfgMgr.GetSites()

	var reports []SiteReport
	for i := range sites {
		site := sites[i]
		if !site.IsEnabled() {
			c.logger.Debug("Site disabled, skipping", zap.String("site", site.Name))
			continue
		}

		report, err := c.CrawlSite(ctx, site, mode)
		if report != nil {
			reports = append(reports, *report)
		}
		if err != nil {
			if ctx.Err() != nil {
				return reports
			}
			c.logger.Error("Site crawl failed",
				zap.String("site", site.Name),
				zap.Error(err))
		}
	}
	return reports
}

// CrawlSite crawls a single site and records the run as a harvest session.
// The only error a healthy site can return is the context's.
func (c *Crawler) CrawlSite(ctx context.Context, site configtypes.SiteConfig, mode Mode) (*SiteReport, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown crawl mode %q", mode)
	}
	if len(site.EntryURLs) == 0 {
		return nil, fmt.Errorf("site %s has no entry URLs", site.Name)
	}
	rules, err := extract.CompileRules(site.DetailPattern, site.NextPagePattern, site.ImagePattern)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}

	sess, err := c.sessions.Begin(ctx, site.Name, mode.sessionType())
	if err != nil {
		return nil, err
	}

	c.logger.Info("Site crawl starting",
		zap.String("site", site.Name),
		zap.String("mode", string(mode)),
		zap.String("session_id", sess.ID))

	report := &SiteReport{Site: site.Name, SessionID: sess.ID}
	crawlErr := c.runPhases(ctx, site, mode, rules, sess, report)

	report.Fetched = sess.Fetched()
	report.FromCache = sess.FromCache()
	report.Failed = sess.Failed()

	// A cancelled crawl still has to close its session row.
	finishCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finishCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := c.sessions.Finish(finishCtx, sess, crawlErr); err != nil {
		c.logger.Error("Session close failed",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}

	c.logger.Info("Site crawl finished",
		zap.String("site", site.Name),
		zap.String("session_id", sess.ID),
		zap.Int("list_pages", report.ListPages),
		zap.Int("detail_pages", report.DetailPages),
		zap.Int("images", report.Images),
		zap.Int64("fetched", report.Fetched),
		zap.Int64("from_cache", report.FromCache),
		zap.Int64("failed", report.Failed))

	return report, crawlErr
}

func (c *Crawler) runPhases(ctx context.Context, site configtypes.SiteConfig, mode Mode, rules extract.Rules, sess *session.Session, report *SiteReport) error {
	details := newFrontier(site.MaxDetails)

	// Phase 1: list pages, following pagination links breadth first.
	lists := newFrontier(0)
	for _, entry := range site.EntryURLs {
		c.push(lists, entry, site.Name)
	}

	for report.ListPages < site.MaxPages {
		if err := ctx.Err(); err != nil {
			return err
		}
		pageURL, ok := lists.Pop()
		if !ok {
			break
		}

		res, err := c.coord.Fetch(ctx, pageURL, site.Name, types.PageTypeList, coordinator.Options{})
		if err != nil {
			return err
		}
		report.ListPages++
		tally(sess, res)
		if len(res.Body) == 0 {
			continue
		}

		links := extract.Links(res.Body, pageURL, rules)
		for _, detail := range links.Details {
			c.push(details, detail, site.Name)
		}
		if links.NextPage != "" {
			c.push(lists, links.NextPage, site.Name)
		}
	}

	if mode == ModeList {
		return nil
	}

	// Phase 2: detail pages through the worker pool. Image URLs are
	// collected here, capped per page, deduplicated across pages.
	var mu sync.Mutex
	images := newFrontier(0)

	err := c.fetchAll(ctx, site, details.Drain(), types.PageTypeDetail, func(pageURL string, res *coordinator.FetchResult) {
		tally(sess, res)
		mu.Lock()
		defer mu.Unlock()
		report.DetailPages++
		if mode != ModeFull || len(res.Body) == 0 {
			return
		}
		accepted := 0
		for _, img := range extract.Links(res.Body, pageURL, rules).Images {
			if accepted >= site.MaxImagesPerPage {
				break
			}
			if c.push(images, img, site.Name) {
				accepted++
			}
		}
	})
	if err != nil || mode != ModeFull {
		return err
	}

	// Phase 3: images.
	return c.fetchAll(ctx, site, images.Drain(), types.PageTypeImage, func(_ string, res *coordinator.FetchResult) {
		tally(sess, res)
		mu.Lock()
		report.Images++
		mu.Unlock()
	})
}

// fetchAll fans urls out to a worker pool. The pool is capped by the
// configured worker count and by the site's concurrent limit, so one site
// cannot monopolize crawl parallelism it is not allowed to use. each runs
// on worker goroutines and must be safe to call concurrently.
func (c *Crawler) fetchAll(ctx context.Context, site configtypes.SiteConfig, urls []string, pageType types.PageType, each func(url string, res *coordinator.FetchResult)) error {
	if len(urls) == 0 {
		return nil
	}

	workers := c.cfgMgr.GetConfig().Harvest.Workers
	if workers <= 0 {
		workers = 1
	}
	if site.RateLimit != nil && site.RateLimit.Concurrent > 0 && site.RateLimit.Concurrent < workers {
		workers = site.RateLimit.Concurrent
	}
	if workers > len(urls) {
		workers = len(urls)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range jobs {
				res, err := c.coord.Fetch(ctx, url, site.Name, pageType, coordinator.Options{})
				if err != nil {
					// Cancelled. Keep draining so the feeder can stop.
					continue
				}
				each(url, res)
			}
		}()
	}

feed:
	for _, url := range urls {
		select {
		case jobs <- url:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return ctx.Err()
}

// push canonicalizes for the seen-set, so alias URLs collapse before they
// enter a frontier. The raw URL is what gets fetched; the coordinator
// canonicalizes again for cache and journal keys.
func (c *Crawler) push(f *frontier, rawURL, site string) bool {
	norm := c.canon.Canonicalize(rawURL, site)
	return f.Push(rawURL, canonical.Fingerprint(norm.NormalizedURL))
}

func tally(sess *session.Session, res *coordinator.FetchResult) {
	switch {
	case res.HTTPStatus < 200 || res.HTTPStatus >= 300:
		sess.AddFailed()
	case res.FromCache:
		sess.AddCached()
	default:
		sess.AddFetched()
	}
}
