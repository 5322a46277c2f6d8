package crawler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cache"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/canonical"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/coordinator"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/driver"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/ratelimit"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/session"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
)

const athomeBase = "https://www.athome.co.jp"

type crawlFixture struct {
	crawler  *Crawler
	stub     *driver.Stub
	recorder *session.Recorder
	config   *configtypes.StaticConfig
	site     configtypes.SiteConfig
}

func newCrawlFixture(t *testing.T) *crawlFixture {
	return newCrawlFixtureWrapped(t, nil)
}

// newCrawlFixtureWrapped builds the full fetch stack around a scripted
// driver. wrap lets a test interpose on the fetch path.
func newCrawlFixtureWrapped(t *testing.T, wrap func(driver.Driver) driver.Driver) *crawlFixture {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	st, err := store.Open(ctx, configtypes.StorageConfig{
		DBPath: filepath.Join(dir, "harvest.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	root := filepath.Join(dir, "blobs")
	blobs, err := cache.NewBlobStore(root, zap.NewNop())
	require.NoError(t, err)

	canon := canonical.New(canonical.StaticParams{"athome": {"id", "page"}}, zap.NewNop())
	clk := clock.NewManual(time.Now())
	c := cache.New(st, blobs, canon, clk, configtypes.CacheConfig{Root: root}, zap.NewNop())

	site := configtypes.SiteConfig{
		Name:             "athome",
		EntryURLs:        []string{athomeBase + "/kodate/list/"},
		FetchMode:        configtypes.FetchModeHTTP,
		DetailPattern:    `~/kodate/\d+/`,
		NextPagePattern:  `~[?&]page=\d+`,
		ImagePattern:     `*.jpg`,
		MaxPages:         5,
		MaxDetails:       10,
		MaxImagesPerPage: 2,
		RateLimit: &configtypes.SiteRateLimit{
			Requests: 1000,
			Period:   configtypes.Duration(time.Minute),
		},
	}
	sites := []configtypes.SiteConfig{site}

	lim := ratelimit.New(st, clk, zap.NewNop())
	require.NoError(t, lim.ApplyConfig(ctx, sites))

	stub := driver.NewStub()
	var drv driver.Driver = stub
	if wrap != nil {
		drv = wrap(stub)
	}
	sel := driver.NewSelector(drv, nil, sites, zap.NewNop())

	coord := coordinator.New(c, lim, sel, nil, zap.NewNop())
	recorder := session.NewRecorder(st, clk, nil, zap.NewNop())

	cfgMgr := &configtypes.StaticConfig{Config: configtypes.HarvesterConfig{
		Harvest: configtypes.HarvestConfig{Workers: 2},
		Sites:   sites,
	}}

	return &crawlFixture{
		crawler:  New(coord, canon, recorder, cfgMgr, zap.NewNop()),
		stub:     stub,
		recorder: recorder,
		config:   cfgMgr,
		site:     site,
	}
}

// scriptAthome scripts a two-page listing walk: three detail pages, one of
// them linked twice plus once through a tracking-parameter alias, and five
// distinct images once the per-page cap is applied.
func (f *crawlFixture) scriptAthome() {
	f.stub.OnHTML(athomeBase+"/kodate/list/", `
		<a href="/kodate/101/">Listing 101</a>
		<a href="/kodate/102/">Listing 102</a>
		<a href="/kodate/list/?page=2">Next</a>`)
	f.stub.OnHTML(athomeBase+"/kodate/list/?page=2", `
		<a href="/kodate/103/">Listing 103</a>
		<a href="/kodate/101/">Listing 101 again</a>
		<a href="/kodate/101/?utm_source=mail">Listing 101 via newsletter</a>`)

	f.stub.OnHTML(athomeBase+"/kodate/101/",
		`<img src="/img/101-1.jpg"><img src="/img/101-2.jpg"><img src="/img/101-3.jpg">`)
	f.stub.OnHTML(athomeBase+"/kodate/102/",
		`<img src="/img/102-1.jpg"><img src="/img/shared.jpg">`)
	f.stub.OnHTML(athomeBase+"/kodate/103/",
		`<img src="/img/shared.jpg"><img src="/img/103-1.jpg">`)

	for _, img := range []string{"101-1", "101-2", "102-1", "103-1", "shared"} {
		url := athomeBase + "/img/" + img + ".jpg"
		f.stub.On(url, &driver.Result{StatusCode: 200, Body: []byte("jpeg"), FinalURL: url})
	}
}

func (f *crawlFixture) lastSession(t *testing.T) store.SessionRow {
	t.Helper()
	rows, err := f.recorder.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestCrawlSiteFullWalk(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()

	report, err := f.crawler.CrawlSite(context.Background(), f.site, ModeFull)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ListPages)
	assert.Equal(t, 3, report.DetailPages, "repeated and alias links collapse to one detail each")
	assert.Equal(t, 5, report.Images, "two per page, shared image fetched once")
	assert.Equal(t, int64(10), report.Fetched)
	assert.Equal(t, int64(0), report.FromCache)
	assert.Equal(t, int64(0), report.Failed)

	assert.Equal(t, 1, f.stub.CallCount(athomeBase+"/kodate/101/"))
	assert.Equal(t, 0, f.stub.CallCount(athomeBase+"/kodate/101/?utm_source=mail"))
	assert.Equal(t, 0, f.stub.CallCount(athomeBase+"/img/101-3.jpg"), "per-page image cap")
	assert.Equal(t, 1, f.stub.CallCount(athomeBase+"/img/shared.jpg"))

	row := f.lastSession(t)
	assert.Equal(t, report.SessionID, row.SessionID)
	assert.Equal(t, "full", row.SessionType)
	assert.Equal(t, "completed", row.Status)
	assert.Equal(t, int64(10), row.PagesFetched)
	assert.True(t, row.FinishedAt.Valid)
}

func TestCrawlSiteListMode(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()

	report, err := f.crawler.CrawlSite(context.Background(), f.site, ModeList)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ListPages)
	assert.Equal(t, 0, report.DetailPages)
	assert.Equal(t, 0, report.Images)
	assert.Equal(t, 0, f.stub.CallCount(athomeBase+"/kodate/101/"))

	assert.Equal(t, "list", f.lastSession(t).SessionType)
}

func TestCrawlSiteDetailModeSkipsImages(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()

	report, err := f.crawler.CrawlSite(context.Background(), f.site, ModeDetail)
	require.NoError(t, err)

	assert.Equal(t, 3, report.DetailPages)
	assert.Equal(t, 0, report.Images)
	assert.Equal(t, 0, f.stub.CallCount(athomeBase+"/img/101-1.jpg"))

	assert.Equal(t, "detail", f.lastSession(t).SessionType)
}

func TestCrawlHonorsMaxPages(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()
	site := f.site
	site.MaxPages = 1

	report, err := f.crawler.CrawlSite(context.Background(), site, ModeList)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ListPages)
	assert.Equal(t, 0, f.stub.CallCount(athomeBase+"/kodate/list/?page=2"))
}

func TestCrawlHonorsMaxDetails(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()
	site := f.site
	site.MaxDetails = 1

	report, err := f.crawler.CrawlSite(context.Background(), site, ModeDetail)
	require.NoError(t, err)

	assert.Equal(t, 1, report.DetailPages)
	assert.Equal(t, 1, f.stub.CallCount(athomeBase+"/kodate/101/"))
	assert.Equal(t, 0, f.stub.CallCount(athomeBase+"/kodate/102/"))
}

func TestCrawlSecondRunServesFromCache(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()
	ctx := context.Background()

	first, err := f.crawler.CrawlSite(ctx, f.site, ModeFull)
	require.NoError(t, err)
	require.Equal(t, int64(10), first.Fetched)

	second, err := f.crawler.CrawlSite(ctx, f.site, ModeFull)
	require.NoError(t, err)

	assert.Equal(t, int64(0), second.Fetched)
	assert.Equal(t, int64(10), second.FromCache)
	assert.Equal(t, int64(0), second.Failed)
	assert.Equal(t, 1, f.stub.CallCount(athomeBase+"/kodate/list/"), "cache hits never reach the origin")
}

func TestCrawlCountsFailedFetches(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()
	f.stub.Fail(athomeBase+"/kodate/102/", errors.New("connection reset"))
	f.stub.On(athomeBase+"/kodate/103/",
		&driver.Result{StatusCode: 404, Body: []byte("gone"), FinalURL: athomeBase + "/kodate/103/"})

	report, err := f.crawler.CrawlSite(context.Background(), f.site, ModeDetail)
	require.NoError(t, err, "fetch failures do not fail the crawl")

	assert.Equal(t, 3, report.DetailPages)
	assert.Equal(t, int64(2), report.Failed)
	assert.Equal(t, int64(3), report.Fetched, "two list pages and the one healthy detail")

	assert.Equal(t, "completed", f.lastSession(t).Status)
}

// cancelAfter cancels a context once a number of fetches have completed.
type cancelAfter struct {
	inner     driver.Driver
	cancel    context.CancelFunc
	remaining atomic.Int32
}

func (d *cancelAfter) Fetch(ctx context.Context, url string) (*driver.Result, error) {
	res, err := d.inner.Fetch(ctx, url)
	if d.remaining.Add(-1) == 0 {
		d.cancel()
	}
	return res, err
}

func TestCrawlCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wrapper *cancelAfter
	f := newCrawlFixtureWrapped(t, func(inner driver.Driver) driver.Driver {
		wrapper = &cancelAfter{inner: inner, cancel: cancel}
		wrapper.remaining.Store(1)
		return wrapper
	})
	f.scriptAthome()

	report, err := f.crawler.CrawlSite(ctx, f.site, ModeFull)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report, "a cancelled crawl still reports what it did")

	assert.Equal(t, 1, report.ListPages)
	assert.Equal(t, int64(1), report.Fetched)
	assert.Equal(t, 0, f.stub.CallCount(athomeBase+"/kodate/list/?page=2"))

	row := f.lastSession(t)
	assert.Equal(t, "failed", row.Status)
	assert.Contains(t, row.ErrorMessage.String, "context canceled")
}

func TestCrawlAllSkipsDisabledSites(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()

	disabled := false
	suumo := configtypes.SiteConfig{
		Name:      "suumo",
		Enabled:   &disabled,
		EntryURLs: []string{"https://suumo.jp/kodate/"},
		MaxPages:  5,
	}

	f.config.Config.Sites = []configtypes.SiteConfig{suumo, f.site}
	reports := f.crawler.CrawlAll(context.Background(), ModeList)

	require.Len(t, reports, 1)
	assert.Equal(t, "athome", reports[0].Site)
	assert.Equal(t, 0, f.stub.CallCount("https://suumo.jp/kodate/"))
}

func TestCrawlAllContinuesAfterSiteError(t *testing.T) {
	f := newCrawlFixture(t)
	f.scriptAthome()

	broken := configtypes.SiteConfig{
		Name:     "broken",
		MaxPages: 5,
		// No entry URLs, so the site cannot start.
	}

	f.config.Config.Sites = []configtypes.SiteConfig{broken, f.site}
	reports := f.crawler.CrawlAll(context.Background(), ModeList)

	require.Len(t, reports, 1)
	assert.Equal(t, "athome", reports[0].Site)
}

func TestCrawlSiteRejectsBadInput(t *testing.T) {
	f := newCrawlFixture(t)
	ctx := context.Background()

	_, err := f.crawler.CrawlSite(ctx, f.site, Mode("deep"))
	assert.ErrorContains(t, err, "unknown crawl mode")

	noEntries := f.site
	noEntries.EntryURLs = nil
	_, err = f.crawler.CrawlSite(ctx, noEntries, ModeFull)
	assert.ErrorContains(t, err, "no entry URLs")

	badPattern := f.site
	badPattern.DetailPattern = `~[`
	_, err = f.crawler.CrawlSite(ctx, badPattern, ModeFull)
	assert.ErrorContains(t, err, "detail pattern")

	rows, err := f.recorder.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "rejected crawls never open a session")
}
