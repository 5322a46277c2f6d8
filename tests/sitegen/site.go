package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

var wards = []string{
	"Setagaya", "Suginami", "Nerima", "Adachi", "Ota",
	"Edogawa", "Itabashi", "Koto", "Katsushika", "Meguro",
}

// Listing is one house in the synthetic inventory. ETag and LastMod
// back the 304 path for clients that send validators.
type Listing struct {
	ID       int
	Ward     string
	Rooms    int
	PriceMan int
	Photos   int
	LastMod  time.Time
	ETag     string
}

type Site struct {
	cfg *Config

	mu       sync.RWMutex
	listings []Listing
	byID     map[int]int

	churnRng *rand.Rand
}

// NewSite builds the inventory. The same seed always produces the same
// listings, markup and photo bytes.
func NewSite(cfg *Config) *Site {
	rng := rand.New(rand.NewSource(cfg.Seed))
	now := time.Now().UTC().Truncate(time.Second)

	site := &Site{
		cfg:      cfg,
		listings: make([]Listing, cfg.Listings),
		byID:     make(map[int]int, cfg.Listings),
		churnRng: rand.New(rand.NewSource(cfg.Seed + 1)),
	}

	for i := range site.listings {
		id := 1001 + i
		site.listings[i] = Listing{
			ID:       id,
			Ward:     wards[rng.Intn(len(wards))],
			Rooms:    2 + rng.Intn(4),
			PriceMan: 2480 + rng.Intn(400)*10,
			Photos:   1 + rng.Intn(4),
			LastMod:  now.Add(-time.Duration(rng.Intn(72)) * time.Hour),
			ETag:     uuid.NewString(),
		}
		site.byID[id] = i
	}

	return site
}

func (s *Site) PageCount() int {
	return (s.cfg.Listings + s.cfg.PageSize - 1) / s.cfg.PageSize
}

// Handler wraps the site routes with delay and error injection plus
// per-request stats recording.
func (s *Site) Handler(stats *GlobalStats) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		stats.RecordArrival()
		defer stats.RequestDone()

		if s.cfg.Latency > 0 || s.cfg.Jitter > 0 {
			delay := s.cfg.Latency
			if s.cfg.Jitter > 0 {
				delay += time.Duration(rand.Int63n(int64(s.cfg.Jitter)))
			}
			time.Sleep(delay)
		}

		userAgent := string(ctx.UserAgent())

		if s.cfg.ErrorRate > 0 && rand.Float64() < s.cfg.ErrorRate {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.Response.Header.Set("Retry-After", "5")
			ctx.SetBodyString("injected outage\n")
			stats.RecordRequest(pageInjected, fasthttp.StatusServiceUnavailable, len(ctx.Response.Body()), userAgent)
			return
		}

		kind := s.route(ctx)
		stats.RecordRequest(kind, ctx.Response.StatusCode(), len(ctx.Response.Body()), userAgent)
	}
}

func (s *Site) route(ctx *fasthttp.RequestCtx) pageKind {
	path := string(ctx.Path())

	switch {
	case path == "/list":
		s.serveList(ctx)
		return pageList
	case path == "/robots.txt":
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString("User-agent: *\nAllow: /\n")
		return pageOther
	case strings.HasPrefix(path, "/house/"):
		if s.serveDetail(ctx, path) {
			return pageDetail
		}
	case strings.HasPrefix(path, "/photos/"):
		if s.servePhoto(ctx, path) {
			return pageImage
		}
	}

	ctx.SetStatusCode(fasthttp.StatusNotFound)
	ctx.SetBodyString("not found\n")
	return pageOther
}

func (s *Site) serveList(ctx *fasthttp.RequestCtx) {
	page := 1
	if raw := ctx.QueryArgs().Peek("page"); len(raw) > 0 {
		if n, err := strconv.Atoi(string(raw)); err == nil && n > 0 {
			page = n
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := (page - 1) * s.cfg.PageSize
	if start >= len(s.listings) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("no such page\n")
		return
	}
	end := start + s.cfg.PageSize
	if end > len(s.listings) {
		end = len(s.listings)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>Houses for sale - page %d</title></head><body>\n", page)
	fmt.Fprintf(&b, "<h1>Houses for sale</h1>\n<ul>\n")
	for _, l := range s.listings[start:end] {
		fmt.Fprintf(&b, `<li><a href="/house/%d/">%dLDK detached house in %s - %d万円</a></li>`+"\n",
			l.ID, l.Rooms, l.Ward, l.PriceMan)
	}
	fmt.Fprintf(&b, "</ul>\n")
	if page > 1 {
		fmt.Fprintf(&b, `<a href="/list?page=%d">Previous page</a>`+"\n", page-1)
	}
	if end < len(s.listings) {
		fmt.Fprintf(&b, `<a href="/list?page=%d">Next page</a>`+"\n", page+1)
	}
	fmt.Fprintf(&b, "</body></html>\n")

	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBodyString(b.String())
}

func (s *Site) serveDetail(ctx *fasthttp.RequestCtx, path string) bool {
	id, ok := parseHousePath(path)
	if !ok {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	l := s.listings[idx]

	if notModified(ctx, l.ETag, l.LastMod) {
		return true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%dLDK detached house in %s</title></head><body>\n", l.Rooms, l.Ward)
	fmt.Fprintf(&b, "<h1>%dLDK detached house in %s</h1>\n", l.Rooms, l.Ward)
	fmt.Fprintf(&b, "<p>Listing no. %d</p>\n<p>Price: %d万円</p>\n", l.ID, l.PriceMan)
	for n := 1; n <= l.Photos; n++ {
		fmt.Fprintf(&b, `<img src="/photos/%d-%d.jpg" alt="photo %d">`+"\n", l.ID, n, n)
	}
	if prev, ok := s.byID[l.ID-1]; ok {
		fmt.Fprintf(&b, `<a href="/house/%d/">Previous listing</a>`+"\n", s.listings[prev].ID)
	}
	if next, ok := s.byID[l.ID+1]; ok {
		fmt.Fprintf(&b, `<a href="/house/%d/">Next listing</a>`+"\n", s.listings[next].ID)
	}
	fmt.Fprintf(&b, `<a href="/list">Back to search</a>`+"\n</body></html>\n")

	setValidators(ctx, l.ETag, l.LastMod)
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBodyString(b.String())
	return true
}

func (s *Site) servePhoto(ctx *fasthttp.RequestCtx, path string) bool {
	id, n, ok := parsePhotoPath(path)
	if !ok {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	l := s.listings[idx]
	if n < 1 || n > l.Photos {
		return false
	}

	etag := fmt.Sprintf("%s-%d", l.ETag, n)
	if notModified(ctx, etag, l.LastMod) {
		return true
	}

	setValidators(ctx, etag, l.LastMod)
	ctx.SetContentType("image/jpeg")
	ctx.SetBody(photoBytes(id, n))
	return true
}

// photoBytes fabricates a stable pseudo-JPEG for a listing photo. Only
// the magic bytes matter to the harvester; the rest is deterministic
// filler so sizes and hashes stay reproducible.
func photoBytes(id, n int) []byte {
	size := 4096 + ((id*131 + n*977) % 28672)
	body := make([]byte, size)
	copy(body, "\xff\xd8\xff\xe0\x00\x10JFIF")
	for i := 10; i < size; i++ {
		body[i] = byte((id*31 + n*17 + i) & 0xff)
	}
	return body
}

func parseHousePath(path string) (int, bool) {
	trimmed := strings.TrimPrefix(path, "/house/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return 0, false
	}
	id, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return id, true
}

func parsePhotoPath(path string) (int, int, bool) {
	name := strings.TrimPrefix(path, "/photos/")
	name = strings.TrimSuffix(name, ".jpg")
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	id, err1 := strconv.Atoi(parts[0])
	n, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return id, n, true
}

func setValidators(ctx *fasthttp.RequestCtx, etag string, lastMod time.Time) {
	ctx.Response.Header.Set("ETag", `"`+etag+`"`)
	ctx.Response.Header.Set("Last-Modified", lastMod.Format(http.TimeFormat))
}

// notModified answers 304 when the request's validators still match.
func notModified(ctx *fasthttp.RequestCtx, etag string, lastMod time.Time) bool {
	if match := string(ctx.Request.Header.Peek("If-None-Match")); match != "" {
		if strings.Trim(match, `"`) == etag {
			ctx.SetStatusCode(fasthttp.StatusNotModified)
			setValidators(ctx, etag, lastMod)
			return true
		}
		return false
	}

	if since := string(ctx.Request.Header.Peek("If-Modified-Since")); since != "" {
		if t, err := http.ParseTime(since); err == nil && !lastMod.After(t) {
			ctx.SetStatusCode(fasthttp.StatusNotModified)
			setValidators(ctx, etag, lastMod)
			return true
		}
	}
	return false
}

// churnLoop mutates one random listing per tick: new price, new ETag,
// fresh Last-Modified. Repeat crawls of a churning site see content
// change between passes.
func (s *Site) churnLoop(ctx context.Context, interval time.Duration, stats *GlobalStats) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			idx := s.churnRng.Intn(len(s.listings))
			l := &s.listings[idx]
			l.PriceMan += (s.churnRng.Intn(11) - 5) * 10
			l.LastMod = time.Now().UTC().Truncate(time.Second)
			l.ETag = uuid.NewString()
			s.mu.Unlock()
			stats.RecordChurn()
		}
	}
}
