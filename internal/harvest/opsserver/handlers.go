package opsserver

import (
	"errors"
	"os"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/xyshyniaphy/SECCAMP/internal/common/httputil"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
)

type healthReport struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	CacheRoot     string `json:"cache_root"`
	ValidEntries  int64  `json:"valid_entries"`
	ContentRows   int64  `json:"content_rows"`
}

func (s *Server) handleHealthz(ctx *fasthttp.RequestCtx) {
	report := healthReport{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Database:      "ok",
		CacheRoot:     "ok",
	}
	healthy := true

	if err := s.deps.Store.Ping(ctx); err != nil {
		report.Database = err.Error()
		healthy = false
	} else {
		if n, err := s.deps.Store.CountValidEntries(ctx); err == nil {
			report.ValidEntries = n
		}
		if n, err := s.deps.Store.CountContent(ctx); err == nil {
			report.ContentRows = n
		}
	}

	if err := probeWritable(s.deps.CacheRoot); err != nil {
		report.CacheRoot = err.Error()
		healthy = false
	}

	if !healthy {
		report.Status = "degraded"
		httputil.JSONResponse(ctx, false, "degraded", report, fasthttp.StatusServiceUnavailable)
		return
	}
	httputil.JSONData(ctx, report, fasthttp.StatusOK)
}

// probeWritable writes and removes a marker file. Checking permissions is
// not enough; a full or read-only filesystem fails only on a real write.
func probeWritable(root string) error {
	f, err := os.CreateTemp(root, ".healthz-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *Server) handleCacheStats(ctx *fasthttp.RequestCtx) {
	stats, err := s.deps.Cache.Stats(ctx)
	if err != nil {
		httputil.JSONError(ctx, "cache stats failed: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	httputil.JSONData(ctx, stats, fasthttp.StatusOK)
}

func (s *Server) handleRateLimitStats(ctx *fasthttp.RequestCtx) {
	site := string(ctx.QueryArgs().Peek("site"))
	if site == "" {
		httputil.JSONError(ctx, "missing site parameter", fasthttp.StatusBadRequest)
		return
	}

	stats, err := s.deps.Limiter.Stats(ctx, site)
	if errors.Is(err, store.ErrNotFound) {
		httputil.JSONError(ctx, "no rate limit for site "+site, fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		httputil.JSONError(ctx, "rate limit stats failed: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	httputil.JSONData(ctx, stats, fasthttp.StatusOK)
}

type sessionView struct {
	SessionID  string `json:"session_id"`
	Site       string `json:"site"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Fetched    int64  `json:"fetched"`
	FromCache  int64  `json:"from_cache"`
	Failed     int64  `json:"failed"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleSessions(ctx *fasthttp.RequestCtx) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.deps.Sessions.Recent(ctx, limit)
	if err != nil {
		httputil.JSONError(ctx, "session query failed: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}

	views := make([]sessionView, 0, len(rows))
	for _, row := range rows {
		v := sessionView{
			SessionID: row.SessionID,
			Site:      row.SiteName,
			Type:      row.SessionType,
			Status:    row.Status,
			StartedAt: time.UnixMilli(row.StartedAt).UTC().Format(time.RFC3339),
			Fetched:   row.PagesFetched,
			FromCache: row.PagesFromCache,
			Failed:    row.PagesFailed,
		}
		if row.FinishedAt.Valid {
			v.FinishedAt = time.UnixMilli(row.FinishedAt.Int64).UTC().Format(time.RFC3339)
		}
		if row.ErrorMessage.Valid {
			v.Error = row.ErrorMessage.String
		}
		views = append(views, v)
	}

	httputil.JSONData(ctx, views, fasthttp.StatusOK)
}

func (s *Server) handleCacheInvalidate(ctx *fasthttp.RequestCtx) {
	rawURL := string(ctx.QueryArgs().Peek("url"))
	site := string(ctx.QueryArgs().Peek("site"))
	if rawURL == "" || site == "" {
		httputil.JSONError(ctx, "url and site parameters are required", fasthttp.StatusBadRequest)
		return
	}

	found, err := s.deps.Cache.Invalidate(ctx, rawURL, site)
	if err != nil {
		httputil.JSONError(ctx, "invalidate failed: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	if !found {
		httputil.JSONError(ctx, "no cache entry for URL", fasthttp.StatusNotFound)
		return
	}
	httputil.JSONSuccess(ctx, "entry invalidated", fasthttp.StatusOK)
}

func (s *Server) handleCleanupRun(ctx *fasthttp.RequestCtx) {
	result, err := s.deps.Cleaner.RunOnce(ctx)
	if err != nil {
		httputil.JSONError(ctx, "cleanup failed: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	httputil.JSONData(ctx, result, fasthttp.StatusOK)
}
