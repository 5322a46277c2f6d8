// Package session records harvest runs as audit rows. Every crawl of a
// site opens a session, counts what it fetched, and closes the row with a
// final status, so operators can see what the recent runs actually did.
package session

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/sessionid"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/metrics"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// Recorder opens and closes session rows in the store.
type Recorder struct {
	store   *store.Store
	clock   clock.Clock
	metrics *metrics.PrometheusMetrics
	logger  *zap.Logger
}

// NewRecorder creates a session recorder. metrics may be nil when the
// metrics endpoint is disabled.
func NewRecorder(st *store.Store, clk clock.Clock, m *metrics.PrometheusMetrics, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:   st,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

// Session is one running harvest. Counters are atomic because crawler
// workers update them concurrently.
type Session struct {
	ID    string
	rowID int64
	site  string

	fetched   atomic.Int64
	fromCache atomic.Int64
	failed    atomic.Int64
}

// AddFetched counts a page brought back from the origin.
func (s *Session) AddFetched() { s.fetched.Add(1) }

// AddCached counts a page served from the cache.
func (s *Session) AddCached() { s.fromCache.Add(1) }

// AddFailed counts a page that could not be fetched.
func (s *Session) AddFailed() { s.failed.Add(1) }

// Fetched returns the origin-fetch count so far.
func (s *Session) Fetched() int64 { return s.fetched.Load() }

// FromCache returns the cache-hit count so far.
func (s *Session) FromCache() int64 { return s.fromCache.Load() }

// Failed returns the failure count so far.
func (s *Session) Failed() int64 { return s.failed.Load() }

// Begin opens a session row in the running state.
func (r *Recorder) Begin(ctx context.Context, site string, sessionType types.SessionType) (*Session, error) {
	id := sessionid.New(site, string(sessionType))

	rowID, err := r.store.InsertSession(ctx, &store.SessionRow{
		SessionID:   id,
		SiteName:    site,
		SessionType: string(sessionType),
		Status:      string(types.SessionRunning),
		StartedAt:   r.clock.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Harvest session started",
		zap.String("session_id", id),
		zap.String("site", site),
		zap.String("type", string(sessionType)))

	return &Session{ID: id, rowID: rowID, site: site}, nil
}

// Finish closes the session with its counters. A nil runErr marks it
// completed; anything else marks it failed and stores the message.
func (r *Recorder) Finish(ctx context.Context, s *Session, runErr error) error {
	status := types.SessionCompleted
	message := ""
	if runErr != nil {
		status = types.SessionFailed
		message = runErr.Error()
	}

	if err := r.store.FinishSession(ctx, s.rowID, string(status), r.clock.Now().UnixMilli(),
		s.fetched.Load(), s.fromCache.Load(), s.failed.Load(), message); err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordSession(s.site, status)
	}

	r.logger.Info("Harvest session finished",
		zap.String("session_id", s.ID),
		zap.String("site", s.site),
		zap.String("status", string(status)),
		zap.Int64("fetched", s.fetched.Load()),
		zap.Int64("from_cache", s.fromCache.Load()),
		zap.Int64("failed", s.failed.Load()))

	return nil
}

// Recent returns the latest session rows, newest first, for the ops
// surface and the CLI.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]store.SessionRow, error) {
	return r.store.RecentSessions(ctx, limit)
}
