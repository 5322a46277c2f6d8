// Package ratelimit is the per-site sliding-window admission gate. The
// window lives in the request_events table, so every worker process on the
// host counts against the same budget.
package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

const (
	// storeErrorBackoff is the wait imposed when the database cannot be
	// consulted. Admission is denied rather than allowed while blind.
	storeErrorBackoff = 5 * time.Second

	// minWait bounds the re-poll interval so a full window never turns
	// into a busy loop when the oldest event is about to roll out.
	minWait = 10 * time.Millisecond
)

// Decision is the outcome of a single non-blocking admission check.
type Decision struct {
	Allowed bool
	// Wait is how long to sleep before re-checking when not allowed.
	Wait time.Duration
	// InWindow and Budget describe the window at check time. Both are
	// zero when the site has no rate-limit configuration.
	InWindow int64
	Budget   int
}

// Stats is the read-only window report for the ops surface.
type Stats struct {
	Site           string        `json:"site"`
	Budget         int           `json:"budget"`
	Period         time.Duration `json:"period"`
	InWindow       int64         `json:"in_window"`
	Remaining      int64         `json:"remaining"`
	Failed         int64         `json:"failed"`
	CachedInWindow int64         `json:"cached_in_window"`
	AvgResponseMs  float64       `json:"avg_response_ms"`
}

// Limiter admits requests against per-site budgets persisted in the store.
type Limiter struct {
	store  *store.Store
	clock  clock.Clock
	logger *zap.Logger
}

func New(st *store.Store, clk clock.Clock, logger *zap.Logger) *Limiter {
	return &Limiter{store: st, clock: clk, logger: logger}
}

// CanAdmit checks the window once without blocking. A site without a
// configuration row is admitted with a warning. A store failure denies
// admission with a fixed back-off wait.
func (l *Limiter) CanAdmit(ctx context.Context, site string) Decision {
	cfg, err := l.store.GetRateLimit(ctx, site)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Warn("No rate limit configured for site, allowing request",
			zap.String("site", site))
		return Decision{Allowed: true}
	}
	if err != nil {
		l.logger.Error("Rate limit config lookup failed, denying admission",
			zap.String("site", site),
			zap.Error(err))
		return Decision{Wait: storeErrorBackoff}
	}

	now := l.clock.Now()
	period := time.Duration(cfg.PeriodSeconds) * time.Second
	since := now.Add(-period).UnixMilli()

	count, oldest, err := l.store.WindowState(ctx, site, since)
	if err != nil {
		l.logger.Error("Rate limit window query failed, denying admission",
			zap.String("site", site),
			zap.Error(err))
		return Decision{Wait: storeErrorBackoff}
	}

	if count < int64(cfg.Budget) {
		return Decision{Allowed: true, InWindow: count, Budget: cfg.Budget}
	}

	// Window full: the next slot frees when the oldest counted event
	// leaves the trailing period.
	wait := time.UnixMilli(oldest).Add(period).Sub(now)
	if wait < minWait {
		wait = minWait
	}
	return Decision{Wait: wait, InWindow: count, Budget: cfg.Budget}
}

// Admit blocks until the site has budget or ctx is canceled. It returns
// whether any waiting happened; the only error it can return is the
// context's.
func (l *Limiter) Admit(ctx context.Context, site string) (slept bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return slept, err
		}

		d := l.CanAdmit(ctx, site)
		if d.Allowed {
			return slept, nil
		}
		slept = true

		l.logger.Debug("Rate limit window full, waiting",
			zap.String("site", site),
			zap.Int64("in_window", d.InWindow),
			zap.Int("budget", d.Budget),
			zap.Duration("wait", d.Wait))

		select {
		case <-l.clock.After(d.Wait):
		case <-ctx.Done():
			return slept, ctx.Err()
		}
	}
}

// Record appends one request outcome to the shared journal. Only
// successful non-cached requests consume window budget, but every outcome
// is recorded for the stats surface.
func (l *Limiter) Record(ctx context.Context, site string, status types.RequestStatus, responseTime time.Duration, errMsg string, fromCache bool) error {
	ev := &store.RequestEvent{
		SiteName:         site,
		RequestTimestamp: l.clock.Now().UnixMilli(),
		Status:           string(status),
		FromCache:        fromCache,
	}
	if responseTime > 0 {
		ev.ResponseTimeMs = sql.NullInt64{Int64: responseTime.Milliseconds(), Valid: true}
	}
	if errMsg != "" {
		ev.ErrorMessage = sql.NullString{String: errMsg, Valid: true}
	}
	return l.store.InsertRequestEvent(ctx, ev)
}

// Stats reports the current window usage for a site.
func (l *Limiter) Stats(ctx context.Context, site string) (*Stats, error) {
	cfg, err := l.store.GetRateLimit(ctx, site)
	if err != nil {
		return nil, err
	}

	period := time.Duration(cfg.PeriodSeconds) * time.Second
	since := l.clock.Now().Add(-period).UnixMilli()

	ws, err := l.store.GetWindowStats(ctx, site, since)
	if err != nil {
		return nil, err
	}

	remaining := int64(cfg.Budget) - ws.InWindow
	if remaining < 0 {
		remaining = 0
	}

	return &Stats{
		Site:           site,
		Budget:         cfg.Budget,
		Period:         period,
		InWindow:       ws.InWindow,
		Remaining:      remaining,
		Failed:         ws.Failed,
		CachedInWindow: ws.Cached,
		AvgResponseMs:  ws.AvgResponseMs,
	}, nil
}

// ApplyConfig upserts per-site overrides from the configuration file.
// File settings win over the seeded defaults; sites without a rate_limit
// block keep whatever the database already holds.
func (l *Limiter) ApplyConfig(ctx context.Context, sites []configtypes.SiteConfig) error {
	now := l.clock.Now().UnixMilli()

	for i := range sites {
		site := &sites[i]
		if site.RateLimit == nil {
			continue
		}

		rl := site.RateLimit
		row := &store.RateLimitRow{
			SiteName:          site.Name,
			Budget:            rl.Requests,
			PeriodSeconds:     int(rl.Period.ToDuration() / time.Second),
			ConcurrentLimit:   rl.Concurrent,
			RetryAfterSeconds: int(rl.RetryAfter.ToDuration() / time.Second),
			UpdatedAt:         now,
		}
		if err := l.store.UpsertRateLimit(ctx, row); err != nil {
			return err
		}

		l.logger.Info("Rate limit override applied",
			zap.String("site", site.Name),
			zap.Int("budget", row.Budget),
			zap.Int("period_seconds", row.PeriodSeconds))
	}
	return nil
}
