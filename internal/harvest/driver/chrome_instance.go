package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// chromeInstance is one warm headless browser owned by the pool. Ownership
// is exclusive: only the goroutine that dequeued the ID touches it, so the
// non-atomic fields need no locking.
type chromeInstance struct {
	id              int
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	ctx             context.Context
	cancel          context.CancelFunc
	createdAt       time.Time
	logger          *zap.Logger

	fetchesDone int32
	dead        int32
}

func newChromeInstance(id int, cfg ChromeConfig, logger *zap.Logger) (*chromeInstance, error) {
	instance := &chromeInstance{
		id:        id,
		createdAt: time.Now().UTC(),
		logger:    logger,
	}

	if err := instance.createBrowser(); err != nil {
		return nil, fmt.Errorf("failed to create Chrome instance %d: %w", id, err)
	}

	instance.logger.Info("Chrome instance created",
		zap.Int("instance_id", id))

	// Warmup the instance
	if err := instance.warmup(cfg); err != nil {
		instance.logger.Warn("Chrome instance warmup failed",
			zap.Int("instance_id", id),
			zap.Error(err))
		// Don't fail on warmup error, just log it
	}

	return instance, nil
}

// createBrowser initializes the Chrome browser process
func (ci *chromeInstance) createBrowser() error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	ci.allocatorCtx, ci.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)

	ci.ctx, ci.cancel = chromedp.NewContext(ci.allocatorCtx)

	// Start the browser (this doesn't navigate anywhere yet)
	if err := chromedp.Run(ci.ctx); err != nil {
		return fmt.Errorf("failed to start Chrome: %w", err)
	}

	return nil
}

// warmup navigates to a test page to ensure the browser is ready
func (ci *chromeInstance) warmup(cfg ChromeConfig) error {
	ctx, cancel := context.WithTimeout(ci.ctx, cfg.WarmupTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(cfg.WarmupURL)); err != nil {
		return fmt.Errorf("warmup navigation failed: %w", err)
	}

	return nil
}

// isAlive checks if the Chrome instance is still responsive
func (ci *chromeInstance) isAlive() bool {
	if atomic.LoadInt32(&ci.dead) != 0 {
		return false
	}

	// Try to get browser version as a health check
	ctx, cancel := context.WithTimeout(ci.ctx, 5*time.Second)
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))

	return err == nil
}

// age returns how long the instance has been running
func (ci *chromeInstance) age() time.Duration {
	return time.Now().UTC().Sub(ci.createdAt)
}

// shouldRestart determines if the instance needs to be restarted based on policies
func (ci *chromeInstance) shouldRestart(cfg ChromeConfig) bool {
	if int(atomic.LoadInt32(&ci.fetchesDone)) >= cfg.RestartAfterCount {
		return true
	}
	return ci.age() >= cfg.RestartAfterTime
}

// restart terminates and recreates the Chrome instance
func (ci *chromeInstance) restart(cfg ChromeConfig) error {
	ci.logger.Info("Restarting Chrome instance",
		zap.Int("instance_id", ci.id),
		zap.Int32("fetches_done", ci.fetchCount()),
		zap.Duration("age", ci.age()))

	if err := ci.terminate(); err != nil {
		ci.logger.Warn("Error terminating instance during restart",
			zap.Int("instance_id", ci.id),
			zap.Error(err))
	}

	atomic.StoreInt32(&ci.fetchesDone, 0)
	ci.createdAt = time.Now().UTC()
	atomic.StoreInt32(&ci.dead, 0)

	if err := ci.createBrowser(); err != nil {
		atomic.StoreInt32(&ci.dead, 1)
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}

	if err := ci.warmup(cfg); err != nil {
		ci.logger.Warn("Warmup failed after restart",
			zap.Int("instance_id", ci.id),
			zap.Error(err))
	}

	ci.logger.Info("Chrome instance restarted successfully",
		zap.Int("instance_id", ci.id))
	return nil
}

// terminate cleanly shuts down the Chrome instance
func (ci *chromeInstance) terminate() error {
	atomic.StoreInt32(&ci.dead, 1)

	if ci.cancel != nil {
		ci.cancel()
	}
	if ci.allocatorCancel != nil {
		ci.allocatorCancel()
	}

	return nil
}

// incrementFetches increments the fetch counter
func (ci *chromeInstance) incrementFetches() {
	atomic.AddInt32(&ci.fetchesDone, 1)
}

// fetchCount returns the number of completed fetches
func (ci *chromeInstance) fetchCount() int32 {
	return atomic.LoadInt32(&ci.fetchesDone)
}
