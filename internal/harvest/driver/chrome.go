package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeDriver renders pages in a pool of headless Chrome instances with a
// simple FIFO queue. Listing sites that build their markup in JavaScript
// need a real browser; the pool keeps instances warm between fetches and
// restarts them before they bloat.
type ChromeDriver struct {
	cfg           ChromeConfig
	logger        *zap.Logger
	instances     []*chromeInstance
	queue         chan int     // FIFO queue of available instance IDs
	mu            sync.RWMutex // Protects instances slice
	activeFetches atomic.Int32
	totalFetches  atomic.Int64
	totalRestarts atomic.Int64
	createdAt     time.Time
	ctx           context.Context
	cancel        context.CancelFunc
}

// PoolStats is a point-in-time snapshot of the Chrome pool.
type PoolStats struct {
	TotalInstances     int           `json:"total_instances"`
	AvailableInstances int           `json:"available_instances"`
	ActiveInstances    int           `json:"active_instances"`
	TotalFetches       int64         `json:"total_fetches"`
	TotalRestarts      int64         `json:"total_restarts"`
	Uptime             time.Duration `json:"uptime"`
}

// NewChromeDriver creates the pool and starts every instance. Failure to
// start any instance tears down the ones already running.
func NewChromeDriver(cfg ChromeConfig, logger *zap.Logger) (*ChromeDriver, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolSize := cfg.CalculatePoolSize()
	logger.Info("Initializing Chrome pool",
		zap.Int("pool_size", poolSize))

	ctx, cancel := context.WithCancel(context.Background())

	d := &ChromeDriver{
		cfg:       cfg,
		logger:    logger,
		instances: make([]*chromeInstance, poolSize),
		queue:     make(chan int, poolSize),
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < poolSize; i++ {
		instance, err := newChromeInstance(i, cfg, logger)
		if err != nil {
			// Cleanup already created instances
			d.Shutdown()
			return nil, fmt.Errorf("failed to create Chrome instance %d: %w", i, err)
		}

		d.instances[i] = instance
		d.queue <- i // Add to available queue
	}

	logger.Info("Chrome pool initialized successfully",
		zap.Int("instances", poolSize))

	return d, nil
}

// acquire takes a Chrome instance from the pool, blocking until one is
// available or the caller's context ends.
func (d *ChromeDriver) acquire(ctx context.Context) (*chromeInstance, error) {
	select {
	case <-d.ctx.Done():
		return nil, ErrPoolShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	case instanceID := <-d.queue:
		// Double-check if shutdown happened while we were waiting on queue
		select {
		case <-d.ctx.Done():
			select {
			case d.queue <- instanceID:
			default:
			}
			return nil, ErrPoolShutdown
		default:
		}

		d.activeFetches.Add(1)

		d.mu.RLock()
		instance := d.instances[instanceID]
		d.mu.RUnlock()

		if !instance.isAlive() {
			d.logger.Warn("Chrome instance is dead, restarting",
				zap.Int("instance_id", instanceID),
				zap.Int32("fetches_done", instance.fetchCount()))

			if err := instance.restart(d.cfg); err != nil {
				d.logger.Error("Failed to restart dead instance",
					zap.Int("instance_id", instanceID),
					zap.Error(err))
				// Return to queue with select to avoid panic during shutdown
				select {
				case d.queue <- instanceID:
				case <-d.ctx.Done():
				}
				d.activeFetches.Add(-1)
				return nil, fmt.Errorf("%w: instance %d", ErrInstanceDead, instanceID)
			}
			d.totalRestarts.Add(1)
		}

		if instance.shouldRestart(d.cfg) {
			d.logger.Info("Chrome instance needs restart based on policy",
				zap.Int("instance_id", instanceID),
				zap.Int32("fetches_done", instance.fetchCount()),
				zap.Duration("age", instance.age()))

			if err := instance.restart(d.cfg); err != nil {
				d.logger.Error("Failed to restart instance",
					zap.Int("instance_id", instanceID),
					zap.Error(err))
				// Continue with current instance despite restart failure
			} else {
				d.totalRestarts.Add(1)
			}
		}

		d.logger.Debug("Chrome instance acquired",
			zap.Int("instance_id", instanceID),
			zap.Int32("active_fetches", d.activeFetches.Load()))

		return instance, nil
	}
}

// release returns a Chrome instance back to the pool
func (d *ChromeDriver) release(instance *chromeInstance) {
	instance.incrementFetches()
	d.totalFetches.Add(1)
	d.activeFetches.Add(-1)

	// Return to queue with select to avoid panic if shutting down
	select {
	case d.queue <- instance.id:
		d.logger.Debug("Chrome instance released",
			zap.Int("instance_id", instance.id),
			zap.Int32("fetches_done", instance.fetchCount()),
			zap.Int32("active_fetches", d.activeFetches.Load()))
	case <-d.ctx.Done():
		d.logger.Debug("Discarding instance during shutdown",
			zap.Int("instance_id", instance.id))
	default:
		// Queue full - should never happen, indicates bug
		d.logger.Error("Queue full when returning instance - possible leak",
			zap.Int("instance_id", instance.id),
			zap.Int("queue_len", len(d.queue)))
	}
}

// Fetch renders the page in a pooled instance and returns the outer HTML
// after the document is ready.
func (d *ChromeDriver) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	instance, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer d.release(instance)

	// Each fetch gets a fresh tab so instance state never leaks between
	// pages. The tab dies with the caller's context.
	tabCtx, tabCancel := chromedp.NewContext(instance.ctx)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	runCtx, runCancel := context.WithTimeout(tabCtx, d.cfg.PageLoadTimeout)
	defer runCancel()

	var (
		html       string
		finalURL   string
		statusCode int
		statusMu   sync.Mutex
	)

	tasks := chromedp.Tasks{
		// Listener must be installed before navigation or the document
		// response slips past it.
		chromedp.ActionFunc(func(ctx context.Context) error {
			chromedp.ListenTarget(ctx, func(ev interface{}) {
				if resp, ok := ev.(*network.EventResponseReceived); ok {
					if resp.Type == network.ResourceTypeDocument {
						// The last document response wins so redirect chains
						// report the page actually rendered.
						statusMu.Lock()
						statusCode = int(resp.Response.Status)
						statusMu.Unlock()
					}
				}
			})
			return nil
		}),

		network.Enable(),
		emulation.SetUserAgentOverride(d.cfg.UserAgent),

		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),

		extractHTML(&html),
		chromedp.Location(&finalURL),
	}

	if err := chromedp.Run(runCtx, tasks...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, rawURL, d.cfg.PageLoadTimeout)
		}
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}

	statusMu.Lock()
	status := statusCode
	statusMu.Unlock()
	if status == 0 {
		return nil, fmt.Errorf("%w for %s", ErrStatusCapture, rawURL)
	}

	if finalURL == "" {
		finalURL = rawURL
	}

	return &Result{
		StatusCode: status,
		Body:       []byte(html),
		FinalURL:   finalURL,
		Duration:   time.Since(start),
	}, nil
}

// extractHTML extracts the page HTML with retry logic
func extractHTML(output *string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		var lastErr error

		for attempt := 0; attempt < 3; attempt++ {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				lastErr = err
				time.Sleep(300 * time.Millisecond)
				continue
			}

			html, err := dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			if err != nil {
				lastErr = err
				time.Sleep(300 * time.Millisecond)
				continue
			}

			*output = html
			return nil
		}

		return fmt.Errorf("%w after 3 attempts: %v", ErrExtractHTML, lastErr)
	}
}

// Stats returns current pool statistics
func (d *ChromeDriver) Stats() PoolStats {
	d.mu.RLock()
	totalInstances := len(d.instances)
	d.mu.RUnlock()

	return PoolStats{
		TotalInstances:     totalInstances,
		AvailableInstances: len(d.queue),
		ActiveInstances:    int(d.activeFetches.Load()),
		TotalFetches:       d.totalFetches.Load(),
		TotalRestarts:      d.totalRestarts.Load(),
		Uptime:             time.Since(d.createdAt),
	}
}

// Shutdown gracefully shuts down all Chrome instances with default timeout
func (d *ChromeDriver) Shutdown() error {
	return d.ShutdownWithTimeout(d.cfg.ShutdownTimeout)
}

// ShutdownWithTimeout drains active fetches up to the timeout, then
// terminates every instance regardless.
func (d *ChromeDriver) ShutdownWithTimeout(timeout time.Duration) error {
	d.logger.Info("Initiating Chrome pool shutdown",
		zap.Duration("timeout", timeout),
		zap.Int32("active_fetches", d.activeFetches.Load()))

	d.cancel()

	if d.waitForActiveFetches(timeout) {
		d.logger.Info("All active fetches completed gracefully")
	} else {
		d.logger.Warn("Shutdown timeout exceeded, forcing termination",
			zap.Int32("stuck_fetches", d.activeFetches.Load()))
	}

	d.mu.Lock()
	var errs []error
	for i, instance := range d.instances {
		if instance == nil {
			continue
		}

		if err := instance.terminate(); err != nil {
			d.logger.Error("Error terminating instance",
				zap.Int("instance_id", i),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	d.mu.Unlock()

	// Note: We don't close the queue to avoid panics on send
	// The queue becomes irrelevant after context cancellation

	stats := d.Stats()
	d.logger.Info("Chrome pool shut down",
		zap.Int64("total_fetches", stats.TotalFetches),
		zap.Int64("total_restarts", stats.TotalRestarts),
		zap.Duration("uptime", stats.Uptime))

	if len(errs) > 0 {
		return fmt.Errorf("encountered %d errors during shutdown", len(errs))
	}

	return nil
}

// waitForActiveFetches waits for all active fetches to complete with timeout.
// Returns true if all fetches completed, false if timeout was reached.
func (d *ChromeDriver) waitForActiveFetches(timeout time.Duration) bool {
	deadline := time.Now().UTC().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.activeFetches.Load() == 0 {
			return true
		}

		<-ticker.C
		if time.Now().UTC().After(deadline) {
			return false
		}
	}
}
