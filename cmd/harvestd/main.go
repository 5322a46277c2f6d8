package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/clock"
	"github.com/xyshyniaphy/SECCAMP/internal/common/config"
	"github.com/xyshyniaphy/SECCAMP/internal/common/logger"
	"github.com/xyshyniaphy/SECCAMP/internal/common/metricsserver"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cache"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/canonical"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/cleanup"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/coordinator"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/crawler"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/driver"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/metrics"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/opsserver"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/ratelimit"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/session"
	"github.com/xyshyniaphy/SECCAMP/internal/harvest/store"
)

func main() {
	configPath := flag.String("c", "configs/harvester.yaml", "path to configuration file")
	testMode := flag.Bool("t", false, "test configuration and exit")
	once := flag.Bool("once", false, "run a single crawl pass and exit")
	flag.Parse()

	if *testMode {
		os.Exit(runConfigTest(*configPath))
	}

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting harvester", zap.String("config_path", *configPath))

	cfgMgr, err := config.NewManager(*configPath, initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := cfgMgr.GetConfig()

	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()
	appLogger := dynamicLogger.Logger

	ctx := context.Background()
	clk := clock.New()

	st, err := store.Open(ctx, cfg.Storage, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open store", zap.Error(err))
	}

	canon := canonical.New(cfgMgr, appLogger)

	lim := ratelimit.New(st, clk, appLogger)
	if err := lim.ApplyConfig(ctx, cfg.Sites); err != nil {
		appLogger.Fatal("Failed to apply rate limit config", zap.Error(err))
	}

	blobs, err := cache.NewBlobStore(cfg.Cache.Root, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open cache root", zap.Error(err))
	}
	pageCache := cache.New(st, blobs, canon, clk, cfg.Cache, appLogger)

	pm := metrics.NewPrometheusMetrics(cfg.Metrics.Namespace, appLogger)
	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		pm,
		appLogger,
	)
	if err != nil {
		appLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	httpDriver := driver.NewHTTPDriver(driver.HTTPConfig{
		UserAgent:         cfg.Harvest.UserAgent,
		Timeout:           cfg.Harvest.FetchTimeout.ToDuration(),
		AllowPrivateHosts: cfg.Harvest.AllowPrivateHosts,
	}, appLogger)

	// chromeDriver must stay an untyped nil when the pool is disabled so
	// the selector's nil check holds.
	var chromeDriver driver.Driver
	var chromePool *driver.ChromeDriver
	if cfg.Chrome.Enabled {
		chromePool, err = driver.NewChromeDriver(driver.ChromeConfig{
			PoolSize:          cfg.Chrome.PoolSize,
			UserAgent:         cfg.Harvest.UserAgent,
			WarmupURL:         cfg.Chrome.WarmupURL,
			PageLoadTimeout:   cfg.Chrome.PageLoadTimeout.ToDuration(),
			RestartAfterCount: cfg.Chrome.RestartAfterCount,
			RestartAfterTime:  cfg.Chrome.RestartAfterTime.ToDuration(),
		}, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to start Chrome pool", zap.Error(err))
		}
		chromeDriver = chromePool
	}

	drivers := driver.NewSelector(httpDriver, chromeDriver, cfg.Sites, appLogger)
	coord := coordinator.New(pageCache, lim, drivers, pm, appLogger)
	recorder := session.NewRecorder(st, clk, pm, appLogger)
	cr := crawler.New(coord, canon, recorder, cfgMgr, appLogger)

	cleanupMetrics := cleanup.NewCleanupMetrics(cfg.Metrics.Namespace, appLogger)
	cleanupWorker := cleanup.NewWorker(cfg.Cache.Cleanup, pageCache, st, clk, appLogger, cleanupMetrics)
	cleanupWorker.Start()

	var opsServer *opsserver.Server
	if cfg.Ops.Enabled && cfg.Ops.Listen != "" {
		opsServer = opsserver.New(cfg.Ops, opsserver.Deps{
			Store:     st,
			Cache:     pageCache,
			Limiter:   lim,
			Sessions:  recorder,
			Cleaner:   cleanupWorker,
			CacheRoot: cfg.Cache.Root,
		}, appLogger)
		go func() {
			if err := opsServer.Start(); err != nil {
				appLogger.Error("Ops server failed", zap.Error(err))
			}
		}()
	}

	crawlCtx, cancelCrawls := context.WithCancel(context.Background())
	crawlDone := make(chan struct{})
	go func() {
		defer close(crawlDone)
		runCrawlLoop(crawlCtx, cr, cfgMgr, *once, appLogger)
	}()

	appLogger.Info("Harvester started",
		zap.Int("sites", len(cfg.Sites)),
		zap.Bool("chrome", cfg.Chrome.Enabled),
		zap.Bool("ops", opsServer != nil),
		zap.Bool("once", *once))

	dynamicLogger.SwitchToConfiguredLevel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if *once {
		select {
		case <-crawlDone:
			dynamicLogger.EnsureInfoLevelForShutdown()
			appLogger.Info("Single crawl pass complete, shutting down")
		case <-quit:
			dynamicLogger.EnsureInfoLevelForShutdown()
			appLogger.Info("Interrupted, shutting down")
		}
	} else {
		<-quit
		dynamicLogger.EnsureInfoLevelForShutdown()
		appLogger.Info("Shutting down harvester...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cancelCrawls()
	select {
	case <-crawlDone:
	case <-shutdownCtx.Done():
		appLogger.Warn("Crawl loop did not stop in time")
	}

	cleanupWorker.Shutdown()

	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Ops server shutdown error", zap.Error(err))
		}
	}

	if metricsServer != nil {
		appLogger.Info("Shutting down metrics server")
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if chromePool != nil {
		if err := chromePool.Shutdown(); err != nil {
			appLogger.Error("Chrome pool shutdown error", zap.Error(err))
		}
	}

	if err := st.Close(); err != nil {
		appLogger.Error("Store close error", zap.Error(err))
	}

	appLogger.Info("Harvester stopped")
}

// runCrawlLoop runs one crawl pass immediately and then one per configured
// interval until the context is cancelled.
func runCrawlLoop(ctx context.Context, cr *crawler.Crawler, cfgMgr *config.Manager, once bool, logger *zap.Logger) {
	interval := cfgMgr.GetConfig().Harvest.Interval.ToDuration()

	runPass := func() {
		start := time.Now()
		reports := cr.CrawlAll(ctx, crawler.ModeFull)

		var fetched, fromCache, failed int64
		for _, r := range reports {
			fetched += r.Fetched
			fromCache += r.FromCache
			failed += r.Failed
		}
		logger.Info("Crawl pass finished",
			zap.Int("sites", len(reports)),
			zap.Int64("fetched", fetched),
			zap.Int64("from_cache", fromCache),
			zap.Int64("failed", failed),
			zap.Duration("elapsed", time.Since(start)))
	}

	runPass()
	if once {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runPass()
		case <-ctx.Done():
			return
		}
	}
}

// runConfigTest validates the configuration file and reports the result in
// the usual check-syntax style.
func runConfigTest(configPath string) int {
	if _, err := config.NewManager(configPath, zap.NewNop()); err != nil {
		fmt.Fprintf(os.Stderr, "configuration file %s test failed: %v\n", configPath, err)
		return 1
	}
	fmt.Printf("configuration file %s syntax is ok\n", configPath)
	fmt.Println("configuration test is successful")
	return 0
}
