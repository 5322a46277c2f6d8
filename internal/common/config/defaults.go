package config

import (
	"time"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// Built-in defaults applied before validation. Only zero values are filled
// in, so anything written in the config file wins.
const (
	DefaultUserAgent = "SECCAMP-Harvester/1.0 (+https://github.com/xyshyniaphy/SECCAMP)"

	defaultWorkers          = 2
	defaultHarvestInterval  = time.Hour
	defaultFetchTimeout     = 60 * time.Second
	defaultBusyTimeout      = 5 * time.Second
	defaultMaxOpenConns     = 4
	defaultMaxIdleConns     = 2
	defaultConnMaxLifetime  = 30 * time.Minute
	defaultMaxCacheSizeMB   = 1024
	defaultCleanupInterval  = 6 * time.Hour
	defaultCleanupMaxAge    = 30 * 24 * time.Hour
	defaultPageLoadTimeout  = 60 * time.Second
	defaultRestartCount     = 100
	defaultRestartTime      = time.Hour
	defaultRetryAfter       = 60 * time.Second
	defaultMaxPages         = 10
	defaultMaxDetails       = 100
	defaultMaxImagesPerPage = 5
	defaultOpsListen        = ":9470"
	defaultMetricsListen    = ":9471"
	defaultMetricsPath      = "/metrics"
	defaultMetricsNamespace = "seccamp"
)

func applyDefaults(cfg *HarvesterConfig) {
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = types.Duration(defaultBusyTimeout)
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.Storage.ConnMaxLifetime == 0 {
		cfg.Storage.ConnMaxLifetime = types.Duration(defaultConnMaxLifetime)
	}

	if cfg.Cache.TTL.List == 0 {
		cfg.Cache.TTL.List = types.Duration(types.PageTypeList.DefaultTTL())
	}
	if cfg.Cache.TTL.Detail == 0 {
		cfg.Cache.TTL.Detail = types.Duration(types.PageTypeDetail.DefaultTTL())
	}
	if cfg.Cache.TTL.Image == 0 {
		cfg.Cache.TTL.Image = types.Duration(types.PageTypeImage.DefaultTTL())
	}
	if cfg.Cache.Compression == "" {
		cfg.Cache.Compression = types.CompressionNone
	}
	if cfg.Cache.MaxSizeMB == 0 {
		cfg.Cache.MaxSizeMB = defaultMaxCacheSizeMB
	}
	if cfg.Cache.Cleanup == nil {
		cfg.Cache.Cleanup = &configtypes.CleanupConfig{Enabled: true}
	}
	if cfg.Cache.Cleanup.Interval == 0 {
		cfg.Cache.Cleanup.Interval = types.Duration(defaultCleanupInterval)
	}
	if cfg.Cache.Cleanup.MaxAge == 0 {
		cfg.Cache.Cleanup.MaxAge = types.Duration(defaultCleanupMaxAge)
	}

	if cfg.Harvest.Workers == 0 {
		cfg.Harvest.Workers = defaultWorkers
	}
	if cfg.Harvest.Interval == 0 {
		cfg.Harvest.Interval = types.Duration(defaultHarvestInterval)
	}
	if cfg.Harvest.UserAgent == "" {
		cfg.Harvest.UserAgent = DefaultUserAgent
	}
	if cfg.Harvest.FetchTimeout == 0 {
		cfg.Harvest.FetchTimeout = types.Duration(defaultFetchTimeout)
	}

	if cfg.Chrome.PoolSize == "" {
		cfg.Chrome.PoolSize = "auto"
	}
	if cfg.Chrome.PageLoadTimeout == 0 {
		cfg.Chrome.PageLoadTimeout = types.Duration(defaultPageLoadTimeout)
	}
	if cfg.Chrome.RestartAfterCount == 0 {
		cfg.Chrome.RestartAfterCount = defaultRestartCount
	}
	if cfg.Chrome.RestartAfterTime == 0 {
		cfg.Chrome.RestartAfterTime = types.Duration(defaultRestartTime)
	}

	for i := range cfg.Sites {
		site := &cfg.Sites[i]
		if site.FetchMode == "" {
			site.FetchMode = configtypes.FetchModeHTTP
		}
		if site.MaxPages == 0 {
			site.MaxPages = defaultMaxPages
		}
		if site.MaxDetails == 0 {
			site.MaxDetails = defaultMaxDetails
		}
		if site.MaxImagesPerPage == 0 {
			site.MaxImagesPerPage = defaultMaxImagesPerPage
		}
		if site.RateLimit != nil {
			if site.RateLimit.Concurrent == 0 {
				site.RateLimit.Concurrent = 1
			}
			if site.RateLimit.RetryAfter == 0 {
				site.RateLimit.RetryAfter = types.Duration(defaultRetryAfter)
			}
		}
	}

	if cfg.Ops.Enabled && cfg.Ops.Listen == "" {
		cfg.Ops.Listen = defaultOpsListen
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			cfg.Metrics.Listen = defaultMetricsListen
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = defaultMetricsPath
		}
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaultMetricsNamespace
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
}
