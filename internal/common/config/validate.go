package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/pkg/pattern"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// validate checks the configuration after defaults have been applied. It
// returns the first problem found, prefixed with the config path that
// caused it.
func validate(cfg *HarvesterConfig) error {
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if cfg.Cache.Root == "" {
		return fmt.Errorf("cache.root is required")
	}
	if !types.ValidCompression(cfg.Cache.Compression) {
		return fmt.Errorf("cache.compression: unknown algorithm %q (none, snappy, lz4)", cfg.Cache.Compression)
	}
	if cfg.Cache.MaxSizeMB < 0 {
		return fmt.Errorf("cache.max_size_mb must not be negative")
	}

	if cfg.Harvest.Workers < 1 {
		return fmt.Errorf("harvest.workers must be at least 1")
	}

	if cfg.Chrome.Enabled {
		if cfg.Chrome.PoolSize != "auto" {
			n, err := strconv.Atoi(cfg.Chrome.PoolSize)
			if err != nil || n < 1 {
				return fmt.Errorf("chrome.pool_size must be a positive number or \"auto\", got %q", cfg.Chrome.PoolSize)
			}
		}
	}

	seen := make(map[string]bool, len(cfg.Sites))
	for i := range cfg.Sites {
		if err := validateSite(&cfg.Sites[i], cfg); err != nil {
			return err
		}
		key := strings.ToLower(cfg.Sites[i].Name)
		if seen[key] {
			return fmt.Errorf("sites: duplicate site name %q", cfg.Sites[i].Name)
		}
		seen[key] = true
	}

	if cfg.Ops.Enabled {
		if err := configtypes.ValidateListenAddress(cfg.Ops.Listen); err != nil {
			return fmt.Errorf("ops.listen: %w", err)
		}
	}
	if cfg.Metrics.Enabled {
		if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
	}
	if cfg.Ops.Enabled && cfg.Metrics.Enabled && cfg.Ops.Listen == cfg.Metrics.Listen {
		return fmt.Errorf("ops.listen and metrics.listen must use different ports, both are %q", cfg.Ops.Listen)
	}

	switch cfg.Log.Level {
	case configtypes.LogLevelDebug, configtypes.LogLevelInfo, configtypes.LogLevelWarn, configtypes.LogLevelError:
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}

	return nil
}

func validateSite(site *SiteConfig, cfg *HarvesterConfig) error {
	if site.Name == "" {
		return fmt.Errorf("sites: every site needs a name")
	}

	prefix := fmt.Sprintf("sites.%s", site.Name)

	switch site.FetchMode {
	case configtypes.FetchModeHTTP:
	case configtypes.FetchModeChrome:
		if !cfg.Chrome.Enabled {
			return fmt.Errorf("%s: fetch_mode chrome requires chrome.enabled", prefix)
		}
	default:
		return fmt.Errorf("%s: unknown fetch_mode %q", prefix, site.FetchMode)
	}

	if site.IsEnabled() && len(site.EntryURLs) == 0 {
		return fmt.Errorf("%s: enabled site needs at least one entry URL", prefix)
	}
	for _, entry := range site.EntryURLs {
		u, err := url.Parse(entry)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: entry URL %q is not absolute", prefix, entry)
		}
	}

	for _, p := range []struct{ name, raw string }{
		{"detail_pattern", site.DetailPattern},
		{"next_page_pattern", site.NextPagePattern},
		{"image_pattern", site.ImagePattern},
	} {
		if p.raw == "" {
			continue
		}
		if _, err := pattern.Compile(p.raw); err != nil {
			return fmt.Errorf("%s.%s: %w", prefix, p.name, err)
		}
	}

	if rl := site.RateLimit; rl != nil {
		if rl.Requests < 1 {
			return fmt.Errorf("%s.rate_limit: requests must be at least 1", prefix)
		}
		if rl.Period <= 0 {
			return fmt.Errorf("%s.rate_limit: period must be positive", prefix)
		}
	}

	return nil
}
