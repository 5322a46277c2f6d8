// Package config loads and validates the harvester configuration and
// provides thread-safe access to per-site settings.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/internal/common/yamlutil"
)

// Type aliases so callers can avoid importing configtypes directly
type (
	HarvesterConfig = configtypes.HarvesterConfig
	StorageConfig   = configtypes.StorageConfig
	CacheConfig     = configtypes.CacheConfig
	HarvestConfig   = configtypes.HarvestConfig
	ChromeConfig    = configtypes.ChromeConfig
	SiteConfig      = configtypes.SiteConfig
	SiteRateLimit   = configtypes.SiteRateLimit
	OpsConfig       = configtypes.OpsConfig
	LogConfig       = configtypes.LogConfig
	MetricsConfig   = configtypes.MetricsConfig
)

// Compile-time interface satisfaction check
var _ configtypes.ConfigManager = (*Manager)(nil)

// siteIndex holds the site slice plus a lowercase-name lookup map so reads
// stay O(1) without locking.
type siteIndex struct {
	sites  []SiteConfig
	byName map[string]*SiteConfig
}

func buildSiteIndex(sites []SiteConfig) *siteIndex {
	idx := &siteIndex{
		sites:  sites,
		byName: make(map[string]*SiteConfig, len(sites)),
	}
	for i := range sites {
		idx.byName[strings.ToLower(sites[i].Name)] = &sites[i]
	}
	return idx
}

// Manager handles configuration loading and lookup.
type Manager struct {
	config     *HarvesterConfig
	index      atomic.Pointer[siteIndex]
	configPath string
	logger     *zap.Logger
}

// NewManager loads the configuration file at configPath, applies defaults
// and validates the result.
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		configPath: configPath,
		logger:     logger,
	}

	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return m, nil
}

func (m *Manager) load() error {
	var cfg HarvesterConfig
	if err := yamlutil.LoadFile(m.configPath, &cfg); err != nil {
		return err
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return err
	}

	m.config = &cfg
	m.index.Store(buildSiteIndex(cfg.Sites))

	m.logger.Info("Configuration loaded",
		zap.String("path", m.configPath),
		zap.Int("sites", len(cfg.Sites)))

	return nil
}

// GetConfig returns the main harvester configuration (read-only)
func (m *Manager) GetConfig() *HarvesterConfig {
	return m.config
}

// GetSites returns all configured sites (read-only slice)
func (m *Manager) GetSites() []SiteConfig {
	return m.index.Load().sites
}

// GetSiteByName returns the site config for a name, or nil if not found.
// Matching is case-insensitive.
func (m *Manager) GetSiteByName(name string) *SiteConfig {
	return m.index.Load().byName[strings.ToLower(name)]
}

// KeepParams returns the query-parameter allow-list for a site and whether
// the site is configured. The URL canonicalizer consumes this.
func (m *Manager) KeepParams(site string) ([]string, bool) {
	sc := m.GetSiteByName(site)
	if sc == nil {
		return nil, false
	}
	return sc.KeepParams, true
}

