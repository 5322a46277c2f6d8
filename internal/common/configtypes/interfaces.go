package configtypes

import "strings"

// ConfigManager provides access to harvester configuration.
// Implementations must be safe for concurrent use.
// Returned pointers are read-only - callers must not modify them.
type ConfigManager interface {
	// GetConfig returns the main harvester configuration (read-only)
	GetConfig() *HarvesterConfig

	// GetSites returns all configured sites (read-only slice)
	GetSites() []SiteConfig

	// GetSiteByName returns the site config for a name, or nil if not
	// found. Matching is case-insensitive.
	GetSiteByName(name string) *SiteConfig
}

// StaticConfig is a fixed ConfigManager for tests and tools.
type StaticConfig struct {
	Config HarvesterConfig
}

func (s *StaticConfig) GetConfig() *HarvesterConfig { return &s.Config }

func (s *StaticConfig) GetSites() []SiteConfig { return s.Config.Sites }

func (s *StaticConfig) GetSiteByName(name string) *SiteConfig {
	for i := range s.Config.Sites {
		if strings.EqualFold(s.Config.Sites[i].Name, name) {
			return &s.Config.Sites[i]
		}
	}
	return nil
}
