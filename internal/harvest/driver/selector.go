package driver

import (
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/internal/common/configtypes"
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// Selector routes each fetch to the right driver. Sites declare their fetch
// mode in config; images always take the HTTP path because a browser render
// of a JPEG is a waste of a Chrome tab.
type Selector struct {
	http   Driver
	chrome Driver
	modes  map[string]string
	logger *zap.Logger
}

// NewSelector builds the routing table from site configs. chromeDriver may
// be nil when the Chrome pool is disabled; chrome-mode sites then degrade
// to plain HTTP.
func NewSelector(httpDriver, chromeDriver Driver, sites []configtypes.SiteConfig, logger *zap.Logger) *Selector {
	modes := make(map[string]string, len(sites))
	for _, site := range sites {
		modes[site.Name] = site.FetchMode
	}

	return &Selector{
		http:   httpDriver,
		chrome: chromeDriver,
		modes:  modes,
		logger: logger,
	}
}

// DriverFor picks the driver for one fetch.
func (s *Selector) DriverFor(site string, pageType types.PageType) Driver {
	if pageType == types.PageTypeImage {
		return s.http
	}

	if s.modes[site] == configtypes.FetchModeChrome {
		if s.chrome != nil {
			return s.chrome
		}
		s.logger.Debug("Chrome requested but pool disabled, falling back to HTTP",
			zap.String("site", site))
	}

	return s.http
}
