package configtypes

import (
	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// Log level constants
const (
	LogLevelDebug  = "debug"
	LogLevelInfo   = "info"
	LogLevelWarn   = "warn"
	LogLevelError  = "error"
	LogLevelDPanic = "dpanic"
	LogLevelPanic  = "panic"
	LogLevelFatal  = "fatal"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// Fetch mode constants for site configurations.
const (
	FetchModeHTTP   = "http"
	FetchModeChrome = "chrome"
)

// Duration re-exports the YAML duration type every config struct here uses,
// so config callers do not need a second import for literals.
type Duration = types.Duration

// HarvesterConfig is the main application configuration for harvestd and
// harvestctl.
type HarvesterConfig struct {
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Harvest HarvestConfig `yaml:"harvest"`
	Chrome  ChromeConfig  `yaml:"chrome"`
	Sites   []SiteConfig  `yaml:"sites"`
	Ops     OpsConfig     `yaml:"ops"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StorageConfig configures the SQLite metadata database.
type StorageConfig struct {
	DBPath          string         `yaml:"db_path"`
	BusyTimeout     types.Duration `yaml:"busy_timeout,omitempty"`
	MaxOpenConns    int            `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int            `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime types.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// CacheConfig configures the page cache: metadata lifetimes, the blob root
// on disk and the cleanup policy.
type CacheConfig struct {
	Root        string         `yaml:"root"`
	TTL         TTLConfig      `yaml:"ttl"`
	Compression string         `yaml:"compression,omitempty"` // Compression algorithm: none, snappy, lz4
	MaxSizeMB   int64          `yaml:"max_size_mb,omitempty"`
	Cleanup     *CleanupConfig `yaml:"cleanup,omitempty"`
}

// TTLConfig holds per-page-type cache lifetimes. Zero values fall back to
// the built-in defaults.
type TTLConfig struct {
	List   types.Duration `yaml:"list,omitempty"`
	Detail types.Duration `yaml:"detail,omitempty"`
	Image  types.Duration `yaml:"image,omitempty"`
}

// CleanupConfig controls the periodic cache cleanup worker.
type CleanupConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Interval types.Duration `yaml:"interval"`
	MaxAge   types.Duration `yaml:"max_age,omitempty"`
}

// HarvestConfig holds crawl-wide settings shared by every site.
type HarvestConfig struct {
	Workers           int            `yaml:"workers,omitempty"`
	Interval          types.Duration `yaml:"interval,omitempty"`
	UserAgent         string         `yaml:"user_agent,omitempty"`
	FetchTimeout      types.Duration `yaml:"fetch_timeout,omitempty"`
	AllowPrivateHosts bool           `yaml:"allow_private_hosts,omitempty"`
}

// ChromeConfig configures the headless browser pool used for sites that
// need JavaScript rendering.
type ChromeConfig struct {
	Enabled           bool           `yaml:"enabled"`
	PoolSize          string         `yaml:"pool_size,omitempty"` // number or "auto"
	WarmupURL         string         `yaml:"warmup_url,omitempty"`
	PageLoadTimeout   types.Duration `yaml:"page_load_timeout,omitempty"`
	RestartAfterCount int            `yaml:"restart_after_count,omitempty"`
	RestartAfterTime  types.Duration `yaml:"restart_after_time,omitempty"`
}

// SiteConfig describes one listing site: where to start, how to fetch, which
// query parameters identify a page and how link targets are recognized. The
// link patterns use pkg/pattern syntax (exact, wildcard or ~regexp).
type SiteConfig struct {
	Name             string         `yaml:"name"`
	Enabled          *bool          `yaml:"enabled,omitempty"` // default true
	EntryURLs        []string       `yaml:"entry_urls"`
	FetchMode        string         `yaml:"fetch_mode,omitempty"` // http or chrome
	KeepParams       []string       `yaml:"keep_params,omitempty"`
	DetailPattern    string         `yaml:"detail_pattern,omitempty"`
	NextPagePattern  string         `yaml:"next_page_pattern,omitempty"`
	ImagePattern     string         `yaml:"image_pattern,omitempty"`
	MaxPages         int            `yaml:"max_pages,omitempty"`
	MaxDetails       int            `yaml:"max_details,omitempty"`
	MaxImagesPerPage int            `yaml:"max_images_per_page,omitempty"`
	RateLimit        *SiteRateLimit `yaml:"rate_limit,omitempty"`
}

// IsEnabled reports whether the site should be crawled. Sites are enabled
// unless explicitly switched off.
func (s *SiteConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SiteRateLimit overrides the stored rate-limit budget for a site. Values
// written here win over whatever the database currently holds.
type SiteRateLimit struct {
	Requests   int            `yaml:"requests"`
	Period     types.Duration `yaml:"period"`
	Concurrent int            `yaml:"concurrent,omitempty"`
	RetryAfter types.Duration `yaml:"retry_after,omitempty"`
}

// OpsConfig configures the internal operations HTTP server.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	AuthKey string `yaml:"auth_key,omitempty"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}
