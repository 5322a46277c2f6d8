package driver

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// ChromeConfig holds the configuration for the headless browser pool.
type ChromeConfig struct {
	PoolSize        string // "auto" or integer string
	UserAgent       string
	WarmupURL       string // URL to navigate during warmup
	WarmupTimeout   time.Duration
	PageLoadTimeout time.Duration
	ShutdownTimeout time.Duration

	// Restart policies
	RestartAfterCount int           // Restart after N fetches
	RestartAfterTime  time.Duration // Restart after duration
}

func (c ChromeConfig) withDefaults() ChromeConfig {
	if c.PoolSize == "" {
		c.PoolSize = "auto"
	}
	if c.WarmupURL == "" {
		// Warming against a remote page would burn someone's bandwidth
		// on every restart.
		c.WarmupURL = "about:blank"
	}
	if c.WarmupTimeout <= 0 {
		c.WarmupTimeout = 10 * time.Second
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.RestartAfterCount <= 0 {
		c.RestartAfterCount = 100
	}
	if c.RestartAfterTime <= 0 {
		c.RestartAfterTime = 60 * time.Minute
	}
	return c
}

// Validate checks if the configuration is valid
func (c *ChromeConfig) Validate() error {
	// Pool size must be "auto" or a positive integer string
	if c.PoolSize != "auto" {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil {
			return fmt.Errorf("pool size must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("pool size must be positive")
		}
	}
	return nil
}

// CalculatePoolSize determines the pool size based on available RAM
// Formula: (Total RAM - 2GB) / 500MB per Chrome
func (c *ChromeConfig) CalculatePoolSize() int {
	if c.PoolSize == "auto" {
		return c.calculateAutoPoolSize()
	}

	size, err := strconv.Atoi(c.PoolSize)
	if err != nil || size <= 0 {
		// Fallback to auto if invalid
		return c.calculateAutoPoolSize()
	}

	return size
}

// calculateAutoPoolSize calculates pool size based on available RAM
func (c *ChromeConfig) calculateAutoPoolSize() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64

	if err != nil {
		// Conservative estimate if we can't read system memory
		totalRAMBytes = int64(8 * 1024 * 1024 * 1024) // 8GB fallback
	} else {
		totalRAMBytes = int64(v.Total)
	}

	// Reserve 2GB for system and other processes
	reservedBytes := int64(2 * 1024 * 1024 * 1024)
	availableBytes := totalRAMBytes - reservedBytes

	// Each Chrome instance uses approximately 500MB
	chromeInstanceBytes := int64(500 * 1024 * 1024)

	poolSize := int(availableBytes / chromeInstanceBytes)

	// A rate-limited crawler never needs a render farm, whatever the
	// machine could hold.
	if poolSize < 1 {
		poolSize = 1
	}
	if poolSize > 8 {
		poolSize = 8
	}

	return poolSize
}
