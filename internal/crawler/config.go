package crawler

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/siteindex/internal/config"
)

// Defaults.
const (
	DefaultUserAgent    = "siteindex-crawler/1.0 (+https://github.com/fyrsmithlabs/siteindex)"
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRedirects = 5
	DefaultConcurrency  = 3
	DefaultBatchDelay   = time.Second
	DefaultMaxBodyBytes = 5 << 20
)

// Config controls fetching and politeness.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int

	// Concurrency is the number of pages fetched per batch.
	Concurrency int

	// BatchDelay is the pause between batches. Negative disables it.
	BatchDelay time.Duration

	MaxBodyBytes int64

	// FilterAuthPages excludes login, account and error pages.
	FilterAuthPages bool
}

// DefaultConfig returns the default crawl configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:       DefaultUserAgent,
		Timeout:         DefaultTimeout,
		MaxRedirects:    DefaultMaxRedirects,
		Concurrency:     DefaultConcurrency,
		BatchDelay:      DefaultBatchDelay,
		MaxBodyBytes:    DefaultMaxBodyBytes,
		FilterAuthPages: true,
	}
}

// FromSettings maps the service configuration onto a crawl Config.
func FromSettings(s config.CrawlerConfig) Config {
	return Config{
		UserAgent:       s.UserAgent,
		Timeout:         s.Timeout.Duration(),
		MaxRedirects:    s.MaxRedirects,
		Concurrency:     s.Concurrency,
		BatchDelay:      s.BatchDelay.Duration(),
		MaxBodyBytes:    s.MaxBodyBytes,
		FilterAuthPages: !s.IncludeAuthPages,
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Concurrency > 32 {
		return fmt.Errorf("concurrency must be <= 32, got %d", c.Concurrency)
	}
	if c.MaxRedirects > 20 {
		return fmt.Errorf("max redirects must be <= 20, got %d", c.MaxRedirects)
	}
	return nil
}
