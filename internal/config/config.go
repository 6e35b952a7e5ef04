// Package config provides configuration loading for siteindex.
//
// Configuration is read from an optional YAML file and overridden by
// SITEINDEX_* environment variables. Every section has defaults so the
// service starts with no file at all.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete siteindex configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Crawler     CrawlerConfig     `koanf:"crawler"`
	Chunker     ChunkerConfig     `koanf:"chunker"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Indexer     IndexerConfig     `koanf:"indexer"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Cache       CacheConfig       `koanf:"cache"`
	Temporal    TemporalConfig    `koanf:"temporal"`
	NATS        NATSConfig        `koanf:"nats"`
	Redaction   RedactionConfig   `koanf:"redaction"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// CrawlerConfig controls fetching and politeness.
type CrawlerConfig struct {
	UserAgent        string       `koanf:"user_agent"`
	Timeout          Duration     `koanf:"timeout"`
	MaxRedirects     int          `koanf:"max_redirects"`
	Concurrency      int          `koanf:"concurrency"`
	BatchDelay       Duration     `koanf:"batch_delay"`
	MaxBodyBytes     int64        `koanf:"max_body_bytes"`
	MaxPages         int          `koanf:"max_pages"`
	IncludeAuthPages bool         `koanf:"include_auth_pages"`
	Render           RenderConfig `koanf:"render"`
}

// RenderConfig controls the headless browser fallback for script-built pages.
type RenderConfig struct {
	Enabled bool     `koanf:"enabled"`
	Bin     string   `koanf:"bin"`
	Timeout Duration `koanf:"timeout"`
}

// ChunkerConfig sizes chunk windows in characters.
type ChunkerConfig struct {
	TargetSize int `koanf:"target_size"`
	Overlap    int `koanf:"overlap"`
	MinLength  int `koanf:"min_length"`
	HardCap    int `koanf:"hard_cap"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "tei", "openai", "fastembed".
	Provider     string   `koanf:"provider"`
	Model        string   `koanf:"model"`
	BaseURL      string   `koanf:"base_url"`
	APIKey       Secret   `koanf:"api_key"`
	Dimension    int      `koanf:"dimension"`
	Timeout      Duration `koanf:"timeout"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
	RateLimit    float64  `koanf:"rate_limit"`
	RateBurst    int      `koanf:"rate_burst"`
	CacheDir     string   `koanf:"cache_dir"`
	// ONNXAutoInstall lets the fastembed provider download its runtime.
	ONNXAutoInstall bool `koanf:"onnx_auto_install"`
}

// VectorStoreConfig selects the vector index backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (default, embedded) or "qdrant".
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded store settings. An empty path keeps data in memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	CollectionName string `koanf:"collection_name"`
	UseTLS         bool   `koanf:"use_tls"`
	APIKey         Secret `koanf:"api_key"`
}

// IndexerConfig controls index replacement.
type IndexerConfig struct {
	BatchSize int `koanf:"batch_size"`
}

// RetrievalConfig holds query defaults.
type RetrievalConfig struct {
	TopK          int     `koanf:"top_k"`
	MinSimilarity float64 `koanf:"min_similarity"`
}

// CacheConfig selects the query result cache.
type CacheConfig struct {
	// Backend is "memory" (default), "redis", or "none".
	Backend    string      `koanf:"backend"`
	TTL        Duration    `koanf:"ttl"`
	MaxEntries int         `koanf:"max_entries"`
	Redis      RedisConfig `koanf:"redis"`
}

// RedisConfig holds Redis connection settings for the shared cache.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  Secret `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// TemporalConfig holds job scheduler settings.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// NATSConfig holds ingestion event publishing settings.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RedactionConfig controls secret scrubbing of crawled text.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// LoggingConfig is mapped onto logging.Config at startup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is mapped onto telemetry.Config at startup.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Crawler: CrawlerConfig{
			UserAgent:    "siteindex-crawler/1.0 (+https://github.com/fyrsmithlabs/siteindex)",
			Timeout:      Duration(15 * time.Second),
			MaxRedirects: 5,
			Concurrency:  3,
			BatchDelay:   Duration(time.Second),
			MaxBodyBytes: 5 << 20,
			MaxPages:     50,
			Render: RenderConfig{
				Timeout: Duration(30 * time.Second),
			},
		},
		Chunker: ChunkerConfig{
			TargetSize: 1000,
			Overlap:    150,
			MinLength:  50,
			HardCap:    1200,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "tei",
			Model:           "BAAI/bge-small-en-v1.5",
			BaseURL:         "http://localhost:8080",
			Dimension:       384,
			Timeout:         Duration(30 * time.Second),
			MaxRetries:      3,
			RetryBackoff:    Duration(500 * time.Millisecond),
			RateLimit:       20,
			RateBurst:       5,
			ONNXAutoInstall: true,
		},
		VectorStore: VectorStoreConfig{
			Provider: "chromem",
			Chromem: ChromemConfig{
				Path: "~/.config/siteindex/vectorstore",
			},
			Qdrant: QdrantConfig{
				Host:           "localhost",
				Port:           6334,
				CollectionName: "site_chunks",
			},
		},
		Indexer: IndexerConfig{
			BatchSize: 32,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinSimilarity: 0.3,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        Duration(5 * time.Minute),
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "siteindex:query:",
			},
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "siteindex-ingest",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "ingest",
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "siteindex",
			Insecure:    true,
			SampleRate:  1.0,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Crawler.Concurrency < 1 {
		return fmt.Errorf("crawler concurrency must be >= 1, got %d", c.Crawler.Concurrency)
	}
	if c.Crawler.MaxPages < 1 {
		return fmt.Errorf("crawler max_pages must be >= 1, got %d", c.Crawler.MaxPages)
	}
	if c.Crawler.Timeout.Duration() <= 0 {
		return errors.New("crawler timeout must be positive")
	}

	if c.Chunker.MinLength <= 0 || c.Chunker.TargetSize < c.Chunker.MinLength {
		return fmt.Errorf("chunker sizes inconsistent: min_length=%d target_size=%d",
			c.Chunker.MinLength, c.Chunker.TargetSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.TargetSize {
		return fmt.Errorf("chunker overlap must be in [0, target_size), got %d", c.Chunker.Overlap)
	}

	switch c.Embeddings.Provider {
	case "tei", "openai":
		if _, err := url.ParseRequestURI(c.Embeddings.BaseURL); err != nil {
			return fmt.Errorf("invalid embeddings base_url %q: %w", c.Embeddings.BaseURL, err)
		}
	case "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return errors.New("embeddings dimension must be positive")
	}

	switch c.VectorStore.Provider {
	case "chromem":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return errors.New("qdrant host required")
		}
	default:
		return fmt.Errorf("unknown vectorstore provider %q", c.VectorStore.Provider)
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinSimilarity < -1 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval min_similarity must be in [-1, 1], got %f", c.Retrieval.MinSimilarity)
	}

	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache redis addr required")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}
