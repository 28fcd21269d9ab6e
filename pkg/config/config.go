// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Site, Postgres, Redis, Cloudflare, Algolia, Sitemap,
// Publishing, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Site       SiteConfig       `yaml:"site"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Cloudflare CloudflareConfig `yaml:"cloudflare"`
	Algolia    AlgoliaConfig    `yaml:"algolia"`
	Sitemap    SitemapConfig    `yaml:"sitemap"`
	Publishing PublishingConfig `yaml:"publishing"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SiteConfig identifies the storefront this service serves. BaseURL is the
// canonical origin used in every sitemap <loc> entry and doubles as the
// site component of cache keys, so preview and production deployments never
// share cached documents.
type SiteConfig struct {
	BaseURL string `yaml:"baseUrl"`
}

// PostgresConfig holds PostgreSQL connection parameters for the catalog store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters. Redis is optional: with an
// empty Addr the service falls back to in-memory variants of the sitemap
// cache and activity log, and per-product cache invalidation becomes a no-op.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// Configured reports whether a Redis address has been provided.
func (r RedisConfig) Configured() bool {
	return r.Addr != ""
}

// KafkaConfig holds the optional publish-event stream settings. With no
// brokers configured the service emits no events.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	EventsTopic string   `yaml:"eventsTopic"`
}

// Configured reports whether at least one Kafka broker has been provided.
func (k KafkaConfig) Configured() bool {
	return len(k.Brokers) > 0
}

// CloudflareConfig holds CDN purge credentials. When either credential is
// empty the purge step of a publish batch is skipped.
type CloudflareConfig struct {
	ZoneID   string        `yaml:"zoneId"`
	APIToken string        `yaml:"apiToken"`
	BaseURL  string        `yaml:"baseUrl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Configured reports whether CDN purge credentials are present.
func (c CloudflareConfig) Configured() bool {
	return c.ZoneID != "" && c.APIToken != ""
}

// AlgoliaConfig holds search-index credentials for product sync runs.
type AlgoliaConfig struct {
	AppID     string        `yaml:"appId"`
	APIKey    string        `yaml:"apiKey"`
	IndexName string        `yaml:"indexName"`
	BaseURL   string        `yaml:"baseUrl"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Configured reports whether search-index credentials are present.
func (a AlgoliaConfig) Configured() bool {
	return a.AppID != "" && a.APIKey != "" && a.IndexName != ""
}

// SitemapConfig controls sitemap chunking and caching. PageSize is shared by
// index generation and per-page rendering so the chunk count advertised by
// the index always matches the pages that can actually be served.
type SitemapConfig struct {
	PageSize     int           `yaml:"pageSize"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	CacheBackend string        `yaml:"cacheBackend"` // "memory" or "redis"
}

// PublishingConfig controls publish-batch sizing and admin authentication.
// An empty AdminToken disables the admin API entirely.
type PublishingConfig struct {
	DefaultBatchSize int    `yaml:"defaultBatchSize"`
	MaxBatchSize     int    `yaml:"maxBatchSize"`
	AdminToken       string `yaml:"adminToken"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: 30 * time.Second,
			// Publish batches answer on the request they arrived on, so the
			// write window has to outlast the longest expected run.
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Site: SiteConfig{
			BaseURL: "http://localhost:3000",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "storefront",
			User:            "storefront",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:     nil,
			EventsTopic: "publishing.events",
		},
		Cloudflare: CloudflareConfig{
			BaseURL: "https://api.cloudflare.com",
			Timeout: 15 * time.Second,
		},
		Algolia: AlgoliaConfig{
			Timeout: 10 * time.Second,
		},
		Sitemap: SitemapConfig{
			PageSize:     50000,
			CacheTTL:     5 * time.Minute,
			CacheBackend: "memory",
		},
		Publishing: PublishingConfig{
			DefaultBatchSize: 1000,
			MaxBatchSize:     5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SMP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SMP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SMP_SITE_BASE_URL"); v != "" {
		cfg.Site.BaseURL = v
	}
	if v := os.Getenv("SMP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SMP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SMP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SMP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SMP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SMP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SMP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SMP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SMP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SMP_KAFKA_EVENTS_TOPIC"); v != "" {
		cfg.Kafka.EventsTopic = v
	}
	if v := os.Getenv("SMP_CLOUDFLARE_ZONE_ID"); v != "" {
		cfg.Cloudflare.ZoneID = v
	}
	if v := os.Getenv("SMP_CLOUDFLARE_API_TOKEN"); v != "" {
		cfg.Cloudflare.APIToken = v
	}
	if v := os.Getenv("SMP_ALGOLIA_APP_ID"); v != "" {
		cfg.Algolia.AppID = v
	}
	if v := os.Getenv("SMP_ALGOLIA_API_KEY"); v != "" {
		cfg.Algolia.APIKey = v
	}
	if v := os.Getenv("SMP_ALGOLIA_INDEX_NAME"); v != "" {
		cfg.Algolia.IndexName = v
	}
	if v := os.Getenv("SMP_SITEMAP_PAGE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			cfg.Sitemap.PageSize = size
		}
	}
	if v := os.Getenv("SMP_SITEMAP_CACHE_BACKEND"); v != "" {
		cfg.Sitemap.CacheBackend = v
	}
	if v := os.Getenv("SMP_PUBLISHING_ADMIN_TOKEN"); v != "" {
		cfg.Publishing.AdminToken = v
	}
	if v := os.Getenv("SMP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SMP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SMP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
