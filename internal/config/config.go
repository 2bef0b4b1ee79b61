// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Catalog backends.
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultIndexURL is the root of the sitemap tree.
const DefaultIndexURL = "https://tv.apple.com/sitemaps_tv_index_1.xml"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// CrawlerConfig governs the walk and the worker pool.
type CrawlerConfig struct {
	IndexURL             string `mapstructure:"index_url"`
	Storefront           string `mapstructure:"storefront"`
	Concurrency          int    `mapstructure:"concurrency"`
	MaxFetches           int    `mapstructure:"max_fetches"`
	RevalidateUnresolved bool   `mapstructure:"revalidate_unresolved"`
}

// HTTPConfig configures the session headers and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int `mapstructure:"max_body_bytes"`
	// RequestsPerSecond caps the request rate per host; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	UserAgent         string  `mapstructure:"user_agent"`
	Accept            string  `mapstructure:"accept"`
	AcceptLanguage    string  `mapstructure:"accept_language"`
}

// CatalogConfig selects and configures the catalog store.
type CatalogConfig struct {
	Backend  string         `mapstructure:"backend"`
	Dir      string         `mapstructure:"dir"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds connection settings for the Postgres backend.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TVCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.index_url", DefaultIndexURL)
	v.SetDefault("crawler.storefront", "us")
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.max_fetches", 0)
	v.SetDefault("crawler.revalidate_unresolved", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.accept", "")
	v.SetDefault("http.accept_language", "")
	v.SetDefault("catalog.backend", BackendCSV)
	v.SetDefault("catalog.dir", "data")
	v.SetDefault("catalog.sqlite.path", "data/catalog.db")
	v.SetDefault("catalog.postgres.dsn", "")
	v.SetDefault("catalog.postgres.table", "catalog_entries")
	v.SetDefault("catalog.postgres.max_conns", 4)
	v.SetDefault("catalog.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.IndexURL == "" {
		return fmt.Errorf("crawler.index_url is required")
	}
	if c.Crawler.Storefront == "" {
		return fmt.Errorf("crawler.storefront is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxFetches < 0 {
		return fmt.Errorf("crawler.max_fetches must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("http.backoff_max_ms must be >= http.backoff_initial_ms >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	switch c.Catalog.Backend {
	case BackendCSV:
		if c.Catalog.Dir == "" {
			return fmt.Errorf("catalog.dir is required for the csv backend")
		}
	case BackendSQLite:
		if c.Catalog.SQLite.Path == "" {
			return fmt.Errorf("catalog.sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Catalog.Postgres.DSN == "" {
			return fmt.Errorf("catalog.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("catalog.backend %q is not one of csv, sqlite, postgres", c.Catalog.Backend)
	}
	return nil
}

// Timeout returns the per-request timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
