package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration. Scalar settings come from
// environment variables (optionally via .env); structured settings such as
// triggers and seed sources come from an optional YAML file.
type Config struct {
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     string `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	HTTPAddr       string `mapstructure:"http_addr"`
	LogLevel       string `mapstructure:"log_level"`
	LogDevelopment bool   `mapstructure:"log_development"`

	GlobalConcurrency    int           `mapstructure:"global_concurrency"`
	PerSourceConcurrency int           `mapstructure:"per_source_concurrency"`
	MaxConcurrentSources int           `mapstructure:"max_concurrent_sources"`
	RateLimitMs          int           `mapstructure:"rate_limit_ms"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay        time.Duration `mapstructure:"retry_max_delay"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	MaxPhotos            int           `mapstructure:"max_photos"`
	ReconcileRetryDelay  time.Duration `mapstructure:"reconcile_retry_delay"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	SourceLockTTL time.Duration `mapstructure:"source_lock_ttl"`

	RejectionLogPath string `mapstructure:"rejection_log_path"`
	ChromeBin        string `mapstructure:"chrome_bin"`
	UserAgent        string `mapstructure:"user_agent"`

	TargetAreas   []string           `mapstructure:"target_areas"`
	PriceCeilings map[string]float64 `mapstructure:"price_ceilings"`
	Triggers      []TriggerConfig    `mapstructure:"triggers"`
	Sources       []SourceConfig     `mapstructure:"sources"`
}

// TriggerConfig is a named calendar entry mapped to a fixed job request.
type TriggerConfig struct {
	Name       string   `mapstructure:"name"`
	Schedule   string   `mapstructure:"schedule"`
	Sources    []string `mapstructure:"sources"`
	FullRescan bool     `mapstructure:"full_rescan"`
}

// SourceConfig seeds one row of the sources table.
type SourceConfig struct {
	Code      string         `mapstructure:"code"`
	Name      string         `mapstructure:"name"`
	BaseURL   string         `mapstructure:"base_url"`
	Kind      string         `mapstructure:"kind"`
	FetchMode string         `mapstructure:"fetch_mode"`
	Active    *bool          `mapstructure:"active"`
	Options   map[string]any `mapstructure:"options"`
}

// IsActive defaults to true when the flag is omitted.
func (s SourceConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

var defaults = map[string]any{
	"postgres_host":     "localhost",
	"postgres_port":     "5432",
	"postgres_user":     "harvester",
	"postgres_password": "harvester",
	"postgres_db":       "listings",
	"postgres_sslmode":  "disable",

	"http_addr":       ":8080",
	"log_level":       "info",
	"log_development": false,

	"global_concurrency":     8,
	"per_source_concurrency": 3,
	"max_concurrent_sources": 4,
	"rate_limit_ms":          500,
	"max_retries":            3,
	"retry_base_delay":       time.Second,
	"retry_max_delay":        30 * time.Second,
	"fetch_timeout":          30 * time.Second,
	"max_photos":             20,
	"reconcile_retry_delay":  250 * time.Millisecond,

	"redis_addr":      "",
	"redis_password":  "",
	"redis_db":        0,
	"source_lock_ttl": 6 * time.Hour,

	"rejection_log_path": "",
	"chrome_bin":         "",
	"user_agent":         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",

	"target_areas": []string{},
}

// Load reads the .env file, environment variables and, when path is not
// empty, the YAML file at path, and returns a validated Config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.TargetAreas = splitAreas(cfg.TargetAreas)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.GlobalConcurrency < 1 {
		errs = append(errs, errors.New("global_concurrency must be >= 1"))
	}
	if c.PerSourceConcurrency < 1 {
		errs = append(errs, errors.New("per_source_concurrency must be >= 1"))
	}
	if c.MaxConcurrentSources < 1 {
		errs = append(errs, errors.New("max_concurrent_sources must be >= 1"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("max_retries must be >= 1"))
	}
	if c.MaxPhotos < 0 {
		errs = append(errs, errors.New("max_photos must be >= 0"))
	}
	seen := make(map[string]bool)
	for _, t := range c.Triggers {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("duplicate trigger %q", t.Name))
		}
		seen[t.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// RateLimit is the minimum spacing between two fetches of one source.
func (c *Config) RateLimit() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

// splitAreas accepts both list values and a single comma separated entry
// coming from TARGET_AREAS.
func splitAreas(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
