package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the variable holding an optional YAML config file
const ConfigFileEnv = "CREATORSTATS_CONFIG_FILE"

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the ops HTTP server (health probes and /metrics)
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL string `yaml:"url"`
	// ReplicaURLs is a comma separated list of read replicas
	ReplicaURLs string        `yaml:"replica_urls"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	AutoMigrate bool          `yaml:"auto_migrate"`
}

// CacheConfig holds report cache settings
type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPrefix     string `yaml:"redis_prefix"`
}

// SchedulerConfig holds rollup cadence settings
type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	HourlyInterval time.Duration `yaml:"hourly_interval"`
	// DailyAt is HH:MM wall-clock time in Timezone
	DailyAt       string        `yaml:"daily_at"`
	Timezone      string        `yaml:"timezone"`
	TenantTimeout time.Duration `yaml:"tenant_timeout"`
	Concurrency   int           `yaml:"concurrency"`
}

// Location resolves Timezone; empty means the process local zone
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL:         "postgres://localhost/creatorstats?sslmode=disable",
			MaxConns:    20,
			MinConns:    2,
			Timeout:     10 * time.Second,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
			AutoMigrate: true,
		},
		Cache: CacheConfig{
			Backend:         CacheBackendMemory,
			TTL:             10 * time.Minute,
			MaxEntries:      4096,
			RedisPoolSize:   10,
			RedisMaxRetries: 3,
			RedisPrefix:     "creatorstats:report:",
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			HourlyInterval: time.Hour,
			DailyAt:        "02:15",
			TenantTimeout:  5 * time.Minute,
			Concurrency:    1,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "creatorstats",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from CREATORSTATS_CONFIG_FILE (if set) and
// environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// Load builds configuration from defaults, then the YAML file at path (if not
// empty), then environment variables, and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// overlayFile decodes path over c; keys missing from the file keep their values
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields whose environment variable is set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("CREATORSTATS_HOST", s.Host)
	s.Port = getEnv("CREATORSTATS_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("CREATORSTATS_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("CREATORSTATS_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("CREATORSTATS_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("CREATORSTATS_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	db := &c.Database
	db.URL = getEnv("CREATORSTATS_POSTGRES_URL", db.URL)
	db.ReplicaURLs = getEnv("CREATORSTATS_POSTGRES_REPLICA_URLS", db.ReplicaURLs)
	db.MaxConns = getEnvInt("CREATORSTATS_POSTGRES_MAX_CONNS", db.MaxConns)
	db.MinConns = getEnvInt("CREATORSTATS_POSTGRES_MIN_CONNS", db.MinConns)
	db.Timeout = getEnvDuration("CREATORSTATS_POSTGRES_TIMEOUT", db.Timeout)
	db.MaxLifetime = getEnvDuration("CREATORSTATS_POSTGRES_MAX_LIFETIME", db.MaxLifetime)
	db.MaxIdleTime = getEnvDuration("CREATORSTATS_POSTGRES_MAX_IDLE_TIME", db.MaxIdleTime)
	db.AutoMigrate = getEnvBool("CREATORSTATS_POSTGRES_AUTO_MIGRATE", db.AutoMigrate)

	ch := &c.Cache
	ch.Backend = strings.ToLower(getEnv("CREATORSTATS_CACHE_BACKEND", ch.Backend))
	ch.TTL = getEnvDuration("CREATORSTATS_CACHE_TTL", ch.TTL)
	ch.MaxEntries = getEnvInt("CREATORSTATS_CACHE_MAX_ENTRIES", ch.MaxEntries)
	ch.RedisURL = getEnv("CREATORSTATS_REDIS_URL", ch.RedisURL)
	ch.RedisPassword = getEnv("CREATORSTATS_REDIS_PASSWORD", ch.RedisPassword)
	ch.RedisDB = getEnvInt("CREATORSTATS_REDIS_DB", ch.RedisDB)
	ch.RedisPoolSize = getEnvInt("CREATORSTATS_REDIS_POOL_SIZE", ch.RedisPoolSize)
	ch.RedisMaxRetries = getEnvInt("CREATORSTATS_REDIS_MAX_RETRIES", ch.RedisMaxRetries)
	ch.RedisPrefix = getEnv("CREATORSTATS_REDIS_PREFIX", ch.RedisPrefix)

	sc := &c.Scheduler
	sc.Enabled = getEnvBool("CREATORSTATS_SCHEDULER_ENABLED", sc.Enabled)
	sc.HourlyInterval = getEnvDuration("CREATORSTATS_HOURLY_INTERVAL", sc.HourlyInterval)
	sc.DailyAt = getEnv("CREATORSTATS_DAILY_AT", sc.DailyAt)
	sc.Timezone = getEnv("CREATORSTATS_TIMEZONE", sc.Timezone)
	sc.TenantTimeout = getEnvDuration("CREATORSTATS_TENANT_TIMEOUT", sc.TenantTimeout)
	sc.Concurrency = getEnvInt("CREATORSTATS_ROLLUP_CONCURRENCY", sc.Concurrency)

	o := &c.Observability
	o.LogLevel = getEnv("CREATORSTATS_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("CREATORSTATS_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("CREATORSTATS_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("CREATORSTATS_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("CREATORSTATS_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("CREATORSTATS_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("CREATORSTATS_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("CREATORSTATS_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 {
		return fmt.Errorf("postgres connection limits must not be negative")
	}

	switch c.Cache.Backend {
	case CacheBackendNone:
	case CacheBackendMemory:
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
	case CacheBackendRedis:
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.HourlyInterval < time.Second {
			return fmt.Errorf("hourly interval must be at least 1s")
		}
		if _, err := time.Parse("15:04", c.Scheduler.DailyAt); err != nil {
			return fmt.Errorf("daily_at must be HH:MM, got %q", c.Scheduler.DailyAt)
		}
		if c.Scheduler.Concurrency < 1 {
			return fmt.Errorf("rollup concurrency must be at least 1")
		}
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Scheduler.Timezone, err)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
