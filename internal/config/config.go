package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ostrix/blastd/internal/dispatch"
	"github.com/ostrix/blastd/internal/ratelimit"
	"github.com/ostrix/blastd/internal/sched"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	API       APIConfig         `yaml:"api"`
	Storage   StorageConfig     `yaml:"storage"`
	Provider  ProviderConfig    `yaml:"provider"`
	Crypto    CryptoConfig      `yaml:"crypto"`
	Dispatch  dispatch.Config   `yaml:"dispatch"`
	Scheduler sched.Config      `yaml:"scheduler"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Ingest    IngestConfig      `yaml:"ingest"`
	Logging   LoggingConfig     `yaml:"logging"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	AuthToken      string        `yaml:"auth_token"` // empty disables bearer auth
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// DatabasePath is the sqlite database file
	DatabasePath string `yaml:"database_path"`

	// CountersPath is the bbolt file for rate limit and metrics counters
	CountersPath string `yaml:"counters_path"`
}

// ProviderConfig selects and configures the outbound messaging channel
type ProviderConfig struct {
	// Mode selects the outbound channel. "sandbox" (in-memory, no network)
	// is the only built-in.
	Mode string `yaml:"mode"`

	// ErrorRate injects random transient failures in sandbox mode (0.0 to 1.0)
	ErrorRate float64 `yaml:"error_rate"`
}

// CryptoConfig contains credential sealing settings
type CryptoConfig struct {
	// Key is the hex-encoded 32-byte sealing key
	Key string `yaml:"key"`

	// KeyFile reads the key from a file instead; takes precedence over Key
	KeyFile string `yaml:"key_file"`
}

// RateLimitConfig wraps the limiter configuration with an enable switch
type RateLimitConfig struct {
	Enabled bool             `yaml:"enabled"`
	Limits  ratelimit.Config `yaml:",inline"`
}

// IngestConfig contains CSV import settings
type IngestConfig struct {
	// DefaultCountryCode is prefixed to local phone numbers in imports
	DefaultCountryCode string `yaml:"default_country_code"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	AllowedIPs    []string      `yaml:"allowed_ips"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "/var/lib/blastd/blastd.db"
	}
	if c.Storage.CountersPath == "" {
		c.Storage.CountersPath = "/var/lib/blastd/counters.db"
	}

	if c.Provider.Mode == "" {
		c.Provider.Mode = "sandbox"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	switch c.Provider.Mode {
	case "sandbox":
		if c.Provider.ErrorRate < 0 || c.Provider.ErrorRate > 1 {
			return fmt.Errorf("provider.error_rate must be between 0.0 and 1.0")
		}
	default:
		return fmt.Errorf("invalid provider.mode: %s", c.Provider.Mode)
	}

	if c.Crypto.Key == "" && c.Crypto.KeyFile == "" {
		return fmt.Errorf("crypto.key or crypto.key_file is required")
	}
	if c.Crypto.Key != "" && c.Crypto.KeyFile == "" {
		if err := validateKey(c.Crypto.Key); err != nil {
			return fmt.Errorf("invalid crypto.key: %w", err)
		}
	}

	return nil
}

// CryptoKey returns the hex-encoded sealing key, reading the key file when
// one is configured.
func (c *Config) CryptoKey() (string, error) {
	if c.Crypto.KeyFile != "" {
		data, err := os.ReadFile(c.Crypto.KeyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read crypto key file: %w", err)
		}
		key := strings.TrimSpace(string(data))
		if err := validateKey(key); err != nil {
			return "", fmt.Errorf("invalid key in crypto.key_file: %w", err)
		}
		return key, nil
	}
	return c.Crypto.Key, nil
}

func validateKey(key string) error {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("not hex encoded: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("must decode to 32 bytes, got %d", len(raw))
	}
	return nil
}
