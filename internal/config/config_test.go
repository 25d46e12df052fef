package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testHexKey = "6368616368613230706f6c7931333035746573746b65796d7573746265333221"

func TestLoad(t *testing.T) {
	// Create temp config file
	content := `
server:
  hostname: "blast.test.com"

api:
  listen_addr: ":9080"
  auth_token: "test-token"

storage:
  database_path: "/tmp/blastd.db"
  counters_path: "/tmp/counters.db"

provider:
  mode: sandbox

crypto:
  key: "` + testHexKey + `"

dispatch:
  workers: 2
  max_retries: 3
  retry_interval: 1m
  max_backoff: 10m
  attempt_timeout: 15s

rate_limit:
  enabled: true
  default_account:
    messages_per_second: 10
    messages_per_hour: 1000

ingest:
  default_country_code: "62"

logging:
  level: "debug"
  format: "text"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check values
	if cfg.Server.Hostname != "blast.test.com" {
		t.Errorf("Hostname = %v, want blast.test.com", cfg.Server.Hostname)
	}
	if cfg.API.ListenAddr != ":9080" {
		t.Errorf("API.ListenAddr = %v, want :9080", cfg.API.ListenAddr)
	}
	if cfg.API.AuthToken != "test-token" {
		t.Errorf("API.AuthToken = %v, want test-token", cfg.API.AuthToken)
	}
	if cfg.Storage.DatabasePath != "/tmp/blastd.db" {
		t.Errorf("Storage.DatabasePath = %v, want /tmp/blastd.db", cfg.Storage.DatabasePath)
	}
	if cfg.Dispatch.Workers != 2 {
		t.Errorf("Dispatch.Workers = %v, want 2", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.RetryInterval != time.Minute {
		t.Errorf("Dispatch.RetryInterval = %v, want 1m", cfg.Dispatch.RetryInterval)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want true")
	}
	if cfg.RateLimit.Limits.DefaultAccount == nil || cfg.RateLimit.Limits.DefaultAccount.MessagesPerHour != 1000 {
		t.Errorf("RateLimit.Limits.DefaultAccount = %+v, want 1000/hour", cfg.RateLimit.Limits.DefaultAccount)
	}
	if cfg.Ingest.DefaultCountryCode != "62" {
		t.Errorf("Ingest.DefaultCountryCode = %v, want 62", cfg.Ingest.DefaultCountryCode)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
crypto:
  key: "` + testHexKey + `"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check defaults
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.Provider.Mode != "sandbox" {
		t.Errorf("Provider.Mode = %v, want sandbox", cfg.Provider.Mode)
	}
	if cfg.Storage.DatabasePath != "/var/lib/blastd/blastd.db" {
		t.Errorf("Storage.DatabasePath = %v, want /var/lib/blastd/blastd.db", cfg.Storage.DatabasePath)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
	if cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("Metrics.ListenAddr = %v, want :9090", cfg.Metrics.ListenAddr)
	}
	if cfg.Metrics.FlushInterval != 10*time.Second {
		t.Errorf("Metrics.FlushInterval = %v, want 10s", cfg.Metrics.FlushInterval)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Provider: ProviderConfig{Mode: "sandbox"},
		Crypto:   CryptoConfig{Key: testHexKey},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing crypto key",
			mutate:  func(c *Config) { c.Crypto = CryptoConfig{} },
			wantErr: true,
		},
		{
			name:    "crypto key not hex",
			mutate:  func(c *Config) { c.Crypto.Key = "not-hex" },
			wantErr: true,
		},
		{
			name:    "crypto key wrong length",
			mutate:  func(c *Config) { c.Crypto.Key = "deadbeef" },
			wantErr: true,
		},
		{
			name:    "invalid provider mode",
			mutate:  func(c *Config) { c.Provider.Mode = "carrier-pigeon" },
			wantErr: true,
		},
		{
			name:    "sandbox error rate out of range",
			mutate:  func(c *Config) { c.Provider.ErrorRate = 1.5 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCryptoKeyFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "seal.key")
	if err := os.WriteFile(keyPath, []byte(testHexKey+"\n"), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	cfg := Config{Crypto: CryptoConfig{KeyFile: keyPath}}
	key, err := cfg.CryptoKey()
	if err != nil {
		t.Fatalf("CryptoKey() error = %v", err)
	}
	if key != testHexKey {
		t.Errorf("CryptoKey() = %q, want the trimmed file contents", key)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	content := `invalid: yaml: content: [`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}
