package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig          `toml:"credentials"`
	Database    DatabaseConfig             `toml:"database"`
	Enforcement EnforcementConfig          `toml:"enforcement"`
	RateLimits  map[string]RateLimitConfig `toml:"ratelimit"`
	Circuit     CircuitConfig              `toml:"circuit"`
}

// CredentialsConfig contains provider-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// EnforcementConfig contains executor tuning knobs.
type EnforcementConfig struct {
	Workers        int     `toml:"workers"`
	MaxRetries     int     `toml:"max_retries"`
	BackoffBaseMS  int     `toml:"backoff_base_ms"`
	BackoffMaxMS   int     `toml:"backoff_max_ms"`
	BackoffJitter  float64 `toml:"backoff_jitter"`
}

// RateLimitConfig contains per-provider request window settings.
type RateLimitConfig struct {
	RequestsPerWindow int `toml:"requests_per_window"`
	WindowSeconds     int `toml:"window_seconds"`
	BurstLimit        int `toml:"burst_limit"`
	DailyQuota        int `toml:"daily_quota"`
}

// CircuitConfig contains circuit breaker thresholds.
type CircuitConfig struct {
	FailureThreshold       int `toml:"failure_threshold"`
	RecoveryTimeoutSeconds int `toml:"recovery_timeout_seconds"`
}

// RecoveryTimeout returns the configured recovery timeout as a [time.Duration].
func (c CircuitConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSeconds) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
