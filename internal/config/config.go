// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// AuthorityBaseURL is the API root the session-authority /sessions endpoints live under (e.g. https://api.pharmacyhub.pk/api).
	AuthorityBaseURL string `mapstructure:"AUTHORITY_BASE_URL"`
	// AuthBaseURL is the credentials API base URL (e.g. https://api.pharmacyhub.pk/api).
	AuthBaseURL string `mapstructure:"AUTH_BASE_URL"`
	// HTTPTimeout is the per-request timeout for backend calls (e.g. "15s").
	HTTPTimeout string `mapstructure:"HTTP_TIMEOUT"`
	// RefreshThreshold is how close to expiry a token gets refreshed (e.g. "5m").
	RefreshThreshold string `mapstructure:"REFRESH_THRESHOLD"`
	// MonitorInterval is how often the background monitor checks token validity (e.g. "60s").
	MonitorInterval string `mapstructure:"MONITOR_INTERVAL"`
	// StoragePath is the credential store file; empty keeps tokens in memory only.
	StoragePath string `mapstructure:"STORAGE_PATH"`
	// ProductName identifies this client in device descriptors and User-Agent strings.
	ProductName string `mapstructure:"PRODUCT_NAME"`
	// ProductVersion is the client version reported alongside ProductName.
	ProductVersion string `mapstructure:"PRODUCT_VERSION"`
	// OTLPEndpoint is the OTLP/gRPC collector for security events; empty disables telemetry.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("AUTHORITY_BASE_URL", "")
	v.SetDefault("AUTH_BASE_URL", "")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("REFRESH_THRESHOLD", "5m")
	v.SetDefault("MONITOR_INTERVAL", "60s")
	v.SetDefault("STORAGE_PATH", "")
	v.SetDefault("PRODUCT_NAME", "pharmacyhub-session-engine")
	v.SetDefault("PRODUCT_VERSION", "0.1.0")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.AuthBaseURL == "" {
		return nil, errors.New("config: AUTH_BASE_URL must be set")
	}
	if cfg.AuthorityBaseURL == "" {
		// The authority usually lives under the same API root. The client
		// appends the /sessions/... paths itself.
		cfg.AuthorityBaseURL = strings.TrimRight(cfg.AuthBaseURL, "/")
	}

	return &cfg, nil
}

// HTTPTimeoutDuration parses HTTPTimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) HTTPTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// RefreshThresholdDuration parses RefreshThreshold as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) RefreshThresholdDuration() time.Duration {
	d, err := time.ParseDuration(c.RefreshThreshold)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// MonitorIntervalDuration parses MonitorInterval as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) MonitorIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.MonitorInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
