// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/mergedash/domain/page"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Assets   AssetsConfig   `yaml:"assets"`
	Timing   TimingConfig   `yaml:"timing"`
	Sessions SessionsConfig `yaml:"sessions"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AssetsConfig configures the deployed page bundles.
type AssetsConfig struct {
	Dir   string `yaml:"dir"`   // deployment directory; empty serves the bundled pages
	Watch bool   `yaml:"watch"` // watch the manifest for redeploys
}

// TimingConfig configures the loading delay and timeout of pages.
type TimingConfig struct {
	Delay     time.Duration          `yaml:"delay"`
	Timeout   time.Duration          `yaml:"timeout"`
	Overrides map[string]page.Policy `yaml:"overrides,omitempty"` // keyed by page id
}

// SessionsConfig configures browser session tracking.
type SessionsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RecoveryConfig configures the stale-asset recovery prompt.
// Fallback is used before the web banner is up: "terminal" asks on the
// controlling terminal, "decline" never reloads.
type RecoveryConfig struct {
	Fallback string `yaml:"fallback"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Policy returns the default page policy.
func (t TimingConfig) Policy() page.Policy {
	return page.Policy{Delay: t.Delay, Timeout: t.Timeout}
}

// PolicyOverrides returns the per-page overrides keyed by page id.
func (t TimingConfig) PolicyOverrides() map[page.ID]page.Policy {
	if len(t.Overrides) == 0 {
		return nil
	}
	out := make(map[page.ID]page.Policy, len(t.Overrides))
	for id, p := range t.Overrides {
		out[page.ID(id)] = p
	}
	return out
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	MERGEDASH_SERVER_HOST       - Server host (default: 0.0.0.0)
//	MERGEDASH_SERVER_PORT       - Server port (default: 8080)
//	MERGEDASH_ASSETS_DIR        - Deployment directory (default: bundled pages)
//	MERGEDASH_ASSETS_WATCH      - Watch the manifest for redeploys (default: true with a dir)
//	MERGEDASH_TIMING_DELAY      - Loading indicator delay (default: 200ms)
//	MERGEDASH_TIMING_TIMEOUT    - Page load timeout (default: 30s)
//	MERGEDASH_SESSIONS_TTL      - Idle session lifetime (default: 30m)
//	MERGEDASH_RECOVERY_FALLBACK - terminal or decline (default: decline)
//	MERGEDASH_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	MERGEDASH_LOG_FORMAT        - Log format: json or console (default: json)
//	MERGEDASH_METRICS_ENABLED   - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	cfg := Config{Metrics: MetricsConfig{Enabled: true}}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies MERGEDASH_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("MERGEDASH_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("MERGEDASH_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MERGEDASH_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("MERGEDASH_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Assets configuration
	if v := os.Getenv("MERGEDASH_ASSETS_DIR"); v != "" {
		cfg.Assets.Dir = v
	}
	if v := os.Getenv("MERGEDASH_ASSETS_WATCH"); v != "" {
		cfg.Assets.Watch = parseBool(v)
	}

	// Timing configuration
	if v := os.Getenv("MERGEDASH_TIMING_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timing.Delay = d
		}
	}
	if v := os.Getenv("MERGEDASH_TIMING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timing.Timeout = d
		}
	}

	// Sessions configuration
	if v := os.Getenv("MERGEDASH_SESSIONS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sessions.TTL = d
		}
	}

	// Recovery configuration
	if v := os.Getenv("MERGEDASH_RECOVERY_FALLBACK"); v != "" {
		cfg.Recovery.Fallback = v
	}

	// Logging configuration
	if v := os.Getenv("MERGEDASH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MERGEDASH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("MERGEDASH_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MERGEDASH_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Timing.Delay == 0 {
		cfg.Timing.Delay = page.DefaultDelay
	}
	if cfg.Timing.Timeout == 0 {
		cfg.Timing.Timeout = page.DefaultTimeout
	}

	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = 30 * time.Minute
	}
	if cfg.Sessions.SweepInterval == 0 {
		cfg.Sessions.SweepInterval = time.Minute
	}

	if cfg.Recovery.Fallback == "" {
		cfg.Recovery.Fallback = "decline"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if !cfg.Timing.Policy().Valid() {
		return fmt.Errorf("timing.delay (%s) must not exceed timing.timeout (%s)", cfg.Timing.Delay, cfg.Timing.Timeout)
	}
	for id, p := range cfg.Timing.Overrides {
		if !p.WithDefaults(cfg.Timing.Policy()).Valid() {
			return fmt.Errorf("timing.overrides[%s]: delay must not exceed timeout", id)
		}
	}

	validFallbacks := map[string]bool{"terminal": true, "decline": true}
	if !validFallbacks[cfg.Recovery.Fallback] {
		return fmt.Errorf("recovery.fallback must be 'terminal' or 'decline', got %q", cfg.Recovery.Fallback)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	return nil
}
