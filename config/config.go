// Package config loads mailcycle daemon configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mailcycle/mailcycle/driver"
	"github.com/mailcycle/mailcycle/engine"
)

const (
	projectConfigName = "mailcycle.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the full daemon configuration. Values are read once at
// startup and immutable afterwards.
type Config struct {
	IntervalMinutes       int    `yaml:"interval_minutes"`
	RetryDelayMinutes     int    `yaml:"retry_delay_minutes"`
	ProgressUpdateSeconds int    `yaml:"progress_update_seconds"`
	Schedule              string `yaml:"schedule,omitempty"`
	HistoryLimit          int    `yaml:"history_limit"`
	SQLitePath            string `yaml:"sqlite_path,omitempty"`
	CredentialsPath       string `yaml:"credentials_path,omitempty"`

	Listen ListenConfig `yaml:"listen"`
	Driver DriverConfig `yaml:"driver"`
	OTLP   OTLPConfig   `yaml:"otlp"`
}

// ListenConfig configures the control API listener.
type ListenConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// DriverConfig configures the WebDriver session.
type DriverConfig struct {
	Endpoint       string           `yaml:"endpoint"`
	PortalURL      string           `yaml:"portal_url"`
	Headless       bool             `yaml:"headless"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
	Selectors      driver.Selectors `yaml:"selectors,omitempty"`
}

// OTLPConfig configures trace export. Empty endpoint disables export.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		IntervalMinutes:       int(engine.DefaultInterval.Minutes()),
		RetryDelayMinutes:     int(engine.DefaultRetryDelay.Minutes()),
		ProgressUpdateSeconds: int(engine.DefaultProgressInterval.Seconds()),
		HistoryLimit:          engine.DefaultHistoryLimit,
		Listen: ListenConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			CORSOrigin: "*",
		},
		Driver: DriverConfig{
			Endpoint:       "http://localhost:4444",
			Headless:       true,
			TimeoutSeconds: 60,
		},
	}
}

// Interval returns the cadence between successful cycles.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RetryDelay returns the fixed wait after a failed cycle.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMinutes) * time.Minute
}

// ProgressInterval returns the wait-phase polling granularity.
func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressUpdateSeconds) * time.Second
}

// DriverTimeout returns the per-request driver timeout.
func (c Config) DriverTimeout() time.Duration {
	return time.Duration(c.Driver.TimeoutSeconds) * time.Second
}

// Validate checks the values a running daemon cannot default its way
// around.
func (c Config) Validate() error {
	if c.IntervalMinutes <= 0 {
		return errors.New("interval_minutes must be positive")
	}
	if c.RetryDelayMinutes <= 0 {
		return errors.New("retry_delay_minutes must be positive")
	}
	if c.ProgressUpdateSeconds <= 0 {
		return errors.New("progress_update_seconds must be positive")
	}
	if strings.TrimSpace(c.Driver.PortalURL) == "" {
		return errors.New("driver.portal_url is required")
	}
	if strings.TrimSpace(c.Driver.Endpoint) == "" {
		return errors.New("driver.endpoint is required")
	}
	return nil
}

// DiscoverPath resolves the config file location with first-match
// semantics: explicit path, ./mailcycle.yaml, ~/.mailcycle/config.yaml.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 3)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".mailcycle", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if clean := strings.TrimSpace(path); clean != "" {
		// #nosec G304 -- path resolved from explicit local config discovery.
		data, err := os.ReadFile(clean)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", clean, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", clean, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv layers MAILCYCLE_* environment variables over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("MAILCYCLE_PORTAL_URL"); v != "" {
		c.Driver.PortalURL = v
	}
	if v := os.Getenv("MAILCYCLE_DRIVER_ENDPOINT"); v != "" {
		c.Driver.Endpoint = v
	}
	if v := os.Getenv("MAILCYCLE_HEADLESS"); v != "" {
		c.Driver.Headless = isTruthy(v)
	}
	if v := os.Getenv("MAILCYCLE_SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
	if v := os.Getenv("MAILCYCLE_SCHEDULE"); v != "" {
		c.Schedule = v
	}
	if v := os.Getenv("MAILCYCLE_OTLP_ENDPOINT"); v != "" {
		c.OTLP.Endpoint = v
	}
	if v := os.Getenv("MAILCYCLE_INTERVAL_MINUTES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			c.IntervalMinutes = parsed
		}
	}
	if v := os.Getenv("MAILCYCLE_RETRY_DELAY_MINUTES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			c.RetryDelayMinutes = parsed
		}
	}
	if v := os.Getenv("MAILCYCLE_PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			c.Listen.Port = parsed
		}
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
