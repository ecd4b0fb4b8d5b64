package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Interval() != 20*time.Minute {
		t.Fatalf("Interval = %s, want 20m", cfg.Interval())
	}
	if cfg.RetryDelay() != 5*time.Minute {
		t.Fatalf("RetryDelay = %s, want 5m", cfg.RetryDelay())
	}
	if cfg.ProgressInterval() != 60*time.Second {
		t.Fatalf("ProgressInterval = %s, want 60s", cfg.ProgressInterval())
	}
	if cfg.Listen.Port != 8080 {
		t.Fatalf("Listen.Port = %d, want 8080", cfg.Listen.Port)
	}
	if !cfg.Driver.Headless {
		t.Fatal("Driver.Headless should default to true")
	}
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "mailcycle.yaml", `
interval_minutes: 10
retry_delay_minutes: 2
history_limit: 25
sqlite_path: /tmp/cycles.db
listen:
  port: 9090
driver:
  endpoint: http://selenium:4444
  portal_url: https://portal.example.com/app
  headless: false
  timeout_seconds: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interval() != 10*time.Minute {
		t.Fatalf("Interval = %s, want 10m", cfg.Interval())
	}
	if cfg.RetryDelay() != 2*time.Minute {
		t.Fatalf("RetryDelay = %s, want 2m", cfg.RetryDelay())
	}
	// Values the file omits keep their defaults.
	if cfg.ProgressInterval() != 60*time.Second {
		t.Fatalf("ProgressInterval = %s, want default 60s", cfg.ProgressInterval())
	}
	if cfg.HistoryLimit != 25 {
		t.Fatalf("HistoryLimit = %d, want 25", cfg.HistoryLimit)
	}
	if cfg.Listen.Port != 9090 {
		t.Fatalf("Listen.Port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.Driver.Endpoint != "http://selenium:4444" {
		t.Fatalf("Driver.Endpoint = %q", cfg.Driver.Endpoint)
	}
	if cfg.Driver.Headless {
		t.Fatal("Driver.Headless should be false from file")
	}
	if cfg.DriverTimeout() != 30*time.Second {
		t.Fatalf("DriverTimeout = %s, want 30s", cfg.DriverTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "mailcycle.yaml", `
driver:
  portal_url: https://portal.example.com/app
`)

	t.Setenv("MAILCYCLE_PORTAL_URL", "https://override.example.com")
	t.Setenv("MAILCYCLE_INTERVAL_MINUTES", "15")
	t.Setenv("MAILCYCLE_HEADLESS", "no")
	t.Setenv("MAILCYCLE_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Driver.PortalURL != "https://override.example.com" {
		t.Fatalf("PortalURL = %q, want env override", cfg.Driver.PortalURL)
	}
	if cfg.IntervalMinutes != 15 {
		t.Fatalf("IntervalMinutes = %d, want 15", cfg.IntervalMinutes)
	}
	if cfg.Driver.Headless {
		t.Fatal("Headless should be false from env")
	}
	if cfg.Listen.Port != 7070 {
		t.Fatalf("Listen.Port = %d, want 7070", cfg.Listen.Port)
	}
}

func TestLoad_IgnoresInvalidNumericEnv(t *testing.T) {
	t.Setenv("MAILCYCLE_INTERVAL_MINUTES", "not a number")
	t.Setenv("MAILCYCLE_PORT", "-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IntervalMinutes != 20 {
		t.Fatalf("IntervalMinutes = %d, want default 20", cfg.IntervalMinutes)
	}
	if cfg.Listen.Port != 8080 {
		t.Fatalf("Listen.Port = %d, want default 8080", cfg.Listen.Port)
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "mailcycle.yaml", "interval_minutes: [")

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing portal url", func(c *Config) { c.Driver.PortalURL = "" }, "portal_url"},
		{"missing endpoint", func(c *Config) { c.Driver.Endpoint = "" }, "endpoint"},
		{"zero interval", func(c *Config) { c.IntervalMinutes = 0 }, "interval_minutes"},
		{"zero retry delay", func(c *Config) { c.RetryDelayMinutes = 0 }, "retry_delay_minutes"},
		{"zero progress", func(c *Config) { c.ProgressUpdateSeconds = 0 }, "progress_update_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Driver.PortalURL = "https://portal.example.com/app"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestDiscoverPathFrom(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	// Nothing exists yet.
	path, found, err := DiscoverPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverPathFrom: %v", err)
	}
	if found || path != "" {
		t.Fatalf("found %q, want nothing", path)
	}

	// Home config is the fallback.
	if err := os.MkdirAll(filepath.Join(home, ".mailcycle"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	homeCfg := writeConfigFile(t, filepath.Join(home, ".mailcycle"), "config.yaml", "")
	path, found, err = DiscoverPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverPathFrom: %v", err)
	}
	if !found || path != homeCfg {
		t.Fatalf("got %q, want %q", path, homeCfg)
	}

	// A project config wins over the home one.
	projectCfg := writeConfigFile(t, cwd, "mailcycle.yaml", "")
	path, found, err = DiscoverPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverPathFrom: %v", err)
	}
	if !found || path != projectCfg {
		t.Fatalf("got %q, want %q", path, projectCfg)
	}

	// An explicit path wins over everything, and must exist.
	explicit := writeConfigFile(t, t.TempDir(), "other.yaml", "")
	path, found, err = DiscoverPathFrom(explicit, cwd, home)
	if err != nil {
		t.Fatalf("DiscoverPathFrom explicit: %v", err)
	}
	if !found || path != explicit {
		t.Fatalf("got %q, want %q", path, explicit)
	}

	if _, _, err := DiscoverPathFrom(filepath.Join(cwd, "nope.yaml"), cwd, home); err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}
