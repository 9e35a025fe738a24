package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(nil, "")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.GRPCPort != "9090" {
		t.Errorf("ports = %s/%s", cfg.Port, cfg.GRPCPort)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.SweepSchedule != "@every 1h" {
		t.Errorf("SweepSchedule = %q", cfg.SweepSchedule)
	}
	if cfg.ShutdownGrace != 500*time.Millisecond {
		t.Errorf("ShutdownGrace = %v", cfg.ShutdownGrace)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("OJS_PORT", "9000")
	t.Setenv("OJS_STORE", "SQLite")
	t.Setenv("OJS_SQLITE_PATH", "/tmp/runs.db")
	t.Setenv("OJS_SHUTDOWN_GRACE", "2s")
	t.Setenv("OJS_LOG_LEVEL", "debug")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := LoadConfig(nil, "")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.Store != StoreSQLite || cfg.SQLitePath != "/tmp/runs.db" {
		t.Errorf("store = %q at %q", cfg.Store, cfg.SQLitePath)
	}
	if cfg.ShutdownGrace != 2*time.Second {
		t.Errorf("ShutdownGrace = %v", cfg.ShutdownGrace)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.NatsURL != "nats://broker:4222" {
		t.Errorf("NatsURL = %q", cfg.NatsURL)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ojs.yaml")
	content := "port: \"7000\"\nstore: postgres\npostgres_url: postgres://localhost/ojs\nsweep_schedule: \"0 3 * * *\"\nlog:\n  format: text\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(nil, path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "7000" || cfg.Store != StorePostgres || cfg.PostgresURL != "postgres://localhost/ojs" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SweepSchedule != "0 3 * * *" || cfg.LogFormat != "text" {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := LoadConfig(nil, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig(missing file) expected error")
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{Store: StoreMemory, SweepSchedule: "@hourly", Timezone: "UTC"}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store = "redis" }, "unknown store"},
		{"postgres without url", func(c *Config) { c.Store = StorePostgres }, "postgres_url"},
		{"sqlite without path", func(c *Config) { c.Store = StoreSQLite }, "sqlite_path"},
		{"nats without url", func(c *Config) { c.Store = StoreNATS }, "nats_url"},
		{"bad sweep schedule", func(c *Config) { c.SweepSchedule = "sometimes" }, "sweep_schedule"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
