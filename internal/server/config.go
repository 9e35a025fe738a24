package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openjobspec/ojs-workflows-nats/internal/scheduler"
)

// Run store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreNATS     = "nats"
)

// Config holds server configuration. Values come from an optional YAML file
// and OJS_* environment variables, the latter taking precedence.
type Config struct {
	Port     string
	GRPCPort string

	Store       string
	NatsURL     string
	SQLitePath  string
	PostgresURL string

	CatalogFile   string
	SweepSchedule string
	Timezone      string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownGrace   time.Duration
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("grpc_port", "9090")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("sqlite_path", "data/workflow-runs.db")
	v.SetDefault("postgres_url", "")
	v.SetDefault("catalog_file", "")
	v.SetDefault("sweep_schedule", "@every 1h")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("read_timeout", 30*time.Second)
	v.SetDefault("write_timeout", 5*time.Minute)
	v.SetDefault("idle_timeout", 120*time.Second)
	v.SetDefault("shutdown_grace", 500*time.Millisecond)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads configuration into a Config. A nil v uses a fresh viper
// instance. configFile is optional; when set it must exist.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix("OJS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// NATS_URL is the conventional variable for NATS clients.
	_ = v.BindEnv("nats_url", "OJS_NATS_URL", "NATS_URL")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Port:            v.GetString("port"),
		GRPCPort:        v.GetString("grpc_port"),
		Store:           strings.ToLower(v.GetString("store")),
		NatsURL:         v.GetString("nats_url"),
		SQLitePath:      v.GetString("sqlite_path"),
		PostgresURL:     v.GetString("postgres_url"),
		CatalogFile:     v.GetString("catalog_file"),
		SweepSchedule:   v.GetString("sweep_schedule"),
		Timezone:        v.GetString("timezone"),
		ReadTimeout:     v.GetDuration("read_timeout"),
		WriteTimeout:    v.GetDuration("write_timeout"),
		IdleTimeout:     v.GetDuration("idle_timeout"),
		ShutdownGrace:   v.GetDuration("shutdown_grace"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		LogLevel:        v.GetString("log.level"),
		LogFormat:       v.GetString("log.format"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the store selection and the retention schedule.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite store"))
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("postgres_url is required for the postgres store"))
		}
	case StoreNATS:
		if c.NatsURL == "" {
			errs = append(errs, errors.New("nats_url is required for the nats store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want memory, sqlite, postgres or nats)", c.Store))
	}
	if c.SweepSchedule != "" {
		if _, err := scheduler.ParseSchedule(c.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("sweep_schedule %q: %w", c.SweepSchedule, err))
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}

// Location returns the configured schedule time zone, UTC if unset.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
