package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openjobspec/ojs-workflows-nats/internal/catalog"
	"github.com/openjobspec/ojs-workflows-nats/internal/logging"
	"github.com/openjobspec/ojs-workflows-nats/internal/scheduler"
	"github.com/openjobspec/ojs-workflows-nats/internal/server"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "ojs-workflows",
	Short: "Scheduled single-flight workflow runner",
	Long: `ojs-workflows fires registered workflows on cron schedules, allows at most
one RUNNING run per workflow, persists every run with its log, and deletes old
runs according to each workflow's retention policy.

Running 'ojs-workflows' without arguments starts the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("store", "memory", "run store (memory, sqlite, postgres, nats)")
	flags.String("catalog", "", "workflow catalog file")

	// Bind flags to viper (errors are nil when flag exists)
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindPFlag("store", flags.Lookup("store"))
	_ = v.BindPFlag("catalog_file", flags.Lookup("catalog"))

	rootCmd.AddCommand(serveCmd, runCmd, sweepCmd, workflowsCmd)
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (server.Config, error) {
	cfg, err := server.LoadConfig(v, cfgFile)
	if err != nil {
		return server.Config{}, err
	}
	slog.SetDefault(logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}))
	return cfg, nil
}

// loadCatalog reads the configured catalog. Without a catalog file it is empty.
func loadCatalog(cfg server.Config) (*catalog.Catalog, error) {
	if cfg.CatalogFile == "" {
		return &catalog.Catalog{}, nil
	}
	c, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	slog.Info("workflow catalog loaded", "path", cfg.CatalogFile, "workflows", len(c.Workflows))
	return c, nil
}

// newEngine opens the store and registers the catalog workflows. When
// schedule is false the workflows are registered without cron registrations.
func newEngine(ctx context.Context, cfg server.Config, schedule bool) (*server.Engine, error) {
	c, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	e, err := server.NewEngine(ctx, cfg, slog.Default())
	if err != nil {
		return nil, err
	}

	client := &http.Client{}
	for _, job := range c.Jobs(client) {
		var sched scheduler.Schedule
		if schedule {
			sched = scheduler.Expression(job.Entry().Schedule)
		}
		if err := e.RegisterWorkflow(job, sched); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("registering %s: %w", job.WorkflowID(), err)
		}
	}
	return e, nil
}
