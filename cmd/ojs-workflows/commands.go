package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Run a catalog workflow once and print the finished run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := newEngine(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer engine.Close()

		run, err := engine.Executor.Start(cmd.Context(), args[0])
		if run != nil {
			if printErr := printJSON(cmd, run); printErr != nil {
				return printErr
			}
		}
		if err != nil {
			return err
		}
		if run.State == core.StateFailed {
			return fmt.Errorf("workflow %s failed", args[0])
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete runs older than each catalog workflow's retention age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := newEngine(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer engine.Close()

		result, err := engine.Sweeper.SweepAll(cmd.Context())
		if printErr := printJSON(cmd, result); printErr != nil {
			return printErr
		}
		return err
	},
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List the workflows declared in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCHEDULE\tMETHOD\tURL\tKEEP SUCCESS\tKEEP FAILED")
		for _, e := range c.Workflows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.Schedule, e.Method, e.URL, days(e.DeleteFinishedAfterDays), days(e.DeleteFailedAfterDays))
		}
		return w.Flush()
	},
}

func days(d *int) string {
	if d == nil {
		return "forever"
	}
	return fmt.Sprintf("%dd", *d)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

