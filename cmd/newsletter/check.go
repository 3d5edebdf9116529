package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"newsletter/internal/db"
	"newsletter/internal/health"
)

var checkOutput string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one readiness probe and print the snapshot",
	Long:  "Probes the configured database once. Exits 0 on pass, 1 on warn or fail.",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	settings, log, err := loadSettings()
	if err != nil {
		return err
	}
	if settings.Database.DefaultDatabase() {
		log.Warn("no database configured, using default", "database", settings.Database.Database)
	}
	pool, err := db.BuildPool(cmd.Context(), settings.Database.ConnectionString(), db.PoolOptionsFrom(settings.Database), log)
	if err != nil {
		return err
	}
	defer pool.Close()

	timeout := settings.Application.HealthCacheValidity()
	if timeout < time.Second {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	snap := health.NewProber(pool, Version, log).Probe(ctx)
	if err := renderSnapshot(cmd.OutOrStdout(), snap, checkOutput); err != nil {
		return err
	}
	if !snap.Healthy() {
		return exitError{code: 1}
	}
	return nil
}

func renderSnapshot(w io.Writer, snap health.Snapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		style := successStyle
		switch snap.Status {
		case health.StatusWarn:
			style = warnStyle
		case health.StatusFail:
			style = errorStyle
		}
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render("==> database:"), style.Render(string(snap.Status)))
		fmt.Fprintf(w, "    %s %s\n", dimStyle.Render("read:"), snap.Checks.PostgresRead.Status)
		fmt.Fprintf(w, "    %s %s\n", dimStyle.Render("write:"), snap.Checks.PostgresWrite.Status)
		if snap.Output != "" {
			fmt.Fprintf(w, "    %s %s\n", dimStyle.Render("output:"), snap.Output)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want json, yaml or text)", format)
	}
}

func init() {
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "json", "output format: json, yaml or text")
	rootCmd.AddCommand(checkCmd)
}
