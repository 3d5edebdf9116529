package main

import (
	"github.com/spf13/cobra"

	"newsletter/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Provision the database, apply migrations and serve HTTP",
	Args:  cobra.NoArgs,
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	settings, log, err := loadSettings()
	if err != nil {
		logFallback().Fatalf("%v", err)
	}

	if err := app.Serve(cmd.Context(), settings, Version, log); err != nil {
		log.Fatalf("newsletter: %v", err)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.Run = runServe
}
