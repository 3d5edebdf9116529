package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"newsletter/internal/logging"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

// logFallback is used before configuration has been read.
func logFallback() *logging.Logger {
	return logging.New("newsletter", "")
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
