package main

import (
	"os"

	"github.com/spf13/cobra"

	reportcmd "github.com/rzbill/relay/internal/cmd/report"
	logpkg "github.com/rzbill/relay/pkg/log"
)

func main() {
	// Respect RELAY_LOG_LEVEL for all command output.
	level := os.Getenv("RELAY_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger.
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay test-report delivery CLI",
		Long:  "Relay delivers test-execution reports (launches, items, logs) to a reporting service.",
	}

	rootCmd.AddCommand(reportcmd.NewReportCommand(logger))
	rootCmd.AddCommand(reportcmd.NewDLQCommand(logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
