// Package cli provides the s3harness commands.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kumasuke/s3harness/internal/config"
)

var (
	// Version is set at build time.
	Version = "dev"
	// Commit is set at build time.
	Commit = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "s3harness",
		Short: "s3harness - lifecycle orchestrator for S3-compatible servers",
		Long: "s3harness manages the server under conformance test: it starts it as a " +
			"process or container, waits for readiness, and guarantees shutdown.",
	}

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewSmokeCmd())
	rootCmd.AddCommand(NewIgnoredCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// loadHarnessConfig loads the harness configuration, from an explicit file
// when given.
func loadHarnessConfig(configFile string) (*config.Harness, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}
