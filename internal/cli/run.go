package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kumasuke/s3harness/internal/harness"
	"github.com/kumasuke/s3harness/internal/logtail"
)

var (
	configFile    string
	mode          string
	fastStart     bool
	joinServerLog bool
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the server under test and keep it running",
		Long: "Start the server under test, wait for readiness and keep it running " +
			"until interrupted. On interrupt the server is stopped gracefully, " +
			"escalating to a forced kill when needed.",
		RunE: runRun,
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "run mode (process, container, external)")
	cmd.Flags().BoolVar(&fastStart, "fast-start", false, "skip the readiness poll")
	cmd.Flags().BoolVar(&joinServerLog, "join-server-log", false, "forward server log lines into the harness log")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadHarnessConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if joinServerLog {
		cfg.JoinServerLog = true
	}

	setupLogging(cfg.Logging)

	runMode, err := harness.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	run, err := harness.NewRunContext(runMode)
	if err != nil {
		return err
	}
	defer run.Cleanup()

	ctrl, err := harness.New(&cfg.Server, run)
	if err != nil {
		return err
	}

	log.Info().
		Str("mode", cfg.Mode).
		Str("endpoint", ctrl.EndpointURL(true)).
		Msg("Starting server under test")

	if err := ctrl.Start(fastStart); err != nil {
		return err
	}

	if cfg.JoinServerLog && cfg.Server.Log != "" {
		tailer, err := logtail.Follow(cfg.Server.Log, func(line string) {
			log.Info().Str("source", "server").Msg(line)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Cannot follow server log")
		} else {
			defer func() { _ = tailer.Stop() }()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	return ctrl.Stop()
}
