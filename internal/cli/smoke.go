package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kumasuke/s3harness/internal/harness"
	"github.com/kumasuke/s3harness/internal/s3client"
)

// NewSmokeCmd creates the smoke command.
func NewSmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Start the server, run a bucket round trip and stop it",
		Long: "Start the server under test, perform one create/put/get/delete bucket " +
			"round trip against it and shut it down again. Exits non-zero when any " +
			"step fails.",
		RunE: runSmoke,
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "run mode (process, container, external)")

	return cmd
}

func runSmoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadHarnessConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if mode != "" {
		cfg.Mode = mode
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

	if !run.External() {
		if err := ctrl.Start(false); err != nil {
			return err
		}
	}

	ctx := context.Background()
	client, err := s3client.New(ctx, s3client.Options{
		Endpoint:  ctrl.EndpointURL(true),
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Region:    cfg.Region,
		// Test certificates are self-signed.
		InsecureTLS: cfg.Server.TLSCert != "",
	})
	if err != nil {
		stopAfterSmoke(ctrl, run)
		return err
	}
	ctrl.Link(client)

	smokeErr := client.Smoke(ctx)
	if smokeErr != nil {
		if code := s3client.ErrorCode(smokeErr); code != "" {
			log.Error().Str("code", code).Msg("Smoke round trip failed")
		}
	} else {
		log.Info().Msg("Smoke round trip succeeded")
	}

	if err := stopAfterSmoke(ctrl, run); err != nil && smokeErr == nil {
		return err
	}
	return smokeErr
}

func stopAfterSmoke(ctrl harness.ServerController, run *harness.RunContext) error {
	if run.External() {
		return nil
	}
	return ctrl.Stop()
}
