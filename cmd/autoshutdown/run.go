package main

import (
	"github.com/fgeck/autoshutdown/internal/config"
	"github.com/fgeck/autoshutdown/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one shutdown decision tick",
	Long: `Execute one tick of the shutdown engine:
1. Probe established SSH sessions and the load average
2. Decide whether the machine may shut down
3. Persist the idle window for the next invocation
4. Send a Telegram notification (if configured)
5. Run /usr/sbin/shutdown when the decision is shutdown

Each invocation is independent; schedule it with cron or a systemd timer.`,
	RunE: runTick,
}

func runTick(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log.Debug().
		Str("config", configFile).
		Bool("enabled", cfg.Policy.Enabled).
		Int("threshold_minutes", cfg.Policy.InactivityThresholdMinutes).
		Str("state", cfg.State.Path).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, Version)
	if err := runnerSvc.RunTick(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("tick failed")
		return err
	}

	return nil
}
