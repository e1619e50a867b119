package main

import (
	"fmt"

	"github.com/fgeck/autoshutdown/internal/config"
	"github.com/fgeck/autoshutdown/internal/services/wol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var wakeCmd = &cobra.Command{
	Use:   "wake",
	Short: "Wake the configured target via Wake-on-LAN",
	Long: `Send a Wake-on-LAN magic packet to the host named in the wol config
block and optionally wait until it answers HTTP requests again.

The counterpart to shutting a machine down: wake it back up on demand.`,
	RunE: wakeTarget,
}

func wakeTarget(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	if cfg.WOL == nil {
		log.Error().Msg("wol is not configured")
		return fmt.Errorf("wol is not configured in %s", configFile)
	}

	ctx, cancel := signalContext()
	defer cancel()

	wolSvc := wol.New(log.Logger)
	result, err := wolSvc.Wake(ctx, *cfg.WOL)
	if err != nil {
		log.Error().Err(err).Msg("wake failed")
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Msg("wake failed")
		return result.Error
	}

	if cfg.WOL.PollURL != "" {
		log.Info().
			Str("target", cfg.WOL.PollURL).
			Dur("waited", result.WaitDuration).
			Msg("target is up")
	} else {
		log.Info().Str("mac", cfg.WOL.MACAddress).Msg("magic packet sent")
	}

	return nil
}
