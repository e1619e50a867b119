package main

import (
	"fmt"

	"github.com/fgeck/autoshutdown/internal/config"
	"github.com/fgeck/autoshutdown/internal/services/remote"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var haltTestOnly bool

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Power off the configured remote host over SSH",
	Long: `Connect to the host named in the remote_shutdown config block and run
its shutdown command.

Use --test to only verify that the SSH connection works.`,
	RunE: haltRemote,
}

func init() {
	haltCmd.Flags().BoolVar(&haltTestOnly, "test", false, "test the SSH connection without shutting down")
}

func haltRemote(cmd *cobra.Command, args []string) error {
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

	if cfg.Remote == nil {
		log.Error().Msg("remote_shutdown is not configured")
		return fmt.Errorf("remote_shutdown is not configured in %s", configFile)
	}

	ctx, cancel := signalContext()
	defer cancel()

	remoteSvc := remote.New(log.Logger)

	if haltTestOnly {
		result, err := remoteSvc.TestConnection(ctx, *cfg.Remote)
		if err != nil {
			log.Error().Err(err).Msg("connection test failed")
			return err
		}
		if result.Error != nil {
			log.Error().Err(result.Error).Msg("connection test failed")
			return result.Error
		}
		log.Info().Str("host", cfg.Remote.Host).Msg("connection ok")
		return nil
	}

	result, err := remoteSvc.PowerOff(ctx, *cfg.Remote)
	if err != nil {
		log.Error().Err(err).Msg("remote shutdown failed")
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Msg("remote shutdown failed")
		return result.Error
	}

	log.Info().Str("host", cfg.Remote.Host).Msg("shutdown command sent")
	return nil
}
