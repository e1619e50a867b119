package main

import (
	"fmt"
	"time"

	"github.com/fgeck/autoshutdown/internal/config"
	"github.com/fgeck/autoshutdown/internal/services/state"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted idle window",
	Long: `Show the idle window recorded by previous ticks without probing the
machine or changing anything.`,
	RunE: showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
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

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	stateSvc := state.New(log.Logger)

	fmt.Printf("State file: %s\n", cfg.State.Path)

	if !stateSvc.Exists(cfg.State.Path) {
		fmt.Println("No tick has run yet.")
		return nil
	}

	st, err := stateSvc.Load(cfg.State.Path)
	if err != nil {
		log.Error().Err(err).Msg("failed to load state")
		return err
	}

	if st.IdleSince == nil {
		fmt.Println("No idle window is open: the machine was active on the last tick.")
		return nil
	}

	now := time.Now()
	idleFor := st.IdleFor(now).Truncate(time.Second)
	threshold := time.Duration(cfg.Policy.InactivityThresholdMinutes) * time.Minute

	fmt.Printf("Idle since: %s\n", st.IdleSince.Format("2006-01-02 15:04:05"))
	fmt.Printf("Idle for:   %s of %s threshold\n", idleFor, threshold)

	if remaining := threshold - idleFor; remaining > 0 {
		fmt.Printf("Shutdown in %s at the earliest.\n", remaining.Truncate(time.Second))
	} else {
		fmt.Println("Threshold reached: the next tick will shut the machine down.")
	}

	return nil
}
