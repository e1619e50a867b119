package main

import (
	"fmt"
	"time"

	"github.com/fgeck/autoshutdown/internal/config"
	"github.com/fgeck/autoshutdown/internal/models"
	"github.com/fgeck/autoshutdown/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show what the next tick would decide",
	Long: `Probe the machine and evaluate the shutdown decision without acting on it.

Nothing is persisted and no shutdown is triggered; use this to see why
the machine does or does not power off.`,
	RunE: checkDecision,
}

func checkDecision(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, Version)
	decision, reading, err := runnerSvc.Evaluate(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("evaluation failed")
		return err
	}

	switch decision.Outcome {
	case models.OutcomeDisabled:
		fmt.Println("Decision: disabled (autoshutdown is turned off)")
	case models.OutcomeBlocked:
		fmt.Printf("Decision: blocked (%s)\n", decision.Reason)
	case models.OutcomeShutdown:
		fmt.Println("Decision: shutdown (the machine would power off now)")
	}

	if decision.Outcome != models.OutcomeDisabled {
		fmt.Println()
		if cfg.Policy.RequireNoSSH {
			fmt.Printf("  Active SSH sessions: %d\n", reading.ActiveSessions)
		}
		fmt.Printf("  Load average (%dm): %.2f (busy at %.2f)\n",
			cfg.Policy.LoadAvgWindow, reading.LoadAvg, cfg.Policy.CPUIdleThreshold)
		if decision.State.IdleSince != nil {
			now := time.Now()
			fmt.Printf("  Idle since: %s (%s of %dm threshold)\n",
				decision.State.IdleSince.Format("2006-01-02 15:04:05"),
				decision.State.IdleFor(now).Truncate(time.Second),
				cfg.Policy.InactivityThresholdMinutes)
		} else {
			fmt.Println("  Idle since: not idle")
		}
	}

	fmt.Println()
	fmt.Println("Dry run: no state was written and no shutdown was triggered.")

	return nil
}
