package main

import (
	"fmt"
	"os"

	"github.com/fgeck/autoshutdown/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without probing the machine or shutting anything down.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Policy:")
	fmt.Printf("  Enabled: %v\n", cfg.Policy.Enabled)
	fmt.Printf("  Inactivity threshold: %d minute(s)\n", cfg.Policy.InactivityThresholdMinutes)
	fmt.Printf("  Load average window: %d minute(s)\n", cfg.Policy.LoadAvgWindow)
	fmt.Printf("  Busy above load: %.2f\n", cfg.Policy.CPUIdleThreshold)
	fmt.Printf("  Block while SSH sessions open: %v\n", cfg.Policy.RequireNoSSH)
	fmt.Printf("  Earliest shutdown time: %s\n", cfg.Policy.EarliestShutdownTime)
	fmt.Printf("  Force midnight shutdown: %v\n", cfg.Policy.ForceMidnightShutdown)
	fmt.Printf("  Tick interval: %d minute(s)\n", cfg.Policy.TickIntervalMinutes)
	fmt.Println()
	fmt.Println("State:")
	fmt.Printf("  Path: %s\n", cfg.State.Path)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Remote Shutdown: %v\n", cfg.Remote != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollURL != "" {
			fmt.Printf("  Poll URL: %s\n", cfg.WOL.PollURL)
		}
	}

	if cfg.Remote != nil {
		fmt.Println()
		fmt.Println("Remote Shutdown Configuration:")
		fmt.Printf("  Host: %s\n", cfg.Remote.Host)
		fmt.Printf("  Port: %d\n", cfg.Remote.Port)
		fmt.Printf("  Username: %s\n", cfg.Remote.Username)
		fmt.Printf("  OS: %s\n", cfg.Remote.OS)
		fmt.Printf("  Shutdown Delay: %d\n", cfg.Remote.ShutdownDelay)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}
