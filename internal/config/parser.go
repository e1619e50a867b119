// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/autoshutdown/internal/models"
	"github.com/spf13/viper"
)

const defaultStatePath = "/run/autoshutdown/state.json"

// Inactivity threshold bounds in minutes. The upper bound is the span
// from midnight to the last evening tick of an 18:00 work cutoff, the
// longest window that still fits inside one day.
const (
	minInactivityThreshold = 15
	maxInactivityThreshold = 1095
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// Policy defaults: the engine is armed unless the config says otherwise.
	cfg.Policy = models.PolicyConfig{
		Enabled:                    true,
		LoadAvgWindow:              15,
		InactivityThresholdMinutes: 30,
		CPUIdleThreshold:           0.05,
		RequireNoSSH:               true,
	}

	if p.v.IsSet("policy.enabled") {
		cfg.Policy.Enabled = p.v.GetBool("policy.enabled")
	}
	if p.v.IsSet("policy.loadavg_window") {
		cfg.Policy.LoadAvgWindow = p.v.GetInt("policy.loadavg_window")
	}
	if p.v.IsSet("policy.inactivity_threshold_minutes") {
		cfg.Policy.InactivityThresholdMinutes = p.v.GetInt("policy.inactivity_threshold_minutes")
	}
	if p.v.IsSet("policy.cpu_idle_threshold") {
		cfg.Policy.CPUIdleThreshold = p.v.GetFloat64("policy.cpu_idle_threshold")
	}
	if p.v.IsSet("policy.require_no_ssh") {
		cfg.Policy.RequireNoSSH = p.v.GetBool("policy.require_no_ssh")
	}
	cfg.Policy.ForceMidnightShutdown = p.v.GetBool("policy.force_midnight_shutdown")

	if raw := p.v.GetString("policy.earliest_shutdown_time"); raw != "" {
		earliest, err := models.ParseClockTime(raw)
		if err != nil {
			return nil, fmt.Errorf("policy.earliest_shutdown_time: %w", err)
		}
		cfg.Policy.EarliestShutdownTime = earliest
	}

	// The tick interval follows the load average window unless set
	// explicitly: a 15 minute average only means something when the
	// scheduler fires every 15 minutes.
	if p.v.IsSet("policy.tick_interval_minutes") {
		cfg.Policy.TickIntervalMinutes = p.v.GetInt("policy.tick_interval_minutes")
	} else {
		cfg.Policy.TickIntervalMinutes = cfg.Policy.LoadAvgWindow
	}

	// Parse state settings.
	cfg.State = models.StateConfig{
		Path: p.expandEnv(p.v.GetString("state.path")),
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaultStatePath
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:   p.v.GetString("wol.mac_address"),
			BroadcastIP:  p.v.GetString("wol.broadcast_ip"),
			PollURL:      p.v.GetString("wol.poll_url"),
			Timeout:      p.v.GetDuration("wol.timeout"),
			PollInterval: p.v.GetDuration("wol.poll_interval"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
	}

	// Parse optional remote shutdown config.
	if p.v.IsSet("remote_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.Remote = &models.RemoteShutdownConfig{
			Host:          p.v.GetString("remote_shutdown.host"),
			Port:          p.v.GetInt("remote_shutdown.port"),
			Username:      p.v.GetString("remote_shutdown.username"),
			KeyPath:       p.expandEnv(p.v.GetString("remote_shutdown.key_path")),
			ShutdownDelay: p.v.GetInt("remote_shutdown.shutdown_delay"),
			OS:            p.v.GetString("remote_shutdown.os"),
		}

		if cfg.Remote.Host == "" {
			return nil, fmt.Errorf("remote_shutdown.host is required when remote_shutdown is configured")
		}
		if cfg.Remote.Port == 0 {
			cfg.Remote.Port = 22
		}
		if cfg.Remote.Username == "" {
			cfg.Remote.Username = "root"
		}
		if cfg.Remote.KeyPath == "" {
			return nil, fmt.Errorf("remote_shutdown.key_path is required when remote_shutdown is configured")
		}
		if cfg.Remote.ShutdownDelay == 0 {
			cfg.Remote.ShutdownDelay = 1
		}
		// Validate and default OS
		if cfg.Remote.OS == "" {
			cfg.Remote.OS = "linux"
		}
		validOS := map[string]bool{"linux": true, "windows": true}
		if !validOS[cfg.Remote.OS] {
			return nil, fmt.Errorf("remote_shutdown.os must be one of: linux, windows")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	policy := cfg.Policy

	if policy.LoadAvgWindow != 1 && policy.LoadAvgWindow != 5 && policy.LoadAvgWindow != 15 {
		return fmt.Errorf("policy.loadavg_window must be one of: 1, 5, 15")
	}

	if policy.CPUIdleThreshold < 0 || policy.CPUIdleThreshold > 1 {
		return fmt.Errorf("policy.cpu_idle_threshold must be between 0 and 1")
	}

	if policy.InactivityThresholdMinutes < minInactivityThreshold || policy.InactivityThresholdMinutes > maxInactivityThreshold {
		return fmt.Errorf("policy.inactivity_threshold_minutes must be between %d and %d",
			minInactivityThreshold, maxInactivityThreshold)
	}

	if policy.InactivityThresholdMinutes%policy.LoadAvgWindow != 0 {
		return fmt.Errorf("policy.inactivity_threshold_minutes must be a multiple of policy.loadavg_window")
	}

	if policy.TickIntervalMinutes < 1 || policy.TickIntervalMinutes > 60 {
		return fmt.Errorf("policy.tick_interval_minutes must be between 1 and 60")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	return nil
}
