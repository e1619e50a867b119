// Package models contains the data structures used throughout autoshutdown.
package models

import (
	"fmt"
	"strconv"
)

// Config holds the complete configuration for one engine invocation.
type Config struct {
	Policy   PolicyConfig
	State    StateConfig
	WOL      *WOLConfig            // nil if not configured
	Remote   *RemoteShutdownConfig // nil if not configured
	Telegram *TelegramConfig       // nil if not configured
}

// PolicyConfig holds the inactivity decision settings, immutable per tick.
type PolicyConfig struct {
	Enabled                    bool
	EarliestShutdownTime       ClockTime
	LoadAvgWindow              int // 1, 5 or 15
	InactivityThresholdMinutes int
	CPUIdleThreshold           float64 // load average below which the host counts as idle
	RequireNoSSH               bool
	ForceMidnightShutdown      bool
	TickIntervalMinutes        int // how often the external scheduler fires
}

// StateConfig locates the persisted idle record.
type StateConfig struct {
	Path string
}

// ClockTime is a time of day with minute resolution.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses a 24h "HH:MM" string.
func ParseClockTime(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' {
		return ClockTime{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(s[:2])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	minute, err := strconv.Atoi(s[3:])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid time %q: hours 00-23, minutes 00-59", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// Minutes returns the time of day as minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
