package models

import "time"

// ProbeReading is one tick's view of the host signals.
type ProbeReading struct {
	ActiveSessions int
	LoadAvg        float64
}

// DecisionState is the durable record carried between ticks.
type DecisionState struct {
	// IdleSince is the first moment of the current unbroken idle streak,
	// nil while the host is considered active.
	IdleSince *time.Time `json:"idle_since,omitempty"`
}

// IdleFor reports how long the host has been idle at the given instant.
func (s DecisionState) IdleFor(now time.Time) time.Duration {
	if s.IdleSince == nil {
		return 0
	}
	return now.Sub(*s.IdleSince)
}

// Outcome classifies one tick's decision.
type Outcome string

const (
	OutcomeDisabled Outcome = "disabled"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeShutdown Outcome = "shutdown"
)

// BlockReason explains why a blocked tick did not shut the host down.
type BlockReason string

const (
	ReasonSSHOpen                BlockReason = "ssh_open"
	ReasonSystemBusy             BlockReason = "system_busy"
	ReasonWithinInactivityWindow BlockReason = "within_inactivity_window"
	ReasonBeforeEarliestTime     BlockReason = "before_earliest_time"
)

// Decision is the result of one policy evaluation together with the
// state to persist for the next tick.
type Decision struct {
	Outcome Outcome
	Reason  BlockReason // set only when Outcome is OutcomeBlocked
	State   DecisionState
}
