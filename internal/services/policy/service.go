// Package policy holds the pure decision rules of the shutdown engine.
// Decide never touches the filesystem or the network; everything it
// needs arrives as arguments, everything it concludes leaves as a
// models.Decision.
package policy

import (
	"time"

	"github.com/fgeck/autoshutdown/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for the inactivity decision.
type Service interface {
	Decide(cfg models.PolicyConfig, reading models.ProbeReading, state models.DecisionState, now time.Time) models.Decision
}

// evaluation carries one tick's inputs through the guard chain.
type evaluation struct {
	cfg     models.PolicyConfig
	reading models.ProbeReading
	prior   models.DecisionState
	next    models.DecisionState
	now     time.Time
}

// guard is one ordered rule of the policy. check returns the decision
// and true when the rule terminates the evaluation.
type guard struct {
	name  string
	check func(e evaluation) (models.Decision, bool)
}

// Impl implements the Service interface.
type Impl struct {
	logger zerolog.Logger
	guards []guard
}

// New creates a new policy service.
func New(logger zerolog.Logger) *Impl {
	s := &Impl{logger: logger}
	s.guards = []guard{
		{name: "disabled", check: s.disabled},
		{name: "midnight_override", check: s.midnightOverride},
		{name: "before_earliest_time", check: s.beforeEarliestTime},
		{name: "ssh_open", check: s.sshOpen},
		{name: "system_busy", check: s.systemBusy},
		{name: "inactivity_window", check: s.inactivityWindow},
	}
	return s
}

// Decide applies the shutdown rules to one tick. The rules fire in a
// fixed order: disabled wins over everything, the midnight override wins
// over every blocking rule, and the blocking rules win over the
// inactivity countdown. The returned state carries this tick's idle
// streak no matter which rule decided the outcome; only a disabled tick
// returns the prior state untouched.
func (s *Impl) Decide(cfg models.PolicyConfig, reading models.ProbeReading, state models.DecisionState, now time.Time) models.Decision {
	e := evaluation{
		cfg:     cfg,
		reading: reading,
		prior:   state,
		next:    nextIdleState(cfg, reading, state, now),
		now:     now,
	}

	for _, g := range s.guards {
		if decision, done := g.check(e); done {
			s.logger.Debug().
				Str("guard", g.name).
				Str("outcome", string(decision.Outcome)).
				Msg("policy decided")
			return decision
		}
	}

	// Unreachable: inactivityWindow always decides.
	return models.Decision{Outcome: models.OutcomeBlocked, Reason: models.ReasonWithinInactivityWindow, State: e.next}
}

// nextIdleState computes the idle streak to persist after this tick: any
// activity signal breaks the streak, the first fully idle tick starts it,
// later idle ticks keep its origin.
func nextIdleState(cfg models.PolicyConfig, reading models.ProbeReading, state models.DecisionState, now time.Time) models.DecisionState {
	if cfg.RequireNoSSH && reading.ActiveSessions > 0 {
		return models.DecisionState{}
	}
	if reading.LoadAvg >= cfg.CPUIdleThreshold {
		return models.DecisionState{}
	}
	if state.IdleSince == nil {
		start := now
		return models.DecisionState{IdleSince: &start}
	}
	return state
}

func (s *Impl) disabled(e evaluation) (models.Decision, bool) {
	if e.cfg.Enabled {
		return models.Decision{}, false
	}
	return models.Decision{Outcome: models.OutcomeDisabled, State: e.prior}, true
}

// midnightOverride fires on the first tick of a new day when the config
// asks for an unconditional nightly shutdown. Only the enabled switch
// outranks it.
func (s *Impl) midnightOverride(e evaluation) (models.Decision, bool) {
	if !e.cfg.ForceMidnightShutdown {
		return models.Decision{}, false
	}
	if minutesSinceMidnight(e.now) >= e.cfg.TickIntervalMinutes {
		return models.Decision{}, false
	}
	return models.Decision{Outcome: models.OutcomeShutdown, State: e.next}, true
}

// beforeEarliestTime blocks shutdowns before the configured time of day.
// The idle streak still accrues behind this gate, so a host idle since
// before the earliest time can shut down on the first tick after it.
func (s *Impl) beforeEarliestTime(e evaluation) (models.Decision, bool) {
	if minutesSinceMidnight(e.now) >= e.cfg.EarliestShutdownTime.Minutes() {
		return models.Decision{}, false
	}
	return models.Decision{Outcome: models.OutcomeBlocked, Reason: models.ReasonBeforeEarliestTime, State: e.next}, true
}

func (s *Impl) sshOpen(e evaluation) (models.Decision, bool) {
	if !e.cfg.RequireNoSSH || e.reading.ActiveSessions == 0 {
		return models.Decision{}, false
	}
	return models.Decision{Outcome: models.OutcomeBlocked, Reason: models.ReasonSSHOpen, State: e.next}, true
}

// systemBusy treats a load average exactly at the threshold as busy.
func (s *Impl) systemBusy(e evaluation) (models.Decision, bool) {
	if e.reading.LoadAvg < e.cfg.CPUIdleThreshold {
		return models.Decision{}, false
	}
	return models.Decision{Outcome: models.OutcomeBlocked, Reason: models.ReasonSystemBusy, State: e.next}, true
}

// inactivityWindow is the terminal rule: the host is idle, so either the
// streak has reached the threshold or the tick waits inside the window.
// A streak exactly at the threshold shuts down.
func (s *Impl) inactivityWindow(e evaluation) (models.Decision, bool) {
	threshold := time.Duration(e.cfg.InactivityThresholdMinutes) * time.Minute
	if e.next.IdleFor(e.now) >= threshold {
		return models.Decision{Outcome: models.OutcomeShutdown, State: e.next}, true
	}
	return models.Decision{Outcome: models.OutcomeBlocked, Reason: models.ReasonWithinInactivityWindow, State: e.next}, true
}

func minutesSinceMidnight(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
