// Package runner orchestrates one tick of the shutdown engine. Each
// invocation is scheduled externally (cron, a systemd timer), runs the
// probes, asks the policy for a decision, persists the idle record and
// only then acts on the outcome. When anything on that path is
// uncertain the tick ends without touching the machine.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/autoshutdown/internal/models"
	"github.com/fgeck/autoshutdown/internal/services/policy"
	"github.com/fgeck/autoshutdown/internal/services/probes"
	"github.com/fgeck/autoshutdown/internal/services/shutdown"
	"github.com/fgeck/autoshutdown/internal/services/state"
	"github.com/fgeck/autoshutdown/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Service defines the interface for the tick runner.
type Service interface {
	RunTick(ctx context.Context, cfg models.Config) error
	Evaluate(ctx context.Context, cfg models.Config) (models.Decision, models.ProbeReading, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	probesSvc   probes.Service
	policySvc   policy.Service
	stateSvc    state.Service
	shutdownSvc shutdown.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
	version     string
	now         func() time.Time
}

// New creates a new runner service.
func New(logger zerolog.Logger, version string) *Impl {
	return &Impl{
		probesSvc:   probes.New(logger),
		policySvc:   policy.New(logger),
		stateSvc:    state.New(logger),
		shutdownSvc: shutdown.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
		version:     version,
		now:         time.Now,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	probesSvc probes.Service,
	policySvc policy.Service,
	stateSvc state.Service,
	shutdownSvc shutdown.Service,
	telegramSvc telegram.Service,
	version string,
	now func() time.Time,
) *Impl {
	return &Impl{
		probesSvc:   probesSvc,
		policySvc:   policySvc,
		stateSvc:    stateSvc,
		shutdownSvc: shutdownSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
		version:     version,
		now:         now,
	}
}

// RunTick executes one complete tick: lock, load, probe, decide,
// persist, act. The idle record is written before the shutdown command
// runs, so a tick that dies mid-action never loses the streak.
func (s *Impl) RunTick(ctx context.Context, cfg models.Config) error {
	now := s.now()
	var failedStep string
	var runErr error

	defer func() {
		// A failed tick is worth a message; routine blocked ticks are not.
		if runErr != nil && cfg.Telegram != nil {
			s.notifyFailure(ctx, cfg, now, failedStep, runErr)
		}
	}()

	failedStep = "lock"
	release, err := s.stateSvc.Lock(cfg.State.Path)
	if err != nil {
		if errors.Is(err, state.ErrLocked) {
			s.logger.Warn().Msg("another invocation is active, skipping tick")
			return nil
		}
		runErr = err
		return err
	}
	defer release()

	if cfg.Policy.Enabled && !s.stateSvc.Exists(cfg.State.Path) {
		s.logger.Info().Msgf("Starting autoshutdown_v%s: machine will shutdown after %d minutes of inactivity",
			s.version, cfg.Policy.InactivityThresholdMinutes)
	}

	failedStep = "state"
	st, err := s.stateSvc.Load(cfg.State.Path)
	if err != nil {
		runErr = err
		return err
	}
	st = s.repairClockSkew(st, now)

	failedStep = "probes"
	reading, err := s.probe(ctx, cfg.Policy)
	if err != nil {
		runErr = err
		return err
	}

	decision := s.policySvc.Decide(cfg.Policy, reading, st, now)

	if decision.Outcome == models.OutcomeDisabled {
		s.logger.Info().Msg("autoshutdown disabled")
		return nil
	}

	s.logDecision(decision, reading, now)

	if decision.Outcome != models.OutcomeShutdown {
		failedStep = "state"
		if err := s.stateSvc.Save(cfg.State.Path, decision.State); err != nil {
			runErr = err
			return err
		}
		return nil
	}

	// The record only matters again if the shutdown call fails, so a
	// failed write is logged and the power-off still proceeds.
	if err := s.stateSvc.Save(cfg.State.Path, decision.State); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist state before shutdown")
	}

	// The machine is about to go down: the notification has to leave
	// before the shutdown command runs.
	if cfg.Telegram != nil {
		s.notifyShutdown(ctx, cfg, now, decision.State.IdleSince)
	}

	failedStep = "shutdown"
	if err := s.shutdownSvc.Shutdown(ctx); err != nil {
		runErr = err
		return err
	}

	return nil
}

// Evaluate runs the probes and the policy without persisting state or
// acting on the outcome. The check command uses it to answer "what
// would a tick do right now".
func (s *Impl) Evaluate(ctx context.Context, cfg models.Config) (models.Decision, models.ProbeReading, error) {
	now := s.now()

	st, err := s.stateSvc.Load(cfg.State.Path)
	if err != nil {
		return models.Decision{}, models.ProbeReading{}, err
	}
	st = s.repairClockSkew(st, now)

	reading, err := s.probe(ctx, cfg.Policy)
	if err != nil {
		return models.Decision{}, models.ProbeReading{}, err
	}

	return s.policySvc.Decide(cfg.Policy, reading, st, now), reading, nil
}

// repairClockSkew discards an idle timestamp from the future. It can
// appear after the clock steps backwards (NTP correction, RTC loss) and
// would otherwise make the idle arithmetic meaningless.
func (s *Impl) repairClockSkew(st models.DecisionState, now time.Time) models.DecisionState {
	if st.IdleSince != nil && st.IdleSince.After(now) {
		s.logger.Warn().Time("idle_since", *st.IdleSince).Msg("idle timestamp is in the future, discarding")
		return models.DecisionState{}
	}
	return st
}

// probe collects the host signals the policy needs. A disabled tick
// decides without looking at the host, and sessions are only counted
// when the policy cares about them.
func (s *Impl) probe(ctx context.Context, cfg models.PolicyConfig) (models.ProbeReading, error) {
	reading := models.ProbeReading{}
	if !cfg.Enabled {
		return reading, nil
	}

	if cfg.RequireNoSSH {
		sessions, err := s.probesSvc.ActiveSessions(ctx)
		if err != nil {
			return reading, fmt.Errorf("counting ssh sessions: %w", err)
		}
		reading.ActiveSessions = sessions
	}

	load, err := s.probesSvc.LoadAverage(cfg.LoadAvgWindow)
	if err != nil {
		return reading, fmt.Errorf("reading load average: %w", err)
	}
	reading.LoadAvg = load

	return reading, nil
}

func (s *Impl) logDecision(decision models.Decision, reading models.ProbeReading, now time.Time) {
	event := s.logger.Info().
		Int("sessions", reading.ActiveSessions).
		Float64("loadavg", reading.LoadAvg)
	if decision.State.IdleSince != nil {
		event = event.
			Time("idle_since", *decision.State.IdleSince).
			Dur("idle_for", decision.State.IdleFor(now))
	}

	switch {
	case decision.Outcome == models.OutcomeShutdown:
		event.Msg("shutting down machine")
	case decision.Reason == models.ReasonSSHOpen:
		event.Msg("SSH connection open")
	case decision.Reason == models.ReasonSystemBusy:
		event.Msg("system busy")
	case decision.Reason == models.ReasonBeforeEarliestTime:
		event.Msg("before earliest shutdown time")
	default:
		event.Msg("inside inactivity window")
	}
}

func (s *Impl) notifyShutdown(ctx context.Context, cfg models.Config, now time.Time, idleSince *time.Time) {
	msg := models.TelegramMessage{
		ShuttingDown:     true,
		Host:             hostname(),
		When:             now,
		IdleSince:        idleSince,
		ThresholdMinutes: cfg.Policy.InactivityThresholdMinutes,
	}
	s.send(ctx, cfg, msg)
}

func (s *Impl) notifyFailure(ctx context.Context, cfg models.Config, now time.Time, failedStep string, runErr error) {
	msg := models.TelegramMessage{
		ShuttingDown: false,
		Host:         hostname(),
		When:         now,
		FailedStep:   failedStep,
		ErrorMessage: runErr.Error(),
	}
	s.send(ctx, cfg, msg)
}

func (s *Impl) send(ctx context.Context, cfg models.Config, msg models.TelegramMessage) {
	result, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}
	s.logger.Info().Msg("Telegram notification sent")
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
