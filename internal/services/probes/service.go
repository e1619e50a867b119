package probes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrProbeUnavailable marks a signal that could not be read this tick.
// A tick that hits it must end without touching state or the machine.
var ErrProbeUnavailable = errors.New("probe unavailable")

const defaultLoadAvgPath = "/proc/loadavg"

// loadavgField maps an averaging window in minutes to its /proc/loadavg column.
var loadavgField = map[int]int{1: 0, 5: 1, 15: 2}

// sessionFilter matches established connections to or from the ssh port.
var sessionFilter = []string{"-o", "state", "established", "( dport = :ssh or sport = :ssh )"}

// Service defines the interface for host activity probes.
type Service interface {
	ActiveSessions(ctx context.Context) (int, error)
	LoadAverage(window int) (float64, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Impl implements the Service interface.
type Impl struct {
	executor    CommandExecutor
	logger      zerolog.Logger
	loadavgPath string
}

// New creates a new probes service.
func New(logger zerolog.Logger) *Impl {
	return NewWithExecutor(logger, &DefaultExecutor{})
}

// NewWithExecutor creates a new probes service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor:    executor,
		logger:      logger,
		loadavgPath: defaultLoadAvgPath,
	}
}

// ActiveSessions counts established SSH connections via ss. The output is
// one header line plus one line per connection, so the count is the number
// of newlines minus one.
func (s *Impl) ActiveSessions(ctx context.Context) (int, error) {
	output, err := s.executor.Execute(ctx, "ss", sessionFilter...)
	if err != nil {
		return 0, fmt.Errorf("%w: ss failed: %v (output: %s)", ErrProbeUnavailable, err, strings.TrimSpace(string(output)))
	}

	sessions := strings.Count(string(output), "\n") - 1
	if sessions < 0 {
		sessions = 0
	}

	s.logger.Debug().Int("sessions", sessions).Msg("counted established ssh connections")
	return sessions, nil
}

// LoadAverage reads the load average for the given window (1, 5 or 15
// minutes) from /proc/loadavg.
func (s *Impl) LoadAverage(window int) (float64, error) {
	field, ok := loadavgField[window]
	if !ok {
		return 0, fmt.Errorf("unsupported load average window %d: must be 1, 5 or 15", window)
	}

	data, err := os.ReadFile(s.loadavgPath)
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrProbeUnavailable, s.loadavgPath, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, fmt.Errorf("%w: malformed %s: %q", ErrProbeUnavailable, s.loadavgPath, strings.TrimSpace(string(data)))
	}

	load, err := strconv.ParseFloat(fields[field], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing %s: %v", ErrProbeUnavailable, s.loadavgPath, err)
	}

	s.logger.Debug().Float64("loadavg", load).Int("window", window).Msg("read load average")
	return load, nil
}
