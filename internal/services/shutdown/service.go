// Package shutdown powers off the local machine.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ErrShutdownFailed reports that the power-off command did not take.
var ErrShutdownFailed = errors.New("shutdown command failed")

const shutdownBinary = "/usr/sbin/shutdown"

// Service defines the interface for powering off the local machine.
type Service interface {
	Shutdown(ctx context.Context) error
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
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new shutdown service.
func New(logger zerolog.Logger) *Impl {
	return NewWithExecutor(logger, &DefaultExecutor{})
}

// NewWithExecutor creates a new shutdown service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Shutdown asks the init system to power the machine off now. Repeating
// the call on a machine already going down is harmless. Failures are
// reported, never retried here; the next tick retries naturally.
func (s *Impl) Shutdown(ctx context.Context) error {
	s.logger.Debug().Str("command", shutdownBinary+" now").Msg("invoking shutdown")

	output, err := s.executor.Execute(ctx, shutdownBinary, "now")
	if err != nil {
		return fmt.Errorf("%w: %v (output: %s)", ErrShutdownFailed, err, strings.TrimSpace(string(output)))
	}

	return nil
}
