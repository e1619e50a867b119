// Package state persists the idle record the engine carries between
// ticks. Each invocation is a fresh process, so everything it knows
// about the previous tick lives in one small JSON file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/autoshutdown/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// ErrPersistence marks a state file that could not be read or written.
var ErrPersistence = errors.New("state persistence failed")

// ErrLocked reports that another invocation holds the tick lock.
var ErrLocked = errors.New("another invocation holds the tick lock")

// Service defines the interface for state persistence.
type Service interface {
	Exists(path string) bool
	Load(path string) (models.DecisionState, error)
	Save(path string, state models.DecisionState) error
	Lock(path string) (func(), error)
}

// Impl implements the Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new state service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Exists reports whether a state file is present at path. The engine
// uses this to tell a first run from a continued streak.
func (s *Impl) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load reads the idle record. A missing file is a fresh start, not an
// error. A file that exists but does not parse is discarded with a
// warning: restarting the idle window only ever delays a shutdown.
func (s *Impl) Load(path string) (models.DecisionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.DecisionState{}, nil
		}
		return models.DecisionState{}, fmt.Errorf("%w: reading %s: %v", ErrPersistence, path, err)
	}

	var st models.DecisionState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn().Str("path", path).Err(err).Msg("state file corrupt, starting a fresh idle window")
		return models.DecisionState{}, nil
	}

	return st, nil
}

// Save writes the idle record atomically: the new content lands in a
// temp file next to the target and replaces it with a rename, so a tick
// interrupted mid-write never leaves a half-written record behind.
func (s *Impl) Save(path string, st models.DecisionState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrPersistence, dir, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding state: %v", ErrPersistence, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrPersistence, tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("%w: renaming %s: %v", ErrPersistence, tempPath, err)
	}

	s.logger.Debug().Str("path", path).Msg("state saved")
	return nil
}

// Lock takes an exclusive advisory lock next to the state file so two
// overlapping invocations cannot interleave. A held lock fails fast
// instead of blocking; the caller skips the tick. The returned release
// func drops the lock.
func (s *Impl) Lock(path string) (func(), error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrPersistence, dir, err)
	}

	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrPersistence, lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("%w: locking %s: %v", ErrPersistence, lockPath, err)
	}

	release := func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}
	return release, nil
}
