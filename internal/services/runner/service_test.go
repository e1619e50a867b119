package runner

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fgeck/autoshutdown/internal/models"
	"github.com/fgeck/autoshutdown/internal/services/policy"
	"github.com/fgeck/autoshutdown/internal/services/probes"
	"github.com/fgeck/autoshutdown/internal/services/state"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations.
type mockProbes struct {
	activeSessionsFunc func(ctx context.Context) (int, error)
	loadAverageFunc    func(window int) (float64, error)
	sessionCalls       int
	loadCalls          int
}

func (m *mockProbes) ActiveSessions(ctx context.Context) (int, error) {
	m.sessionCalls++
	if m.activeSessionsFunc != nil {
		return m.activeSessionsFunc(ctx)
	}
	return 0, nil
}

func (m *mockProbes) LoadAverage(window int) (float64, error) {
	m.loadCalls++
	if m.loadAverageFunc != nil {
		return m.loadAverageFunc(window)
	}
	return 0.01, nil
}

type mockState struct {
	existsFunc func(path string) bool
	loadFunc   func(path string) (models.DecisionState, error)
	saveFunc   func(path string, st models.DecisionState) error
	lockFunc   func(path string) (func(), error)
	saved      []models.DecisionState
}

func (m *mockState) Exists(path string) bool {
	if m.existsFunc != nil {
		return m.existsFunc(path)
	}
	return false
}

func (m *mockState) Load(path string) (models.DecisionState, error) {
	if m.loadFunc != nil {
		return m.loadFunc(path)
	}
	return models.DecisionState{}, nil
}

func (m *mockState) Save(path string, st models.DecisionState) error {
	m.saved = append(m.saved, st)
	if m.saveFunc != nil {
		return m.saveFunc(path, st)
	}
	return nil
}

func (m *mockState) Lock(path string) (func(), error) {
	if m.lockFunc != nil {
		return m.lockFunc(path)
	}
	return func() {}, nil
}

type mockShutdown struct {
	shutdownFunc func(ctx context.Context) error
	calls        int
}

func (m *mockShutdown) Shutdown(ctx context.Context) error {
	m.calls++
	if m.shutdownFunc != nil {
		return m.shutdownFunc(ctx)
	}
	return nil
}

type mockTelegram struct {
	sendFunc func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
	sent     []models.TelegramMessage
}

func (m *mockTelegram) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	m.sent = append(m.sent, msg)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cfg, msg)
	}
	return &models.TelegramResult{MessageSent: true}, nil
}

var tickTime = time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)

// testRunner bundles a runner wired to mocks with a captured log stream.
type testRunner struct {
	probes   *mockProbes
	state    *mockState
	shutdown *mockShutdown
	telegram *mockTelegram
	logs     *bytes.Buffer
	svc      *Impl
}

func newTestRunner(now time.Time) *testRunner {
	tr := &testRunner{
		probes:   &mockProbes{},
		state:    &mockState{},
		shutdown: &mockShutdown{},
		telegram: &mockTelegram{},
		logs:     &bytes.Buffer{},
	}
	logger := zerolog.New(tr.logs)
	tr.svc = NewWithServices(
		logger,
		tr.probes,
		policy.New(logger),
		tr.state,
		tr.shutdown,
		tr.telegram,
		"1.2.3",
		func() time.Time { return now },
	)
	return tr
}

func testCfg() models.Config {
	return models.Config{
		Policy: models.PolicyConfig{
			Enabled:                    true,
			LoadAvgWindow:              15,
			InactivityThresholdMinutes: 30,
			CPUIdleThreshold:           0.05,
			RequireNoSSH:               true,
			TickIntervalMinutes:        15,
		},
		State: models.StateConfig{Path: "/run/autoshutdown/state.json"},
	}
}

func telegramCfg() *models.TelegramConfig {
	return &models.TelegramConfig{BotToken: "token", ChatID: "chat"}
}

func priorIdle(start time.Time) func(string) (models.DecisionState, error) {
	return func(string) (models.DecisionState, error) {
		return models.DecisionState{IdleSince: &start}, nil
	}
}

func TestRunTick_FirstIdleTickPersistsStreak(t *testing.T) {
	tr := newTestRunner(tickTime)

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	require.Len(t, tr.state.saved, 1)
	require.NotNil(t, tr.state.saved[0].IdleSince)
	assert.Equal(t, tickTime, *tr.state.saved[0].IdleSince)
	assert.Equal(t, 0, tr.shutdown.calls)
	assert.Contains(t, tr.logs.String(), "inside inactivity window")
}

func TestRunTick_LogsBannerOnFirstRun(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.existsFunc = func(string) bool { return false }

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Contains(t, tr.logs.String(),
		"Starting autoshutdown_v1.2.3: machine will shutdown after 30 minutes of inactivity")
}

func TestRunTick_NoBannerWhenStateExists(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.existsFunc = func(string) bool { return true }

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.NotContains(t, tr.logs.String(), "Starting autoshutdown")
}

func TestRunTick_ShutdownAfterThreshold(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.loadFunc = priorIdle(tickTime.Add(-30 * time.Minute))

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Equal(t, 1, tr.shutdown.calls)
	assert.Contains(t, tr.logs.String(), "shutting down machine")
}

func TestRunTick_PersistsBeforeShutdown(t *testing.T) {
	var events []string
	tr := newTestRunner(tickTime)
	tr.state.loadFunc = priorIdle(tickTime.Add(-45 * time.Minute))
	tr.state.saveFunc = func(string, models.DecisionState) error {
		events = append(events, "save")
		return nil
	}
	tr.shutdown.shutdownFunc = func(context.Context) error {
		events = append(events, "shutdown")
		return nil
	}

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Equal(t, []string{"save", "shutdown"}, events)
}

func TestRunTick_SSHSessionBlocksAndClearsStreak(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.loadFunc = priorIdle(tickTime.Add(-45 * time.Minute))
	tr.probes.activeSessionsFunc = func(context.Context) (int, error) { return 1, nil }

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Equal(t, 0, tr.shutdown.calls)
	require.Len(t, tr.state.saved, 1)
	assert.Nil(t, tr.state.saved[0].IdleSince)
	assert.Contains(t, tr.logs.String(), "SSH connection open")
}

func TestRunTick_BusySystemBlocks(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.probes.loadAverageFunc = func(int) (float64, error) { return 1.5, nil }

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Equal(t, 0, tr.shutdown.calls)
	assert.Contains(t, tr.logs.String(), "system busy")
}

func TestRunTick_ProbeFailureEndsTickWithoutStateWrite(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.probes.activeSessionsFunc = func(context.Context) (int, error) {
		return 0, probes.ErrProbeUnavailable
	}

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.Error(t, err)
	assert.ErrorIs(t, err, probes.ErrProbeUnavailable)
	assert.Empty(t, tr.state.saved)
	assert.Equal(t, 0, tr.shutdown.calls)
}

func TestRunTick_SaveFailureOnBlockedTickIsFatal(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.saveFunc = func(string, models.DecisionState) error {
		return state.ErrPersistence
	}

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrPersistence)
	assert.Equal(t, 0, tr.shutdown.calls)
}

func TestRunTick_SaveFailureDoesNotBlockShutdown(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.loadFunc = priorIdle(tickTime.Add(-30 * time.Minute))
	tr.state.saveFunc = func(string, models.DecisionState) error {
		return state.ErrPersistence
	}

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Equal(t, 1, tr.shutdown.calls)
	assert.Contains(t, tr.logs.String(), "failed to persist state before shutdown")
}

func TestRunTick_DisabledSkipsProbesAndState(t *testing.T) {
	tr := newTestRunner(tickTime)
	cfg := testCfg()
	cfg.Policy.Enabled = false

	err := tr.svc.RunTick(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, 0, tr.probes.sessionCalls)
	assert.Equal(t, 0, tr.probes.loadCalls)
	assert.Empty(t, tr.state.saved)
	assert.Equal(t, 0, tr.shutdown.calls)
	assert.Contains(t, tr.logs.String(), "autoshutdown disabled")
}

func TestRunTick_SkipsWhenAnotherInvocationHoldsLock(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.lockFunc = func(string) (func(), error) {
		return nil, state.ErrLocked
	}

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Equal(t, 0, tr.probes.loadCalls)
	assert.Empty(t, tr.state.saved)
	assert.Equal(t, 0, tr.shutdown.calls)
	assert.Contains(t, tr.logs.String(), "skipping tick")
}

func TestRunTick_ShutdownFailureReturnsError(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.loadFunc = priorIdle(tickTime.Add(-30 * time.Minute))
	tr.shutdown.shutdownFunc = func(context.Context) error {
		return errors.New("exit status 1")
	}

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestRunTick_NotifiesBeforeShutdown(t *testing.T) {
	var events []string
	tr := newTestRunner(tickTime)
	cfg := testCfg()
	cfg.Telegram = telegramCfg()
	tr.state.loadFunc = priorIdle(tickTime.Add(-30 * time.Minute))
	tr.telegram.sendFunc = func(context.Context, models.TelegramConfig, models.TelegramMessage) (*models.TelegramResult, error) {
		events = append(events, "notify")
		return &models.TelegramResult{MessageSent: true}, nil
	}
	tr.shutdown.shutdownFunc = func(context.Context) error {
		events = append(events, "shutdown")
		return nil
	}

	err := tr.svc.RunTick(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, []string{"notify", "shutdown"}, events)
	require.Len(t, tr.telegram.sent, 1)
	assert.True(t, tr.telegram.sent[0].ShuttingDown)
	assert.Equal(t, 30, tr.telegram.sent[0].ThresholdMinutes)
	require.NotNil(t, tr.telegram.sent[0].IdleSince)
}

func TestRunTick_NoNotificationOnRoutineBlockedTick(t *testing.T) {
	tr := newTestRunner(tickTime)
	cfg := testCfg()
	cfg.Telegram = telegramCfg()

	err := tr.svc.RunTick(context.Background(), cfg)

	require.NoError(t, err)
	assert.Empty(t, tr.telegram.sent)
}

func TestRunTick_NotifiesOnTickFailure(t *testing.T) {
	tr := newTestRunner(tickTime)
	cfg := testCfg()
	cfg.Telegram = telegramCfg()
	tr.probes.loadAverageFunc = func(int) (float64, error) {
		return 0, probes.ErrProbeUnavailable
	}

	err := tr.svc.RunTick(context.Background(), cfg)

	require.Error(t, err)
	require.Len(t, tr.telegram.sent, 1)
	assert.False(t, tr.telegram.sent[0].ShuttingDown)
	assert.Equal(t, "probes", tr.telegram.sent[0].FailedStep)
	assert.Contains(t, tr.telegram.sent[0].ErrorMessage, "probe unavailable")
}

func TestRunTick_NotificationFailureDoesNotBlockShutdown(t *testing.T) {
	tr := newTestRunner(tickTime)
	cfg := testCfg()
	cfg.Telegram = telegramCfg()
	tr.state.loadFunc = priorIdle(tickTime.Add(-30 * time.Minute))
	tr.telegram.sendFunc = func(context.Context, models.TelegramConfig, models.TelegramMessage) (*models.TelegramResult, error) {
		return nil, errors.New("network error")
	}

	err := tr.svc.RunTick(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, 1, tr.shutdown.calls)
}

func TestRunTick_DiscardsFutureIdleTimestamp(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.loadFunc = priorIdle(tickTime.Add(time.Hour))

	err := tr.svc.RunTick(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Equal(t, 0, tr.shutdown.calls)
	require.Len(t, tr.state.saved, 1)
	require.NotNil(t, tr.state.saved[0].IdleSince)
	assert.Equal(t, tickTime, *tr.state.saved[0].IdleSince)
}

func TestEvaluate_DoesNotPersistOrAct(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.state.loadFunc = priorIdle(tickTime.Add(-45 * time.Minute))

	decision, reading, err := tr.svc.Evaluate(context.Background(), testCfg())

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeShutdown, decision.Outcome)
	assert.Equal(t, 0, reading.ActiveSessions)
	assert.Empty(t, tr.state.saved)
	assert.Equal(t, 0, tr.shutdown.calls)
}

func TestEvaluate_ProbeFailure(t *testing.T) {
	tr := newTestRunner(tickTime)
	tr.probes.loadAverageFunc = func(int) (float64, error) {
		return 0, probes.ErrProbeUnavailable
	}

	_, _, err := tr.svc.Evaluate(context.Background(), testCfg())

	require.Error(t, err)
	assert.ErrorIs(t, err, probes.ErrProbeUnavailable)
}
