//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/autoshutdown/internal/models"
	"github.com/fgeck/autoshutdown/internal/services/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRemoteConfig(t *testing.T) models.RemoteShutdownConfig {
	t.Helper()

	host := os.Getenv("TEST_REMOTE_HOST")
	if host == "" {
		t.Skip("TEST_REMOTE_HOST not set")
	}

	portStr := os.Getenv("TEST_REMOTE_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_REMOTE_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_REMOTE_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_REMOTE_KEY_PATH not set")
	}

	return models.RemoteShutdownConfig{
		Host:          host,
		Port:          port,
		Username:      user,
		KeyPath:       keyPath,
		ShutdownDelay: 60, // Use long delay for safety in tests
	}
}

func TestRemoteTestConnection_E2E(t *testing.T) {
	cfg := getRemoteConfig(t)

	svc := remote.New(testLogger())

	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Output, "OK")
	assert.Nil(t, result.Error)
}

func TestRemoteConnectionFailed_E2E(t *testing.T) {
	cfg := models.RemoteShutdownConfig{
		Host:     "192.168.255.254", // Non-routable IP
		Port:     22,
		Username: "root",
		KeyPath:  os.Getenv("TEST_REMOTE_KEY_PATH"),
	}

	if cfg.KeyPath == "" {
		t.Skip("TEST_REMOTE_KEY_PATH not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := remote.New(testLogger())

	result, err := svc.TestConnection(ctx, cfg)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.NotNil(t, result.Error)
}

func TestRemoteInvalidKey_E2E(t *testing.T) {
	cfg := models.RemoteShutdownConfig{
		Host:       "localhost",
		Port:       22,
		Username:   "root",
		PrivateKey: []byte("invalid key"),
	}

	svc := remote.New(testLogger())

	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "parse private key")
}

// WARNING: This test will actually power off the remote host!
// Only run if you really want to test shutdown functionality.
func TestRemotePowerOff_E2E(t *testing.T) {
	if os.Getenv("TEST_REMOTE_POWEROFF_ENABLED") != "true" {
		t.Skip("TEST_REMOTE_POWEROFF_ENABLED is not true - skipping actual shutdown test")
	}

	cfg := getRemoteConfig(t)

	svc := remote.New(testLogger())

	result, err := svc.PowerOff(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	// Note: result.Error might be non-nil due to connection closing
}
