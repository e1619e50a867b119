//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fgeck/autoshutdown/internal/models"
	"github.com/fgeck/autoshutdown/internal/services/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTelegramConfig(t *testing.T) models.TelegramConfig {
	t.Helper()

	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	chatID := os.Getenv("TEST_TELEGRAM_CHAT_ID")
	if chatID == "" {
		t.Skip("TEST_TELEGRAM_CHAT_ID not set")
	}

	return models.TelegramConfig{
		BotToken: botToken,
		ChatID:   chatID,
	}
}

func TestTelegramSendShutdownNotification_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	idleSince := time.Now().Add(-45 * time.Minute)
	msg := models.TelegramMessage{
		ShuttingDown:     true,
		Host:             "e2e-test-host",
		When:             time.Now(),
		IdleSince:        &idleSince,
		ThresholdMinutes: 30,
	}

	result, err := svc.SendNotification(context.Background(), cfg, msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestTelegramSendFailureNotification_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	msg := models.TelegramMessage{
		ShuttingDown: false,
		Host:         "e2e-test-host",
		When:         time.Now(),
		FailedStep:   "probes",
		ErrorMessage: "reading load average: open /proc/loadavg: no such file or directory",
	}

	result, err := svc.SendNotification(context.Background(), cfg, msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestTelegramInvalidToken_E2E(t *testing.T) {
	cfg := models.TelegramConfig{
		BotToken: "invalid:token",
		ChatID:   "-100123456789",
	}

	svc := telegram.New(testLogger())

	msg := models.TelegramMessage{
		ShuttingDown: true,
		Host:         "test",
		When:         time.Now(),
	}

	result, err := svc.SendNotification(context.Background(), cfg, msg)

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}

func TestTelegramInvalidChatID_E2E(t *testing.T) {
	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	cfg := models.TelegramConfig{
		BotToken: botToken,
		ChatID:   "invalid-chat-id",
	}

	svc := telegram.New(testLogger())

	msg := models.TelegramMessage{
		ShuttingDown: true,
		Host:         "test",
		When:         time.Now(),
	}

	result, err := svc.SendNotification(context.Background(), cfg, msg)

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}
