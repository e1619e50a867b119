package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a shutdown notification.
type TelegramMessage struct {
	ShuttingDown bool
	Host         string
	When         time.Time

	// Idle streak (if shutting down on inactivity).
	IdleSince        *time.Time
	ThresholdMinutes int

	// Error info (if a tick failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
