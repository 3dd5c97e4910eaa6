package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a sync notification.
type TelegramMessage struct {
	Success   bool
	Profile   string
	Host      string
	Database  string
	StartTime time.Time
	Duration  time.Duration

	// Artifact details (if successful).
	ArtifactPath string
	ArtifactSize int64
	Restored     bool
	FallbackUsed bool

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
