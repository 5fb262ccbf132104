package config

import "time"

const (
	// Sessions
	DefaultCadenceMinutes    = 20
	MaxCadenceMinutes        = 30 * 24 * 60
	MaxThreadNameLen         = 96
	ThreadAutoArchiveMinutes = 1440

	// Generation: scheduled check-in prompt
	PromptHistoryLimit  = 10
	PromptMessageMaxLen = 320
	PromptTemperature   = 0.4
	PromptTopP          = 0.9
	PromptMaxTokens     = 180

	// Generation: progress feedback
	FeedbackHistoryLimit  = 8
	FeedbackMessageMaxLen = 280
	FeedbackTemperature   = 0.5
	FeedbackTopP          = 0.9
	FeedbackMaxTokens     = 220

	// Fallback excerpt lengths
	PromptFallbackExcerptLen   = 60
	FeedbackFallbackExcerptLen = 120

	// Timeouts
	RequestTimeout        = 90 * time.Second
	DeliveryTimeout       = 15 * time.Second
	BackgroundTaskTimeout = 2 * time.Minute
	ShutdownTimeout       = 10 * time.Second

	// Scheduler retry delay when the cron expression cannot produce a next tick
	SchedulerRetryDelay = 30 * time.Second

	// SQLite DSN prefix for DATABASE_URL
	SQLiteScheme = "sqlite://"
)
