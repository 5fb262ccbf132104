package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

type Config struct {
	// Core
	Platform    Platform `env:"PLATFORM" envDefault:"discord"`
	DatabaseURL string   `env:"DATABASE_URL,required"`
	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":3000"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	// Database pool
	DBMaxConns int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns int32 `env:"DB_MIN_CONNS" envDefault:"2"`

	// Discord
	DiscordToken         string `env:"DISCORD_TOKEN"`
	DiscordPublicKey     string `env:"DISCORD_PUBLIC_KEY"`
	DiscordApplicationID string `env:"DISCORD_APPLICATION_ID"`
	DiscordGuildID       string `env:"DISCORD_GUILD_ID"`
	DiscordAPIBase       string `env:"DISCORD_API_BASE" envDefault:"https://discord.com/api/v10"`

	// Telegram
	BotToken              string `env:"BOT_TOKEN"`
	LogTelegramChatID     int64  `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError         int    `env:"LOG_TOPIC_ERROR"`
	BotDropPendingUpdates bool   `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`

	// Text generation
	OpenRouterKey     string `env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	AIModel           string `env:"AI_MODEL" envDefault:"meta-llama/llama-3.1-8b-instruct"`

	// Scheduler
	SchedulerCron string `env:"SCHEDULER_CRON" envDefault:"* * * * *"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings required by the selected platform.
func (c *Config) Validate() error {
	var errs []error

	switch c.Platform {
	case PlatformDiscord:
		if c.DiscordToken == "" {
			errs = append(errs, errors.New("DISCORD_TOKEN is required for the discord platform"))
		}
		if c.DiscordPublicKey == "" {
			errs = append(errs, errors.New("DISCORD_PUBLIC_KEY is required for the discord platform"))
		}
	case PlatformTelegram:
		if c.BotToken == "" {
			errs = append(errs, errors.New("BOT_TOKEN is required for the telegram platform"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PLATFORM %q", c.Platform))
	}

	if !gronx.New().IsValid(c.SchedulerCron) {
		errs = append(errs, fmt.Errorf("SCHEDULER_CRON %q is not a valid cron expression", c.SchedulerCron))
	}
	if c.DBMaxConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS must be > 0"))
	}

	return errors.Join(errs...)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsSQLite reports whether DATABASE_URL points at an embedded SQLite file.
func (c *Config) IsSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, SQLiteScheme)
}
