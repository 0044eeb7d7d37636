// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without zoneinfo.

	"github.com/joho/godotenv"

	"bankrupt_bot/internal/model"
)

// Defaults for the data.gov.ua bankruptcy dataset.
const (
	DefaultDatasetID      = "544d4dad-0b6d-4972-b0b8-fb266829770f"
	DefaultFallbackCSVURL = "https://data.gov.ua/dataset/544d4dad-0b6d-4972-b0b8-fb266829770f/resource/deb76481-a6c8-4a45-ae6c-f02aa87e9f4a/download/vidomosti-pro-spravi-pro-bankrutstvo.csv"
	DefaultAPIBaseURL     = "https://data.gov.ua"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	AdminChatID      int64

	Cutoff    time.Time
	CheckHour int
	CheckMin  int
	Location  *time.Location

	APIBaseURL     string
	DatasetID      string
	FallbackCSVURL string
	FetchTimeout   time.Duration

	Workers     int
	NotifyEmpty bool
	MetricsAddr string
}

// LoadDotEnv reads a .env file into the environment if one exists.
// Variables that are already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	cfg, err := LoadCommon()
	if err != nil {
		return nil, err
	}
	cfg.TelegramBotToken = token
	return cfg, nil
}

// LoadCommon reads every setting except the bot token. Operator tooling
// that never talks to Telegram uses it directly.
func LoadCommon() (*Config, error) {
	cfg := &Config{
		DatabasePath:   envOr("DATABASE_PATH", "./data/bot.db"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		APIBaseURL:     strings.TrimRight(envOr("DATA_API_URL", DefaultAPIBaseURL), "/"),
		DatasetID:      envOr("DATASET_ID", DefaultDatasetID),
		FallbackCSVURL: envOr("FALLBACK_CSV_URL", DefaultFallbackCSVURL),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}

	var err error
	if cfg.AllowedUsers, err = parseIDList(os.Getenv("ALLOWED_USERS")); err != nil {
		return nil, err
	}

	if raw := os.Getenv("ADMIN_CHAT_ID"); raw != "" {
		cfg.AdminChatID, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_CHAT_ID %q: %w", raw, err)
		}
	}

	rawCutoff := envOr("CUTOFF_DATE", "01.01.2025")
	if cfg.Cutoff, err = model.ParseEventDate(rawCutoff); err != nil {
		return nil, fmt.Errorf("invalid CUTOFF_DATE: %w", err)
	}

	rawTime := envOr("CHECK_TIME", "09:00")
	at, err := time.Parse("15:04", rawTime)
	if err != nil {
		return nil, fmt.Errorf("invalid CHECK_TIME %q, want HH:MM: %w", rawTime, err)
	}
	cfg.CheckHour, cfg.CheckMin = at.Hour(), at.Minute()

	tz := envOr("TIMEZONE", "Europe/Kyiv")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	rawTimeout := envOr("FETCH_TIMEOUT", "60s")
	if cfg.FetchTimeout, err = time.ParseDuration(rawTimeout); err != nil || cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("invalid FETCH_TIMEOUT %q", rawTimeout)
	}

	rawWorkers := envOr("WORKERS", "4")
	if cfg.Workers, err = strconv.Atoi(rawWorkers); err != nil || cfg.Workers < 1 {
		return nil, fmt.Errorf("invalid WORKERS %q, must be a positive integer", rawWorkers)
	}

	rawNotify := envOr("NOTIFY_EMPTY", "true")
	if cfg.NotifyEmpty, err = strconv.ParseBool(rawNotify); err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_EMPTY %q: %w", rawNotify, err)
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}
