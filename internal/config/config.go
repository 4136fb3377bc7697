package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the bot channel settings.
type TelegramConfig struct {
	Token              string `yaml:"token"`
	ChatID             int64  `yaml:"chat_id"`
	CommandsEnabled    bool   `yaml:"commands_enabled"`
	AllowedUserIDs     string `yaml:"allowed_user_ids"`
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
}

// Config holds configuration for the tallybot daemon.
type Config struct {
	Telegram               TelegramConfig `yaml:"telegram"`
	DBPath                 string         `yaml:"db_path"`
	BackupDir              string         `yaml:"backup_dir"`
	ProfileName            string         `yaml:"profile_name"`
	ApprovalTimeoutMinutes int            `yaml:"approval_timeout_minutes"`
	Commander              string         `yaml:"commander"`
	DummyPollScript        string         `yaml:"dummy_poll_script"`
	DummySendScript        string         `yaml:"dummy_send_script"`
	RetryDelaySeconds      int            `yaml:"retry_delay_seconds"`
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides and normalizes ranges. path may be empty.
func Load(path string) (Config, error) {
	cfg := Config{
		Telegram: TelegramConfig{
			CommandsEnabled:    true,
			PollTimeoutSeconds: 30,
		},
		DBPath:                 "./tally.db",
		BackupDir:              "./backups",
		ProfileName:            "default",
		ApprovalTimeoutMinutes: 10,
		Commander:              "telegram",
		DummyPollScript:        "ok",
		DummySendScript:        "ok",
		RetryDelaySeconds:      3,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Telegram.Token = envOrDefault("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.ChatID = envInt64OrDefault("TG_CHAT_ID", cfg.Telegram.ChatID)
	cfg.Telegram.CommandsEnabled = envBoolOrDefault("TG_COMMANDS_ENABLED", cfg.Telegram.CommandsEnabled)
	cfg.Telegram.AllowedUserIDs = envOrDefault("TG_ALLOWED_USER_IDS", cfg.Telegram.AllowedUserIDs)
	cfg.Telegram.PollTimeoutSeconds = envIntOrDefault("TG_TIMEOUT", cfg.Telegram.PollTimeoutSeconds)
	cfg.DBPath = envOrDefault("TALLY_DB_PATH", cfg.DBPath)
	cfg.BackupDir = envOrDefault("TALLY_BACKUP_DIR", cfg.BackupDir)
	cfg.ProfileName = envOrDefault("TALLY_PROFILE", cfg.ProfileName)
	cfg.ApprovalTimeoutMinutes = envIntOrDefault("TALLY_APPROVAL_TIMEOUT_MINUTES", cfg.ApprovalTimeoutMinutes)
	cfg.Commander = envOrDefault("TALLY_COMMANDER", cfg.Commander)
	cfg.DummyPollScript = envOrDefault("TALLY_DUMMY_POLL_SCRIPT", cfg.DummyPollScript)
	cfg.DummySendScript = envOrDefault("TALLY_DUMMY_SEND_SCRIPT", cfg.DummySendScript)
	cfg.RetryDelaySeconds = envIntOrDefault("TALLY_RETRY_DELAY_SECONDS", cfg.RetryDelaySeconds)

	if cfg.Telegram.PollTimeoutSeconds < 1 {
		cfg.Telegram.PollTimeoutSeconds = 1
	}
	if cfg.Telegram.PollTimeoutSeconds > 50 {
		cfg.Telegram.PollTimeoutSeconds = 50
	}
	if cfg.RetryDelaySeconds < 1 {
		cfg.RetryDelaySeconds = 1
	}
	if cfg.ApprovalTimeoutMinutes < 1 {
		cfg.ApprovalTimeoutMinutes = 1
	}

	if cfg.Commander == "telegram" && cfg.Telegram.Token == "" {
		return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when commander=telegram")
	}

	return cfg, nil
}

// APIBase returns the Bot API base URL for the configured token.
func (c TelegramConfig) APIBase() string {
	return fmt.Sprintf("https://api.telegram.org/bot%s", c.Token)
}

// AllowedUsers parses the comma-separated allow-list. An empty list means
// no user restriction.
func (c TelegramConfig) AllowedUsers() []int64 {
	raw := strings.TrimSpace(c.AllowedUserIDs)
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Configured reports whether the bot integration is usable: commands are
// enabled and both a token and a target chat are set.
func (c TelegramConfig) Configured() bool {
	return c.CommandsEnabled && c.Token != "" && c.ChatID != 0
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64OrDefault(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
