// Package config loads bot configuration from a YAML file with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coredatabase "github.com/storedesk/ticketbot/core/database"
)

// TelegramConfig holds Telegram transport settings.
type TelegramConfig struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// PollTimeoutSeconds defines the long poll timeout passed to getUpdates; 0 -> default.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds" envconfig:"TELEGRAM_POLL_TIMEOUT_SECONDS"`
	// PollLimit caps the number of updates fetched per request; 0 -> default.
	PollLimit int `yaml:"poll_limit" envconfig:"TELEGRAM_POLL_LIMIT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// LimitsConfig holds settings for per-user and per-command throttling.
type LimitsConfig struct {
	// UserPerMinute is the global per-user command budget within a 60s window.
	UserPerMinute int `yaml:"user_per_minute" envconfig:"LIMIT_USER_PER_MINUTE"`
	// CommandAttempts is the default per-command budget.
	CommandAttempts int `yaml:"command_attempts" envconfig:"LIMIT_COMMAND_ATTEMPTS"`
	// CommandWindowSeconds is the decay window for the per-command budget.
	CommandWindowSeconds int `yaml:"command_window_seconds" envconfig:"LIMIT_COMMAND_WINDOW_SECONDS"`
}

// WizardConfig holds ticket creation wizard settings.
type WizardConfig struct {
	SessionTTLMinutes int    `yaml:"session_ttl_minutes" envconfig:"WIZARD_SESSION_TTL_MINUTES"`
	MaxAttachments    int    `yaml:"max_attachments" envconfig:"WIZARD_MAX_ATTACHMENTS"`
	AttachmentsDir    string `yaml:"attachments_dir" envconfig:"WIZARD_ATTACHMENTS_DIR"`
}

// SenderConfig holds outbound delivery queue settings.
type SenderConfig struct {
	QueueSize      int `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
	WorkersPerLane int `yaml:"workers_per_lane" envconfig:"SENDER_WORKERS_PER_LANE"`
}

// Config aggregates the full bot configuration.
type Config struct {
	Telegram TelegramConfig      `yaml:"telegram"`
	Database coredatabase.Config `yaml:"database"`
	Logging  LoggingConfig       `yaml:"logging"`
	Limits   LimitsConfig        `yaml:"limits"`
	Wizard   WizardConfig        `yaml:"wizard"`
	Sender   SenderConfig        `yaml:"sender"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}
	if cfg.Telegram.PollTimeoutSeconds < 0 {
		return fmt.Errorf("telegram.poll_timeout_seconds must be >= 0")
	}
	if cfg.Telegram.PollTimeoutSeconds == 0 {
		cfg.Telegram.PollTimeoutSeconds = 30
	}
	if cfg.Telegram.PollLimit < 0 || cfg.Telegram.PollLimit > 100 {
		return fmt.Errorf("telegram.poll_limit must be within [0, 100]")
	}
	if cfg.Telegram.PollLimit == 0 {
		cfg.Telegram.PollLimit = 100
	}

	if cfg.Limits.UserPerMinute <= 0 {
		cfg.Limits.UserPerMinute = 10
	}
	if cfg.Limits.CommandAttempts <= 0 {
		cfg.Limits.CommandAttempts = 5
	}
	if cfg.Limits.CommandWindowSeconds <= 0 {
		cfg.Limits.CommandWindowSeconds = 60
	}

	if cfg.Wizard.SessionTTLMinutes <= 0 {
		cfg.Wizard.SessionTTLMinutes = 30
	}
	if cfg.Wizard.MaxAttachments <= 0 {
		cfg.Wizard.MaxAttachments = 10
	}
	if strings.TrimSpace(cfg.Wizard.AttachmentsDir) == "" {
		cfg.Wizard.AttachmentsDir = "storage/attachments"
	}

	if cfg.Sender.QueueSize <= 0 {
		cfg.Sender.QueueSize = 256
	}
	if cfg.Sender.WorkersPerLane <= 0 {
		cfg.Sender.WorkersPerLane = 2
	}
	return nil
}
