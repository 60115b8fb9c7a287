package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Bot       BotConfig       `json:"bot"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Sessions  SessionsConfig  `json:"sessions"`
	Reminders RemindersConfig `json:"reminders"`
	Recur     RecurConfig     `json:"recur"`
	Chat      ChatConfig      `json:"chat"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// BotConfig controls the command dispatch layer.
//
// Prefixes are tried in order; the first prefix that starts the message wins,
// so a prefix that is itself a prefix of a later one shadows it.
type BotConfig struct {
	Name     string   `json:"name,omitempty"`
	Prefixes []string `json:"prefixes"`

	// Dispatch worker pool.
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// HandlerTimeout is a Go duration string (e.g. "30s").
	// Use "0s" to disable the per-handler timeout.
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingChat mirrors warn+ log lines into the group_log chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SessionsConfig controls the chat session store.
// All durations are Go duration strings.
type SessionsConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
	// IdleTimeout after which a session is considered expired (default "15m").
	IdleTimeout string `json:"idle_timeout,omitempty"`
	// MaxTurns bounds the retained history including the system turn (default 10).
	MaxTurns int `json:"max_turns,omitempty"`
	// SweepInterval enables a periodic eviction sweep. "0s" (default) keeps
	// eviction purely lazy.
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// RemindersConfig controls the one-shot reminder/timer service.
type RemindersConfig struct {
	// MaxPerOwner caps pending one-shot tasks per owner (0 = unlimited).
	MaxPerOwner int `json:"max_per_owner,omitempty"`
	// AnnounceRatePerSec throttles outbound announcements (default 5).
	AnnounceRatePerSec int `json:"announce_rate_per_sec,omitempty"`
}

// RecurConfig controls the recurring reminder service (cron/interval specs).
type RecurConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers,omitempty"`
	// DefaultTimeout is a Go duration string; "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// ChatConfig controls the /chat downstream exchange.
type ChatConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	// Timeout is a Go duration string (default "60s").
	Timeout   string `json:"timeout,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// StorageConfig controls the optional audit persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./whizbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate checks cross-field constraints that the strict decoder can't.
func (c *Config) Validate() error {
	for i, p := range c.Bot.Prefixes {
		if p == "" {
			return fmt.Errorf("bot.prefixes[%d] is empty", i)
		}
		if strings.TrimSpace(p) != p {
			return fmt.Errorf("bot.prefixes[%d] contains surrounding whitespace", i)
		}
	}
	if c.Sessions.MaxTurns < 0 {
		return fmt.Errorf("sessions.max_turns must be >= 0")
	}
	if _, err := ParseDurationField("sessions.idle_timeout", c.Sessions.IdleTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("sessions.sweep_interval", c.Sessions.SweepInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("bot.handler_timeout", c.Bot.HandlerTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("recur.default_timeout", c.Recur.DefaultTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("chat.timeout", c.Chat.Timeout); err != nil {
		return err
	}
	if s := c.Storage; s != nil {
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// EffectivePrefixes returns the configured prefixes or the default set.
func (c *Config) EffectivePrefixes() []string {
	if len(c.Bot.Prefixes) > 0 {
		return c.Bot.Prefixes
	}
	return []string{"/", "!", "."}
}
