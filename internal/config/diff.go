package config

import (
	"reflect"
	"sort"
	"strings"

	logx "whizbot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens, API keys) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.Int("bot.prefix_count", len(newCfg.EffectivePrefixes())),
			logx.Int("bot.workers", newCfg.Bot.Workers),
			logx.String("bot.handler_timeout", strings.TrimSpace(newCfg.Bot.HandlerTimeout)),
		)
	}

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sessions, newCfg.Sessions) {
		changed = append(changed, "sessions")
		attrs = append(attrs,
			logx.String("sessions.idle_timeout", strings.TrimSpace(newCfg.Sessions.IdleTimeout)),
			logx.Int("sessions.max_turns", newCfg.Sessions.MaxTurns),
			logx.String("sessions.sweep_interval", strings.TrimSpace(newCfg.Sessions.SweepInterval)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Int("reminders.max_per_owner", newCfg.Reminders.MaxPerOwner),
			logx.Int("reminders.announce_rate_per_sec", newCfg.Reminders.AnnounceRatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Recur, newCfg.Recur) {
		changed = append(changed, "recur")
		attrs = append(attrs,
			logx.Bool("recur.enabled", newCfg.Recur.Enabled),
			logx.Int("recur.workers", newCfg.Recur.Workers),
			logx.String("recur.timezone", strings.TrimSpace(newCfg.Recur.Timezone)),
		)
	}

	// Chat (never log api key)
	if oldCfg.Chat.Enabled != newCfg.Chat.Enabled ||
		strings.TrimSpace(oldCfg.Chat.BaseURL) != strings.TrimSpace(newCfg.Chat.BaseURL) ||
		strings.TrimSpace(oldCfg.Chat.Model) != strings.TrimSpace(newCfg.Chat.Model) ||
		strings.TrimSpace(oldCfg.Chat.Timeout) != strings.TrimSpace(newCfg.Chat.Timeout) ||
		oldCfg.Chat.MaxTokens != newCfg.Chat.MaxTokens ||
		(strings.TrimSpace(oldCfg.Chat.APIKey) != "") != (strings.TrimSpace(newCfg.Chat.APIKey) != "") {
		changed = append(changed, "chat")
		attrs = append(attrs,
			logx.Bool("chat.enabled", newCfg.Chat.Enabled),
			logx.String("chat.model", strings.TrimSpace(newCfg.Chat.Model)),
			logx.Bool("chat.api_key_set", strings.TrimSpace(newCfg.Chat.APIKey) != ""),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oBusy = strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nBusy = strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
