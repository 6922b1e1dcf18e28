package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chankeeper/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like the bot token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Discord (never log token)
	if strings.TrimSpace(oldCfg.Discord.CommandPrefix) != strings.TrimSpace(newCfg.Discord.CommandPrefix) ||
		!reflect.DeepEqual(oldCfg.Discord.OwnerUserIDs, newCfg.Discord.OwnerUserIDs) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.String("discord.command_prefix", strings.TrimSpace(newCfg.Discord.CommandPrefix)),
			logx.Int("discord.owner_count", len(newCfg.Discord.OwnerUserIDs)),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Engine
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.enabled", newCfg.Engine.Enabled),
			logx.String("engine.interval", strings.TrimSpace(newCfg.Engine.Interval)),
			logx.String("engine.grace", strings.TrimSpace(newCfg.Engine.Grace)),
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.String("engine.default_timezone", strings.TrimSpace(newCfg.Engine.DefaultTimezone)),
		)
	}

	// Notify
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newCfg.Notify.Enabled),
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
			logx.Int("notify.history_size", newCfg.Notify.HistorySize),
		)
	}

	// Storage
	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
