package config

// Config is the full on-disk configuration. YAML and JSON are both
// accepted; unknown fields are rejected so typos surface at load time.
type Config struct {
	Discord DiscordConfig `json:"discord"`
	Logging LoggingConfig `json:"logging"`
	Engine  EngineConfig  `json:"engine"`
	Notify  NotifyConfig  `json:"notify,omitempty"`
	Storage StorageConfig `json:"storage"`
}

type DiscordConfig struct {
	Token string `json:"token"`
	// CommandPrefix introduces authoring commands, e.g. "!keeper".
	CommandPrefix string `json:"command_prefix,omitempty"`
	// OwnerUserIDs bypass the guild permission check on authoring commands.
	OwnerUserIDs []string `json:"owner_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig tunes the tick loop.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - interval: "1m"
//   - grace: "0s"
//   - workers: 4
//   - default_timezone: "UTC"
type EngineConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`
	// Grace extends the create window past one interval before a day's
	// create is considered missed.
	Grace   string `json:"grace,omitempty"`
	Workers int    `json:"workers,omitempty"`
	// DefaultTimezone is used for rules authored without an explicit zone.
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

type NotifyConfig struct {
	Enabled     bool `json:"enabled"`
	RatePerSec  int  `json:"rate_per_sec,omitempty"`
	HistorySize int  `json:"history_size,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}
