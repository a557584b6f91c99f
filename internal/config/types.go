package config

// Config is the on-disk configuration. JSON and YAML files share one
// schema; unknown keys are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Storage   StorageConfig   `json:"storage"`
	Collect   CollectConfig   `json:"collect"`
	Health    HealthConfig    `json:"health"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// APIURL points at a self-hosted Bot API server. Empty means api.telegram.org.
	APIURL string `json:"api_url,omitempty"`
	// LogChatID receives warnings when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the reminder tick.
//
// Enabled and Dedup are pointers so an omitted key means "on".
type SchedulerConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	TickInterval string `json:"tick_interval,omitempty"` // default 30s
	MatchWindow  string `json:"match_window,omitempty"`  // default 60s
	Timezone     string `json:"timezone,omitempty"`      // IANA name; default UTC
	LeapDay      string `json:"leap_day,omitempty"`      // "feb28" (default) or "mar1"
	Dedup        *bool  `json:"dedup,omitempty"`
	GracePeriod  string `json:"grace_period,omitempty"` // default 10s
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s SchedulerConfig) DedupEnabled() bool { return s.Dedup == nil || *s.Dedup }

// DeliveryConfig controls sending. RetryCount is the total number of
// attempts per reminder.
type DeliveryConfig struct {
	Workers      int    `json:"workers,omitempty"`       // default 4
	RetryCount   int    `json:"retry_count,omitempty"`   // default 3
	RetryBackoff string `json:"retry_backoff,omitempty"` // default 2s
	SendTimeout  string `json:"send_timeout,omitempty"`  // default 10s
	RatePerSec   int    `json:"rate_per_sec,omitempty"`  // default 20
}

// StorageConfig selects the entry store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/remindbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`      // postgres, mongo, redis (never logged)
	Database    string `json:"database,omitempty"` // mongo
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// ImportLegacy names a reminders.json array loaded once into an empty store.
	ImportLegacy string `json:"import_legacy,omitempty"`
}

type CollectConfig struct {
	SessionTTL  string `json:"session_ttl,omitempty"` // default 30m
	MaxSessions int    `json:"max_sessions,omitempty"`
}

// HealthConfig controls the keep-alive HTTP server.
type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":5000"

	// DebugToken mounts /debug/pprof/ for bearers of this token (never logged).
	DebugToken string `json:"debug_token,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
