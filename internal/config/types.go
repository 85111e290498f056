package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
	Assistant AssistantConfig `json:"assistant,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is an optional chat id that receives forwarded warning/error
	// log lines.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the sqlite persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tasks.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls the one-shot reminder scheduler.
type SchedulerConfig struct {
	// HistorySize bounds the in-memory ring of fired jobs kept for the
	// periodic stats snapshot. 0 means the default.
	HistorySize int `json:"history_size,omitempty"`
	// Timezone is the IANA zone used to resolve clock times like "18:00".
	// Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async outbound pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// AssistantConfig points at an OpenAI-compatible chat completions endpoint.
type AssistantConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"` // Go duration string
}
