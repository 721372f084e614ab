package config

// Config is the on-disk configuration. Every section is optional; omitted
// fields keep the values from Default().
type Config struct {
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine" yaml:"task_engine"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Notifier   NotifierConfig   `json:"notifier" yaml:"notifier"`
	Telegram   TelegramConfig   `json:"telegram" yaml:"telegram"`
	Control    ControlConfig    `json:"control" yaml:"control"`
	Notion     NotionConfig     `json:"notion" yaml:"notion"`
	Slack      SlackConfig      `json:"slack" yaml:"slack"`
	Checks     ChecksConfig     `json:"checks" yaml:"checks"`
	Jobs       []JobConfig      `json:"jobs" yaml:"jobs" validate:"dive"`
}

type LoggingConfig struct {
	Level   string         `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`
	Console bool           `json:"console" yaml:"console"`
	File    LoggingFile    `json:"file" yaml:"file"`
	Forward LoggingForward `json:"forward" yaml:"forward"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path" validate:"required_if=Enabled true"`
}

// LoggingForward sends warn+ log lines to the notifier sink.
type LoggingForward struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	MinLevel   string `json:"min_level,omitempty" yaml:"min_level"`
	RatePerSec int    `json:"rate_per_sec,omitempty" yaml:"rate_per_sec" validate:"gte=0"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`
}

// TaskEngineConfig controls execution of triggered jobs.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 1
//   - queue_size: 16
//   - default_timeout: "10m"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0 (a failed run is final)
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty" yaml:"workers" validate:"gte=0"`
	QueueSize      int    `json:"queue_size,omitempty" yaml:"queue_size" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty" yaml:"default_timeout"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty" yaml:"max_queue_delay"`
	HistorySize    int    `json:"history_size,omitempty" yaml:"history_size" validate:"gte=0"`
	RetryMax       int    `json:"retry_max,omitempty" yaml:"retry_max" validate:"gte=0"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./agendawatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout"` // Go duration string (sqlite)
}

// NotifierConfig controls the async alert pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Workers         int    `json:"workers" yaml:"workers" validate:"gte=0"`
	QueueSize       int    `json:"queue_size" yaml:"queue_size" validate:"gte=0"`
	RatePerSec      int    `json:"rate_per_sec" yaml:"rate_per_sec" validate:"gte=0"`
	RetryMax        int    `json:"retry_max" yaml:"retry_max" validate:"gte=0"`
	RetryBase       string `json:"retry_base" yaml:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay" yaml:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window" yaml:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries" yaml:"dedup_max_entries" validate:"gte=0"`
	PersistDedup    bool   `json:"persist_dedup,omitempty" yaml:"persist_dedup"`
}

// TelegramConfig is the alert sink. The token is read from TokenEnv when
// Token is empty so it can stay out of the file.
type TelegramConfig struct {
	Token    string `json:"token,omitempty" yaml:"token"`
	TokenEnv string `json:"token_env,omitempty" yaml:"token_env"`
	ChatID   int64  `json:"chat_id,omitempty" yaml:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty" yaml:"thread_id" validate:"gte=0"`
	Timeout  string `json:"timeout,omitempty" yaml:"timeout"`
}

// ControlConfig controls the local HTTP control server.
//
// Prefer binding to localhost. A non-loopback address requires a token.
type ControlConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Addr         string `json:"addr,omitempty" yaml:"addr" validate:"omitempty,hostname_port"`
	Token        string `json:"token,omitempty" yaml:"token"`
	Pprof        bool   `json:"pprof,omitempty" yaml:"pprof"`
	ReadTimeout  string `json:"read_timeout,omitempty" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout,omitempty" yaml:"write_timeout"`
}

type NotionConfig struct {
	BaseURL    string  `json:"base_url,omitempty" yaml:"base_url" validate:"omitempty,url"`
	Version    string  `json:"version,omitempty" yaml:"version"`
	Timeout    string  `json:"timeout,omitempty" yaml:"timeout"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" yaml:"rate_per_sec" validate:"gte=0"`
	PageSize   int     `json:"page_size,omitempty" yaml:"page_size" validate:"gte=0,lte=100"`
}

type SlackConfig struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url" validate:"omitempty,url"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout"`
}

type ChecksConfig struct {
	Editorial EditorialConfig `json:"editorial" yaml:"editorial"`
	Room      RoomConfig      `json:"room" yaml:"room"`
}

type EditorialConfig struct {
	MarginDays int  `json:"margin_days" yaml:"margin_days" validate:"gte=0"`
	DryRun     bool `json:"dry_run,omitempty" yaml:"dry_run"`
}

type RoomConfig struct {
	Pattern         string `json:"pattern,omitempty" yaml:"pattern"`
	LookBehind      string `json:"look_behind,omitempty" yaml:"look_behind"`
	LookAhead       string `json:"look_ahead,omitempty" yaml:"look_ahead"`
	DefaultDuration string `json:"default_duration,omitempty" yaml:"default_duration"`
	KeepWeeks       int    `json:"keep_weeks,omitempty" yaml:"keep_weeks" validate:"gte=0"`
}

// JobConfig declares a scheduled job: an ordered list of steps sharing one
// environment contract.
type JobConfig struct {
	Name     string       `json:"name" yaml:"name" validate:"required"`
	Schedule string       `json:"schedule" yaml:"schedule" validate:"required"`
	Timeout  string       `json:"timeout,omitempty" yaml:"timeout"`
	Env      []string     `json:"env,omitempty" yaml:"env" validate:"dive,required"`
	Steps    []StepConfig `json:"steps" yaml:"steps" validate:"min=1,dive"`
}

// StepConfig is either a builtin check or an external command.
type StepConfig struct {
	Name    string   `json:"name,omitempty" yaml:"name"`
	Check   string   `json:"check,omitempty" yaml:"check" validate:"required_without=Run,excluded_with=Run"`
	Run     []string `json:"run,omitempty" yaml:"run" validate:"required_without=Check"`
	Dir     string   `json:"dir,omitempty" yaml:"dir"`
	Timeout string   `json:"timeout,omitempty" yaml:"timeout"`
}
