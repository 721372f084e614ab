package config

// Default job and environment contract.
const (
	DefaultJobName  = "notion-conflicts"
	DefaultSchedule = "*/15 * * * *"
)

// DefaultEnv lists the variables every step of the default job receives.
var DefaultEnv = []string{
	"NOTION_API_KEY",
	"DATABASE_ID_REUNIOES",
	"DATABASE_ID_AUSENCIAS",
	"DATABASE_ID_CALENDARIOEDITORIAL",
}

// Default returns the configuration used when no file exists and the base
// that file contents are decoded onto.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Forward: LoggingForward{MinLevel: "error", RatePerSec: 1},
		},
		Scheduler: SchedulerConfig{Enabled: true},
		TaskEngine: TaskEngineConfig{
			Workers:        1,
			QueueSize:      16,
			DefaultTimeout: "10m",
			HistorySize:    200,
		},
		Storage: StorageConfig{Driver: "none", BusyTimeout: "1s"},
		Notifier: NotifierConfig{
			Workers:         1,
			QueueSize:       64,
			RatePerSec:      1,
			RetryMax:        3,
			RetryBase:       "1s",
			RetryMaxDelay:   "30s",
			DedupWindow:     "6h",
			DedupMaxEntries: 1024,
		},
		Telegram: TelegramConfig{TokenEnv: "TELEGRAM_BOT_TOKEN", Timeout: "10s"},
		Control:  ControlConfig{Addr: "127.0.0.1:8087", ReadTimeout: "5s", WriteTimeout: "30s"},
		Notion: NotionConfig{
			BaseURL:    "https://api.notion.com/v1",
			Version:    "2022-06-28",
			Timeout:    "30s",
			RatePerSec: 3,
			PageSize:   100,
		},
		Slack: SlackConfig{BaseURL: "https://slack.com/api", Timeout: "15s"},
		Checks: ChecksConfig{
			Editorial: EditorialConfig{MarginDays: 3},
			Room: RoomConfig{
				Pattern:         "(?i)gcmd",
				LookBehind:      "24h",
				LookAhead:       "336h",
				DefaultDuration: "1h",
				KeepWeeks:       12,
			},
		},
		Jobs: []JobConfig{DefaultJob()},
	}
}

// DefaultJob runs the inventory check and then the editorial check every
// 15 minutes with the four Notion variables.
func DefaultJob() JobConfig {
	return JobConfig{
		Name:     DefaultJobName,
		Schedule: DefaultSchedule,
		Timeout:  "10m",
		Env:      append([]string(nil), DefaultEnv...),
		Steps: []StepConfig{
			{Name: "inventory", Check: "inventory"},
			{Name: "editorial", Check: "editorial"},
		},
	}
}
