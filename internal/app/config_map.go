package app

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"agendawatch/internal/checks"
	"agendawatch/internal/config"
	"agendawatch/internal/control"
	"agendawatch/internal/notifier"
	"agendawatch/internal/notion"
	"agendawatch/internal/slack"
	"agendawatch/internal/storage"
	"agendawatch/internal/task/engine"
	"agendawatch/internal/task/scheduler"
	logx "agendawatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Forward: logx.ForwardConfig{
			Enabled:    cfg.Logging.Forward.Enabled,
			MinLevel:   cfg.Logging.Forward.MinLevel,
			RatePerSec: cfg.Logging.Forward.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapTaskEngineConfig enables the engine whenever the scheduler is on; the
// CLI run path never goes through the engine.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        true,
		Workers:        max(te.Workers, 1),
		QueueSize:      max(te.QueueSize, 1),
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    te.HistorySize,
		RetryMax:       max(te.RetryMax, 0),
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	retryBase, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}, nil
}

// mapTelegramConfig resolves the bot token from the file or from TokenEnv.
// ok is false when no sink can be built.
func mapTelegramConfig(cfg *config.Config, lookup func(string) (string, bool)) (notifier.TelegramConfig, bool, error) {
	tc := cfg.Telegram
	timeout, err := config.ParseDurationField("telegram.timeout", tc.Timeout)
	if err != nil {
		return notifier.TelegramConfig{}, false, err
	}
	token := strings.TrimSpace(tc.Token)
	if token == "" && strings.TrimSpace(tc.TokenEnv) != "" && lookup != nil {
		v, _ := lookup(strings.TrimSpace(tc.TokenEnv))
		token = strings.TrimSpace(v)
	}
	if token == "" || tc.ChatID == 0 {
		return notifier.TelegramConfig{}, false, nil
	}
	return notifier.TelegramConfig{Token: token, ChatID: tc.ChatID, ThreadID: tc.ThreadID, Timeout: timeout}, true, nil
}

func mapControlConfig(cfg *config.Config) (control.Config, error) {
	cc := cfg.Control
	rt, err := config.ParseDurationOrDefault("control.read_timeout", cc.ReadTimeout, 5*time.Second)
	if err != nil {
		return control.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("control.write_timeout", cc.WriteTimeout, 30*time.Second)
	if err != nil {
		return control.Config{}, err
	}
	return control.Config{
		Enabled:      cc.Enabled,
		Addr:         cc.Addr,
		Token:        cc.Token,
		Pprof:        cc.Pprof,
		ReadTimeout:  rt,
		WriteTimeout: wt,
	}, nil
}

func mapNotionConfig(cfg *config.Config) (notion.Config, error) {
	nc := cfg.Notion
	timeout, err := config.ParseDurationField("notion.timeout", nc.Timeout)
	if err != nil {
		return notion.Config{}, err
	}
	return notion.Config{
		BaseURL:    nc.BaseURL,
		Version:    nc.Version,
		Timeout:    timeout,
		RatePerSec: nc.RatePerSec,
		PageSize:   nc.PageSize,
	}, nil
}

func mapSlackConfig(cfg *config.Config) (slack.Config, error) {
	timeout, err := config.ParseDurationField("slack.timeout", cfg.Slack.Timeout)
	if err != nil {
		return slack.Config{}, err
	}
	return slack.Config{BaseURL: cfg.Slack.BaseURL, Timeout: timeout}, nil
}

// mapChecksOptions builds the check options. Zero values keep the defaults.
func mapChecksOptions(cfg *config.Config) (checks.Options, error) {
	opt := checks.DefaultOptions()
	loc, err := scheduler.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return checks.Options{}, err
	}
	opt.Location = loc

	ec := cfg.Checks.Editorial
	opt.Editorial = checks.EditorialOptions{MarginDays: ec.MarginDays, DryRun: ec.DryRun}

	rc := cfg.Checks.Room
	if p := strings.TrimSpace(rc.Pattern); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return checks.Options{}, fmt.Errorf("checks.room.pattern: %w", err)
		}
		opt.Room.Pattern = re
	}
	if opt.Room.LookBehind, err = config.ParseDurationOrDefault("checks.room.look_behind", rc.LookBehind, opt.Room.LookBehind); err != nil {
		return checks.Options{}, err
	}
	if opt.Room.LookAhead, err = config.ParseDurationOrDefault("checks.room.look_ahead", rc.LookAhead, opt.Room.LookAhead); err != nil {
		return checks.Options{}, err
	}
	if opt.Room.DefaultDuration, err = config.ParseDurationOrDefault("checks.room.default_duration", rc.DefaultDuration, opt.Room.DefaultDuration); err != nil {
		return checks.Options{}, err
	}
	if rc.KeepWeeks > 0 {
		opt.Room.KeepWeeks = rc.KeepWeeks
	}
	return opt, nil
}
