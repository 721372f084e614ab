package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints, duration strings, the timezone and
// job name uniqueness. Schedules and check names are validated by the app,
// which owns the parsers and the check registry.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	durations := map[string]string{
		"task_engine.default_timeout":  cfg.TaskEngine.DefaultTimeout,
		"task_engine.max_queue_delay":  cfg.TaskEngine.MaxQueueDelay,
		"storage.busy_timeout":         cfg.Storage.BusyTimeout,
		"notifier.retry_base":          cfg.Notifier.RetryBase,
		"notifier.retry_max_delay":     cfg.Notifier.RetryMaxDelay,
		"notifier.dedup_window":        cfg.Notifier.DedupWindow,
		"telegram.timeout":             cfg.Telegram.Timeout,
		"control.read_timeout":         cfg.Control.ReadTimeout,
		"control.write_timeout":        cfg.Control.WriteTimeout,
		"notion.timeout":               cfg.Notion.Timeout,
		"slack.timeout":                cfg.Slack.Timeout,
		"checks.room.look_behind":      cfg.Checks.Room.LookBehind,
		"checks.room.look_ahead":       cfg.Checks.Room.LookAhead,
		"checks.room.default_duration": cfg.Checks.Room.DefaultDuration,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	}

	if cfg.Control.Enabled && strings.TrimSpace(cfg.Control.Token) == "" && !isLoopback(cfg.Control.Addr) {
		return fmt.Errorf("control.token is required when control.addr (%s) is not loopback", cfg.Control.Addr)
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("jobs[%d]: duplicate job name %q", i, name)
		}
		seen[name] = struct{}{}
		if _, err := ParseDurationField(fmt.Sprintf("jobs[%d].timeout", i), j.Timeout); err != nil {
			return err
		}
		for k, st := range j.Steps {
			if _, err := ParseDurationField(fmt.Sprintf("jobs[%d].steps[%d].timeout", i, k), st.Timeout); err != nil {
				return err
			}
		}
	}
	return nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
