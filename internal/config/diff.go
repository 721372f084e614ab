package config

import (
	"reflect"
	"sort"
	"strings"

	logx "agendawatch/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the names of jobs that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.forward_enabled", newCfg.Logging.Forward.Enabled),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		te := newCfg.TaskEngine
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(te.MaxQueueDelay)),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		n := newCfg.Notifier
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.String("notifier.dedup_window", n.DedupWindow),
			logx.Bool("notifier.persist_dedup", n.PersistDedup),
		)
	}

	// Telegram (never log token)
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}

	// Control (never log token)
	if oldCfg.Control != newCfg.Control {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.Bool("control.enabled", newCfg.Control.Enabled),
			logx.String("control.addr", strings.TrimSpace(newCfg.Control.Addr)),
			logx.Bool("control.token_set", strings.TrimSpace(newCfg.Control.Token) != ""),
			logx.Bool("control.pprof", newCfg.Control.Pprof),
		)
	}

	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Notion != newCfg.Notion {
		changed = append(changed, "notion")
		attrs = append(attrs,
			logx.String("notion.version", newCfg.Notion.Version),
			logx.Any("notion.rate_per_sec", newCfg.Notion.RatePerSec),
		)
	}
	if oldCfg.Slack != newCfg.Slack {
		changed = append(changed, "slack")
	}
	if oldCfg.Checks != newCfg.Checks {
		changed = append(changed, "checks")
		attrs = append(attrs,
			logx.Int("checks.editorial.margin_days", newCfg.Checks.Editorial.MarginDays),
			logx.Bool("checks.editorial.dry_run", newCfg.Checks.Editorial.DryRun),
		)
	}

	jobsChanged := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobsChanged) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobsChanged)),
			logx.Int("jobs.count", len(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobsChanged
}

func diffJobs(oldJobs, newJobs []JobConfig) []string {
	oldM := make(map[string]JobConfig, len(oldJobs))
	for _, j := range oldJobs {
		oldM[j.Name] = j
	}
	newM := make(map[string]JobConfig, len(newJobs))
	for _, j := range newJobs {
		newM[j.Name] = j
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, okOld := oldM[name]
		n, okNew := newM[name]
		if okOld != okNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
