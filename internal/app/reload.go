package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"agendawatch/internal/config"
	logx "agendawatch/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyReload(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, changedJobs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if changed("logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if changed("task_engine") {
		if ec, err := mapTaskEngineConfig(newCfg); err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, ec)
		}
	}

	if changed("scheduler") {
		prev := a.sched.Enabled()
		sc := mapSchedulerConfig(newCfg)
		a.sched.Apply(sc)
		switch {
		case prev && !sc.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prev && sc.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if changed("notion") || changed("slack") || changed("checks") || changed("scheduler") {
		if err := a.applyClients(newCfg); err != nil {
			a.log.Warn("invalid client config; keeping previous", logx.Err(err))
		}
	}

	if changed("jobs") {
		if err := a.applyJobs(newCfg); err != nil {
			a.log.Warn("job reload failed", logx.Err(err))
		} else {
			a.log.Info("jobs reloaded", logx.Strings("changed", changedJobs))
		}
	}

	if changed("notifier") || changed("telegram") {
		a.reloadNotifier(ctx, newCfg, changed("telegram"))
	}

	if changed("control") {
		if cc, err := mapControlConfig(newCfg); err != nil {
			a.log.Warn("invalid control config; keeping previous", logx.Err(err))
		} else {
			a.control.Reconfigure(ctx, cc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) reloadNotifier(ctx context.Context, cfg *config.Config, sinkChanged bool) {
	if sinkChanged {
		sink, err := a.telegramSink(cfg)
		if err != nil {
			a.log.Warn("telegram sink rebuild failed; keeping previous", logx.Err(err))
		} else {
			a.notif.SetSink(sink)
		}
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	prev := a.notif.Enabled()
	a.notif.Apply(nc)
	switch {
	case prev && !nc.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prev && nc.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}
