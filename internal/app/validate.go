package app

import (
	"context"
	"fmt"
	"time"

	"agendawatch/internal/config"
	"agendawatch/internal/job"
	"agendawatch/internal/task/scheduler"
)

// validate runs before a reloaded config is committed. config.Decode has
// already checked struct tags and durations; this covers what needs the
// app's parsers and the check registry.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg, nil); err != nil {
		return err
	}
	if _, err := mapControlConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotionConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSlackConfig(cfg); err != nil {
		return err
	}
	if _, err := mapChecksOptions(cfg); err != nil {
		return err
	}
	jobs, err := job.FromConfig(cfg.Jobs)
	if err != nil {
		return err
	}
	return a.validateJobs(jobs)
}

func (a *App) validateJobs(jobs []job.Job) error {
	now := time.Now()
	for _, j := range jobs {
		if _, err := scheduler.NextRuns(j.Schedule, now, 1); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		for i, st := range j.Steps {
			if st.Check == "" {
				continue
			}
			if _, ok := a.checks.Lookup(st.Check); !ok {
				return fmt.Errorf("job %s: steps[%d]: unknown check %q (known: %v)", j.Name, i, st.Check, a.checks.Names())
			}
		}
	}
	return nil
}
