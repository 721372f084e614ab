package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agendawatch/internal/eventbus"
	"agendawatch/internal/job"
	"agendawatch/internal/notifier"
	"agendawatch/internal/task/engine"
	logx "agendawatch/pkg/logx"
)

// handleEvent records skipped runs and turns failures into alerts.
func (a *App) handleEvent(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.TaskSkipped:
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		if _, known := a.runner.Job(ev.Name); known {
			a.runner.RecordSkipped(ctx, ev.Name, job.TriggerSchedule, e.Time)
		}
	case eventbus.TaskDropped:
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		a.notify(ctx, notifier.Notification{
			Key:      "dropped|" + ev.Name + "|" + ev.Error,
			Priority: notifier.PriorityWarn,
			Text:     fmt.Sprintf("job %s dropped: %s", ev.Name, ev.Error),
		})
	case eventbus.JobFailed:
		ev, ok := e.Data.(job.Event)
		if !ok {
			return
		}
		a.notify(ctx, failureNotification(ev))
	}
}

// failureNotification keys on job, step and error so a job failing the same
// way every tick alerts once per dedup window.
func failureNotification(ev job.Event) notifier.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s failed", ev.Job)
	if ev.FailedStep != "" {
		fmt.Fprintf(&b, " at step %s", ev.FailedStep)
	}
	fmt.Fprintf(&b, " (%s, %s)", ev.Trigger, ev.Duration.Round(time.Millisecond))
	if ev.Error != "" {
		b.WriteString("\n")
		b.WriteString(ev.Error)
	}
	return notifier.Notification{
		Key:      strings.Join([]string{"failed", ev.Job, ev.FailedStep, ev.Error}, "|"),
		Priority: notifier.PriorityCritical,
		Text:     b.String(),
	}
}

func (a *App) notify(ctx context.Context, n notifier.Notification) {
	if a.notif == nil {
		return
	}
	if err := a.notif.Notify(ctx, n); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		a.log.Debug("alert not queued", logx.String("key", n.Key), logx.Err(err))
	}
}
