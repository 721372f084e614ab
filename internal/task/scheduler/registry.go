package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"agendawatch/internal/task/engine"
	logx "agendawatch/pkg/logx"
)

// AddSchedule registers job under name, replacing a schedule with the same
// name. See ParseSchedule for the accepted schedule strings. The zero
// TaskOptions skips a tick while an earlier run is queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("schedule name required")
	}
	if job == nil {
		return "", errors.New("schedule job required")
	}
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{name: name, spec: spec, timeout: timeout, opt: opt, run: job, gate: &engine.Gate{}}
	if prev, ok := s.entries[name]; ok {
		// The gate survives a reload so an in-flight run keeps it closed.
		e.gate = prev.gate
		s.unregisterLocked(prev)
	} else {
		s.order = append(s.order, name)
	}
	s.entries[name] = e

	if s.cron != nil {
		s.registerLocked(e)
	}
	if s.log.Enabled(logx.LevelDebug) {
		fields := []logx.Field{logx.String("name", name), logx.String("spec", spec.Expr()), logx.Duration("timeout", timeout)}
		if next := s.previewLocked(spec, 3); next != "" {
			fields = append(fields, logx.String("next", next))
		}
		s.log.Debug("schedule registered", fields...)
	}
	return name, nil
}

// Trigger enqueues the named schedule now, outside its timetable. It shares
// the schedule's overlap gate, so triggering while a run is active returns
// engine.ErrOverlapSkip.
func (s *Service) Trigger(name string) (string, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	e, ok := s.entries[name]
	var t engine.Task
	if ok {
		t = e.task(SourceManual)
	}
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSchedule, name)
	}
	if s.engine == nil {
		return "", engine.ErrStopped
	}
	id, err := s.engine.Enqueue(t)
	if err != nil {
		return id, err
	}
	s.log.Info("schedule triggered manually", logx.String("name", name), logx.String("id", id))
	return id, nil
}

// Names returns the registered schedule names in registration order.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		s.unregisterLocked(e)
		delete(s.entries, name)
		s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	}
	s.mu.Unlock()
	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

func (s *Service) unregisterLocked(e *entry) {
	if s.cron != nil && e.cronID != 0 {
		s.cron.Remove(e.cronID)
	}
	e.cronID = 0
}

func (s *Service) previewLocked(spec Spec, n int) string {
	loc := s.loc
	if loc == nil {
		loc, _ = LoadLocation(s.cfg.Timezone)
	}
	sched, err := spec.Schedule()
	if err != nil {
		return ""
	}
	times := upcoming(sched, time.Now().In(loc), n)
	parts := make([]string, len(times))
	for i, t := range times {
		parts[i] = t.Format("2006-01-02 15:04:05")
	}
	return strings.Join(parts, ", ")
}
