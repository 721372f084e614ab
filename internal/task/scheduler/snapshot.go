package scheduler

import (
	"time"

	"agendawatch/internal/task/engine"
)

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
}

type Snapshot struct {
	Enabled  bool
	Timezone string

	InFlight int
	QueueLen int
	QueueCap int
	Dropped  uint64
	RetryMax int

	Schedules []ScheduleInfo
	History   []engine.TaskEvent
}

// Snapshot reports every schedule with its next and previous fire times
// plus the engine counters. While stopped, Next is computed from the schedule.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone, History: []engine.TaskEvent{}}
	loc := s.loc
	if loc == nil {
		loc, _ = LoadLocation(s.cfg.Timezone)
	}
	if snap.Timezone == "" {
		snap.Timezone = loc.String()
	}
	now := time.Now().In(loc)
	for _, name := range s.order {
		e := s.entries[name]
		it := ScheduleInfo{Name: name, Spec: e.spec.Expr(), Timeout: e.timeout, Running: e.gate.Busy()}
		if s.cron != nil && e.cronID != 0 {
			ce := s.cron.Entry(e.cronID)
			it.Next, it.Prev = ce.Next, ce.Prev
		} else if sched, err := e.spec.Schedule(); err == nil {
			if next := upcoming(sched, now, 1); len(next) == 1 {
				it.Next = next[0]
			}
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		es := eng.Snapshot()
		snap.InFlight, snap.QueueLen, snap.QueueCap = es.InFlight, es.QueueLen, es.QueueCap
		snap.Dropped, snap.RetryMax = es.Dropped, es.RetryMax
		snap.History = es.History
	}
	return snap
}
