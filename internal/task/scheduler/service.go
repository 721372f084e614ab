// Package scheduler turns job schedules into tasks on the engine.
//
// It never runs a job itself. Cron entries and manual triggers both enqueue
// an engine.Task that shares the schedule's overlap gate, so a manual
// trigger and a timer tick cannot run the same job twice at once.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"agendawatch/internal/task/engine"
	logx "agendawatch/pkg/logx"
)

// ErrUnknownSchedule is returned by Trigger for names that were never registered.
var ErrUnknownSchedule = errors.New("unknown schedule")

type Config struct {
	// Enabled gates the timer only; manual triggers work either way.
	Enabled  bool
	Timezone string // IANA name, e.g. "America/Sao_Paulo"
}

type (
	OverlapPolicy = engine.OverlapPolicy
	TaskOptions   = engine.TaskOptions
)

const (
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
	OverlapAllow         = engine.OverlapAllow
)

const enqueueWarnEvery = 5 * time.Second

type entry struct {
	name    string
	spec    Spec
	timeout time.Duration
	opt     TaskOptions
	run     func(ctx context.Context) error
	gate    *engine.Gate
	cronID  cron.EntryID
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	cron    *cron.Cron // nil while stopped
	entries map[string]*entry
	order   []string

	engine *engine.Service
	log    logx.Logger

	warnMu sync.Mutex
	warn   map[string]*rate.Sometimes
}

func New(cfg Config, eng *engine.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		engine:  eng,
		log:     log,
		entries: make(map[string]*entry),
		warn:    make(map[string]*rate.Sometimes),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A running cron is rebuilt when the timezone changes.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.cron == nil || !tzChanged {
		s.mu.Unlock()
		return
	}
	// Jobs of the old cron call fire, which takes s.mu; wait for them unlocked.
	stopped := s.cron.Stop()
	s.startLocked()
	tz := s.loc.String()
	s.mu.Unlock()

	<-stopped.Done()
	s.log.Info("scheduler restarted", logx.String("tz", tz))
}

// Start registers every schedule with a new cron and starts it.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; only manual triggers will run")
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.order)))
}

func (s *Service) startLocked() {
	loc, err := LoadLocation(s.cfg.Timezone)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", s.cfg.Timezone), logx.Err(err))
	}
	s.loc = loc
	s.cron = cron.New(cron.WithParser(Parser), cron.WithLocation(loc), cron.WithLogger(cronLogger{s.log}))
	for _, name := range s.order {
		s.registerLocked(s.entries[name])
	}
	s.cron.Start()
}

// Stop stops the timer. Schedules stay registered for the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	for _, e := range s.entries {
		e.cronID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) registerLocked(e *entry) {
	name := e.name
	job := cron.FuncJob(func() { s.fire(name) })
	if e.spec.IsInterval() {
		sched := staggered{
			ConstantDelaySchedule: cron.Every(e.spec.Every),
			first:                 time.Now().In(s.loc).Add(e.spec.Every + staggerFor(name, e.spec.Every)),
		}
		e.cronID = s.cron.Schedule(sched, job)
		return
	}
	sched, err := e.spec.Schedule()
	if err != nil {
		// ParseSchedule already accepted the expression.
		s.log.Error("schedule register failed", logx.String("name", name), logx.Err(err))
		return
	}
	e.cronID = s.cron.Schedule(sched, job)
}

// fire runs on the cron goroutine for each tick of the named schedule.
func (s *Service) fire(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	var t engine.Task
	if ok {
		t = e.task(SourceSchedule)
	}
	s.mu.Unlock()
	if !ok || s.engine == nil {
		return
	}
	if _, err := s.engine.Enqueue(t); err != nil {
		s.reportEnqueueError(name, err)
	}
}

func (e *entry) task(src Source) engine.Task {
	run := e.run
	return engine.Task{
		Name:    e.name,
		Timeout: e.timeout,
		Opt:     e.opt,
		Gate:    e.gate,
		Run:     func(ctx context.Context) error { return run(WithSource(ctx, src)) },
	}
}

func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule tick skipped, previous run still active", logx.String("schedule", name))
		return
	}
	s.warnMu.Lock()
	st := s.warn[name]
	if st == nil {
		st = &rate.Sometimes{Interval: enqueueWarnEvery}
		s.warn[name] = st
	}
	s.warnMu.Unlock()
	st.Do(func() {
		s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
	})
}

// cronLogger routes robfig/cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
