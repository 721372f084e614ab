package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agendawatch/internal/checks"
	"agendawatch/internal/env"
	"agendawatch/internal/eventbus"
	"agendawatch/internal/storage"
	"agendawatch/internal/task/engine"
	logx "agendawatch/pkg/logx"
)

// DepsFunc builds the dependencies of builtin checks for one run from the
// resolved secrets.
type DepsFunc func(ctx context.Context, secrets env.Secrets) (checks.Deps, error)

type Options struct {
	Checks *checks.Registry
	Deps   DepsFunc
	Store  storage.Store
	Bus    eventbus.Bus
	Log    logx.Logger
	// Lookup reads the process environment; os.LookupEnv when nil.
	Lookup env.LookupFunc
	Now    func() time.Time
}

type Runner struct {
	opt Options
	log logx.Logger

	mu   sync.RWMutex
	jobs map[string]Job
	// order keeps declaration order for listings.
	order []string
}

func NewRunner(opt Options) *Runner {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Checks == nil {
		opt.Checks = checks.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Runner{opt: opt, log: log.With(logx.String("comp", "job")), jobs: map[string]Job{}}
}

// SetJobs replaces the job set.
func (r *Runner) SetJobs(jobs []Job) {
	m := make(map[string]Job, len(jobs))
	order := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if _, dup := m[j.Name]; dup {
			continue
		}
		m[j.Name] = j
		order = append(order, j.Name)
	}
	r.mu.Lock()
	r.jobs = m
	r.order = order
	r.mu.Unlock()
}

// SetStore swaps the run store, e.g. after a storage reload.
func (r *Runner) SetStore(st storage.Store) {
	r.mu.Lock()
	r.opt.Store = st
	r.mu.Unlock()
}

func (r *Runner) Job(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[strings.TrimSpace(name)]
	return j, ok
}

func (r *Runner) Jobs() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.jobs[n])
	}
	return out
}

func (r *Runner) store() storage.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opt.Store
}

// RunByName runs a configured job.
func (r *Runner) RunByName(ctx context.Context, name, trigger string) (Result, error) {
	j, ok := r.Job(name)
	if !ok {
		return Result{}, engine.NoRetry(fmt.Errorf("%w: %q", ErrUnknownJob, name))
	}
	return r.Run(ctx, j, trigger)
}

// Run executes j once. The returned error is the first step failure, or the
// environment contract error when no step could start.
func (r *Runner) Run(ctx context.Context, j Job, trigger string) (Result, error) {
	if trigger == "" {
		trigger = TriggerManual
	}
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	res := Result{
		ID:      uuid.NewString(),
		Job:     j.Name,
		Trigger: trigger,
		Started: r.opt.Now(),
		Steps:   make([]StepResult, len(j.Steps)),
	}
	for i, st := range j.Steps {
		res.Steps[i] = StepResult{Name: st.label(), Status: storage.StatusNotRun}
	}
	log := r.log.With(logx.String("job", j.Name), logx.String("run", res.ID))
	log.Info("job started", logx.String("trigger", trigger), logx.Int("steps", len(j.Steps)))

	secrets, err := env.Contract{Required: j.Env}.Resolve(r.opt.Lookup)
	if err != nil {
		res.Err = engine.NoRetry(err)
		return r.finish(ctx, log, res)
	}

	var deps *checks.Deps
	for i, st := range j.Steps {
		name := res.Steps[i].Name
		slog := log.With(logx.String("step", name))
		started := r.opt.Now()

		err := r.runStep(ctx, slog, st, secrets, &deps)

		res.Steps[i].Duration = r.opt.Now().Sub(started)
		if err != nil {
			res.Steps[i].Status = storage.StatusFailed
			res.Steps[i].Err = err
			res.FailedStep = name
			res.Err = fmt.Errorf("step %s: %w", name, err)
			slog.Error("step failed", logx.Duration("took", res.Steps[i].Duration), logx.Err(err))
			break
		}
		res.Steps[i].Status = storage.StatusSucceeded
		slog.Info("step done", logx.Duration("took", res.Steps[i].Duration))
	}
	return r.finish(ctx, log, res)
}

func (r *Runner) runStep(ctx context.Context, log logx.Logger, st Step, secrets env.Secrets, deps **checks.Deps) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.Timeout)
		defer cancel()
	}

	switch {
	case st.Check != "":
		if *deps == nil {
			if r.opt.Deps == nil {
				return engine.NoRetry(errors.New("builtin checks are not configured"))
			}
			d, err := r.opt.Deps(ctx, secrets)
			if err != nil {
				return err
			}
			*deps = &d
		}
		d := **deps
		d.Log = log
		return r.opt.Checks.Run(ctx, st.Check, d)
	case len(st.Run) > 0:
		return runCommand(ctx, log, st.Run, st.Dir, secrets.Environ())
	}
	return engine.NoRetry(errors.New("step has neither check nor run"))
}

func (r *Runner) finish(ctx context.Context, log logx.Logger, res Result) (Result, error) {
	res.Finished = r.opt.Now()
	res.Status = storage.StatusSucceeded
	if res.Err != nil {
		res.Status = storage.StatusFailed
	}

	r.persist(ctx, log, res)

	ev := Event{
		ID:         res.ID,
		Job:        res.Job,
		Trigger:    res.Trigger,
		Status:     res.Status,
		Duration:   res.Duration(),
		FailedStep: res.FailedStep,
	}
	typ := eventbus.JobFinished
	if res.Err != nil {
		typ = eventbus.JobFailed
		ev.Error = res.Err.Error()
		log.Error("job failed", logx.Duration("took", ev.Duration), logx.String("failed_step", res.FailedStep), logx.Err(res.Err))
	} else {
		log.Info("job finished", logx.Duration("took", ev.Duration))
	}
	if r.opt.Bus != nil {
		r.opt.Bus.Publish(eventbus.Event{Type: typ, Time: res.Finished, Data: ev})
	}
	return res, res.Err
}

// persist writes the run record with a detached deadline so canceled runs
// are recorded too.
func (r *Runner) persist(ctx context.Context, log logx.Logger, res Result) {
	st := r.store()
	if st == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := st.AppendRun(pctx, ToRecord(res)); err != nil {
		log.Warn("run record not saved", logx.Err(err))
	}
}

// RecordSkipped stores a run that the overlap policy skipped.
func (r *Runner) RecordSkipped(ctx context.Context, name, trigger string, at time.Time) {
	st := r.store()
	if st == nil {
		return
	}
	rec := storage.RunRecord{
		ID:       uuid.NewString(),
		Job:      name,
		Trigger:  trigger,
		Status:   storage.StatusSkipped,
		Started:  at,
		Finished: at,
		Error:    "previous run still in flight",
	}
	if err := st.AppendRun(ctx, rec); err != nil {
		r.log.Warn("skipped run not saved", logx.String("job", name), logx.Err(err))
	}
}

// ToRecord converts a result into its persisted form.
func ToRecord(res Result) storage.RunRecord {
	rec := storage.RunRecord{
		ID:         res.ID,
		Job:        res.Job,
		Trigger:    res.Trigger,
		Status:     res.Status,
		Started:    res.Started,
		Finished:   res.Finished,
		FailedStep: res.FailedStep,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	for _, s := range res.Steps {
		sr := storage.StepRecord{Name: s.Name, Status: s.Status, DurationMS: s.Duration.Milliseconds()}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		rec.Steps = append(rec.Steps, sr)
	}
	return rec
}
