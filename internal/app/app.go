package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"agendawatch/internal/checks"
	"agendawatch/internal/config"
	"agendawatch/internal/control"
	"agendawatch/internal/env"
	"agendawatch/internal/eventbus"
	"agendawatch/internal/job"
	"agendawatch/internal/notifier"
	"agendawatch/internal/notion"
	rtsup "agendawatch/internal/runtime/supervisor"
	"agendawatch/internal/slack"
	"agendawatch/internal/storage"
	"agendawatch/internal/task/engine"
	"agendawatch/internal/task/scheduler"
	logx "agendawatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	store  storage.Store
	lookup env.LookupFunc

	checks  *checks.Registry
	engine  *engine.Service
	sched   *scheduler.Service
	runner  *job.Runner
	notif   *notifier.Service
	control *control.Service

	// clients holds the settings the per-run dependency builder reads.
	cmu     sync.RWMutex
	clients clientSettings
}

type clientSettings struct {
	notion notion.Config
	slack  slack.Config
	checks checks.Options
}

type Option func(*options)

type options struct {
	lookup env.LookupFunc
	sink   notifier.Sink
	checks *checks.Registry
}

// WithLookup replaces os.LookupEnv for the environment contract and the
// Telegram token.
func WithLookup(fn env.LookupFunc) Option { return func(o *options) { o.lookup = fn } }

// WithSink replaces the Telegram alert sink.
func WithSink(s notifier.Sink) Option { return func(o *options) { o.sink = s } }

// WithChecks replaces the builtin check registry.
func WithChecks(r *checks.Registry) Option { return func(o *options) { o.checks = r } }

// NewApp loads the config and builds every component without starting any
// goroutine. A missing config file yields the defaults.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	o := options{lookup: os.LookupEnv}
	for _, fn := range opts {
		fn(&o)
	}
	if o.checks == nil {
		o.checks = checks.Default()
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    eventbus.New(),
		lookup: o.lookup,
		checks: o.checks,
	}
	if err := a.validate(context.Background(), cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		a.store = st
		log.Debug("storage enabled", logx.String("driver", sc.Driver))
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine.New(engCfg, root.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, root.With(logx.String("comp", "scheduler")))

	a.runner = job.NewRunner(job.Options{
		Checks: a.checks,
		Deps:   a.buildDeps,
		Store:  a.store,
		Bus:    a.bus,
		Log:    root,
		Lookup: a.lookup,
	})

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	sink := o.sink
	if sink == nil {
		sink, err = a.telegramSink(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.notif = notifier.New(ncfg, sink, root, a.bus, a.store)
	logSvc.SetForwarder(a.notif)
	logSvc.Apply(mapLogConfig(cfg))

	ccfg, err := mapControlConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	var hist control.History
	if a.store != nil {
		hist = a.store
	}
	a.control = control.New(ccfg, control.Deps{Scheduler: a.sched, History: hist}, root.With(logx.String("comp", "control")))

	if err := a.applyClients(cfg); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.applyJobs(cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) Runner() *job.Runner           { return a.runner }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Bus() eventbus.Bus             { return a.bus }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunJob runs one job in the foreground with the manual trigger. The
// notifier is started for the duration of the run so failures still alert.
func (a *App) RunJob(ctx context.Context, name string) (job.Result, error) {
	if a.notif.Enabled() {
		a.notif.Start(ctx)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		}()
		events, unsub := a.bus.Subscribe(16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for e := range events {
				a.handleEvent(ctx, e)
			}
		}()
		defer func() {
			unsub()
			<-done
		}()
	}
	return a.runner.RunByName(ctx, name, job.TriggerManual)
}

// Start runs the long-lived services: engine, scheduler, notifier, control
// server, bus consumers and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	c := a.sup.Context()
	if a.notif.Enabled() {
		a.notif.Start(c)
	}
	a.engine.Start(c)
	if a.sched.Enabled() {
		a.sched.Start(c)
	}
	if a.control.Enabled() {
		if err := a.control.Start(c); err != nil {
			a.log.Error("control server not started", logx.Err(err))
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.consume", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.handleEvent(c, e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("jobs", len(a.runner.Jobs())),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Bool("control", a.control.Enabled()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context)) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		fn(stepCtx)
		if err := stepCtx.Err(); errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("control", 2*time.Second, a.control.Stop)
	step("scheduler", 2*time.Second, a.sched.Stop)
	step("taskengine", 5*time.Second, a.engine.Stop)
	step("notifier", 2*time.Second, a.notif.Stop)
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	a.log.Info("stopped")
	a.Close()
	return nil
}

// Close releases storage and log files. Stop calls it.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// buildDeps creates the clients for one run. The room check's optional
// variables are read here since they are not part of the default contract.
func (a *App) buildDeps(_ context.Context, secrets env.Secrets) (checks.Deps, error) {
	a.cmu.RLock()
	cs := a.clients
	a.cmu.RUnlock()

	secrets = secrets.With(a.lookup, env.DBTeam, env.SlackToken)
	d := checks.Deps{
		Secrets: secrets,
		Options: cs.checks,
		Store:   a.store,
	}
	if key := secrets.Get(env.NotionAPIKey); key != "" {
		d.Notion = notion.New(key, cs.notion, a.log.With(logx.String("comp", "notion")))
	}
	if tok := secrets.Get(env.SlackToken); tok != "" {
		d.Slack = slack.New(tok, cs.slack)
	}
	return d, nil
}

func (a *App) applyClients(cfg *config.Config) error {
	nc, err := mapNotionConfig(cfg)
	if err != nil {
		return err
	}
	sc, err := mapSlackConfig(cfg)
	if err != nil {
		return err
	}
	co, err := mapChecksOptions(cfg)
	if err != nil {
		return err
	}
	a.cmu.Lock()
	a.clients = clientSettings{notion: nc, slack: sc, checks: co}
	a.cmu.Unlock()
	return nil
}

// applyJobs installs the configured jobs on the runner and registers one
// schedule per job, removing schedules of jobs that are gone.
func (a *App) applyJobs(cfg *config.Config) error {
	jobs, err := job.FromConfig(cfg.Jobs)
	if err != nil {
		return err
	}
	a.runner.SetJobs(jobs)

	keep := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		keep[j.Name] = struct{}{}
	}
	for _, name := range a.sched.Names() {
		if _, ok := keep[name]; !ok {
			a.sched.Remove(name)
		}
	}
	for _, j := range jobs {
		name := j.Name
		run := func(ctx context.Context) error {
			_, err := a.runner.RunByName(ctx, name, string(scheduler.SourceFrom(ctx)))
			return err
		}
		if _, err := a.sched.AddSchedule(name, j.Schedule, j.Timeout, scheduler.TaskOptions{}, run); err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
	}
	return nil
}

func (a *App) telegramSink(cfg *config.Config) (notifier.Sink, error) {
	tc, ok, err := mapTelegramConfig(cfg, a.lookup)
	if err != nil {
		return nil, err
	}
	if !ok {
		if cfg.Notifier.Enabled {
			a.log.Warn("notifier enabled but telegram token or chat_id is missing; alerts will be dropped")
		}
		return nil, nil
	}
	ts, err := notifier.NewTelegramSink(tc)
	if err != nil {
		return nil, fmt.Errorf("telegram sink: %w", err)
	}
	return ts, nil
}
