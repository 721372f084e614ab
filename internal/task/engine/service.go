package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agendawatch/internal/eventbus"
	rtsup "agendawatch/internal/runtime/supervisor"
	logx "agendawatch/pkg/logx"
)

const dropWarnEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	cur *pool

	log logx.Logger
	bus eventbus.Bus

	gmu   sync.Mutex
	gates map[string]*Gate

	hist  *ring
	stats stats
}

// pool is one started generation of workers and its queue. Stop retires the
// pool; a later Start builds a fresh one.
type pool struct {
	queue chan queued
	quit  chan struct{}
	sup   *rtsup.Supervisor

	// stopping is guarded by Service.mu.
	stopping bool
	// senders counts enqueue calls that may still write to queue.
	senders sync.WaitGroup
	done    chan struct{}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.normalized()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		gates: make(map[string]*Gate),
		hist:  newRing(cfg.HistorySize),
	}
	s.stats.warnFull = rate.Sometimes{Interval: dropWarnEvery}
	s.stats.warnStale = rate.Sometimes{Interval: dropWarnEvery}
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A running pool is rebuilt when the worker count
// or queue size change, and stopped when the engine gets disabled.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.cur != nil && !s.cur.stopping
	s.mu.Unlock()

	s.hist.resize(cfg.HistorySize)
	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize || !cfg.Enabled {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start builds the worker pool. It is a no-op when the engine is disabled
// or already running, and waits for an in-progress Stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.cur != nil {
		p := s.cur
		if !p.stopping {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	cfg := s.cfg
	if !cfg.Enabled {
		s.mu.Unlock()
		return
	}
	p := &pool{
		queue: make(chan queued, cfg.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		// A failing worker must not take the app down with it.
		sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	s.cur = p
	s.mu.Unlock()

	for i := range cfg.Workers {
		p.sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			return s.work(c, p)
		})
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop retires the pool and waits for running tasks until ctx is done.
// Queued tasks that never started are discarded.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.cur
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.stopping
	if first {
		p.stopping = true
		close(p.quit)
	}
	s.mu.Unlock()

	if first {
		p.sup.Cancel()
		go s.retire(p)
	}
	select {
	case <-p.done:
		if first {
			s.log.Info("task engine stopped")
		}
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) retire(p *pool) {
	_ = p.sup.Wait(context.Background())
	p.senders.Wait()
	for drained := false; !drained; {
		select {
		case q := <-p.queue:
			q.release()
		default:
			drained = true
		}
	}
	s.mu.Lock()
	if s.cur == p {
		s.cur = nil
	}
	s.mu.Unlock()
	close(p.done)
}

func (s *Service) gateFor(name string) *Gate {
	s.gmu.Lock()
	defer s.gmu.Unlock()
	g := s.gates[name]
	if g == nil {
		g = &Gate{}
		s.gates[name] = g
	}
	return g
}

func (s *Service) emit(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}
