package notifier

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agendawatch/internal/eventbus"
	rtsup "agendawatch/internal/runtime/supervisor"
	"agendawatch/internal/storage"
	logx "agendawatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 300

// Service is the alert pipeline. Notify enqueues without blocking; a pool
// of workers applies the rate limit and retries against the Sink.
type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	dedup   *suppressor
	history *textRing

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sink    Sink
	store   storage.Store
	run     *pipeline // nil while stopped
}

// pipeline is one Start..Stop generation of the queue and its workers.
type pipeline struct {
	queue   chan outgoing
	sup     *rtsup.Supervisor
	closing bool // guarded by Service.mu
	senders sync.WaitGroup
	done    chan struct{}
}

// New builds a stopped notifier. bus and store may be nil.
func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		dedup:   newSuppressor(),
		history: &textRing{max: historySize},
		sink:    sink,
		store:   store,
	}
	s.Apply(cfg)
	return s
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Workers and QueueSize apply from the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// SetSink replaces the delivery sink, e.g. after the bot token changed.
func (s *Service) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Start launches the workers. It is a no-op while running or disabled and
// waits for an earlier Stop to finish first.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if p := s.run; p != nil && p.closing {
		s.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return
	}

	p := &pipeline{
		queue: make(chan outgoing, s.cfg.QueueSize),
		sup:   rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
		done:  make(chan struct{}),
	}
	for i := range s.cfg.Workers {
		p.sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			return s.drain(c, p.queue)
		})
	}
	s.run = p
	s.log.Debug("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new notifications and lets the workers drain the queue until
// ctx ends, after which pending deliveries are abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.run
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.closing
	p.closing = true
	s.mu.Unlock()

	if first {
		go func() {
			p.senders.Wait()
			close(p.queue)
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			s.run = nil
			s.mu.Unlock()
			close(p.done)
		}()
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

// Notify queues n for delivery. It returns nil for a notification
// suppressed by the dedup window or with empty text.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(n.Text) == "" {
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	p := s.run
	if p == nil || p.closing {
		s.mu.Unlock()
		return ErrStopped
	}
	cfg := s.cfg
	var st storage.Store
	if cfg.PersistDedup {
		st = s.store
	}
	p.senders.Add(1)
	s.mu.Unlock()
	defer p.senders.Done()

	key := dedupKey(n)
	if cfg.DedupWindow > 0 && key != "" && !s.dedup.admit(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries, st) {
		s.emit(EventDeduped, key, nil)
		return nil
	}
	select {
	case p.queue <- outgoing{n: n, key: key}:
		s.emit(EventQueued, key, nil)
		return nil
	default:
		s.emit(EventDropped, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// Forward implements logx.Forwarder: warnings become PriorityWarn alerts
// and errors PriorityCritical ones.
func (s *Service) Forward(level logx.Level, text string) {
	p := PriorityWarn
	if level >= logx.LevelError {
		p = PriorityCritical
	}
	err := s.Notify(context.Background(), Notification{Priority: p, Text: text})
	if err != nil && !errors.Is(err, ErrDisabled) {
		// Logging at warn here would forward again.
		s.log.Debug("log forward dropped", logx.Err(err))
	}
}

// History returns recently delivered alerts, oldest first.
func (s *Service) History() []HistoryItem { return s.history.items() }

func (s *Service) emit(typ, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

type textRing struct {
	mu  sync.Mutex
	max int
	buf []HistoryItem
}

func (r *textRing) add(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, HistoryItem{At: time.Now(), Text: text})
	if over := len(r.buf) - r.max; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
}

func (r *textRing) items() []HistoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HistoryItem(nil), r.buf...)
}
