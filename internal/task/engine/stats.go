package engine

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"agendawatch/internal/eventbus"
	logx "agendawatch/pkg/logx"
)

type stats struct {
	inFlight  atomic.Int32
	queueFull atomic.Uint64
	stale     atomic.Uint64

	// Drops come in bursts; warn at most once per dropWarnEvery.
	warnFull  rate.Sometimes
	warnStale rate.Sometimes
}

func (s *Service) dropQueueFull(q queued, qlen, qcap int) {
	n := s.stats.queueFull.Add(1)
	s.emit(eventbus.TaskDropped, TaskEvent{ID: q.task.ID, Name: q.task.Name, Started: q.at, Error: "queue_full"})
	s.stats.warnFull.Do(func() {
		s.log.Warn("task dropped: queue full",
			logx.String("task", q.task.Name),
			logx.String("id", q.task.ID),
			logx.Int("queue_len", qlen),
			logx.Int("queue_cap", qcap),
			logx.Uint64("dropped_queue_full", n),
		)
	})
}

func (s *Service) dropStale(ev TaskEvent) {
	s.stats.stale.Add(1)
	s.emit(eventbus.TaskDropped, ev)
	s.hist.add(ev)
	s.stats.warnStale.Do(func() {
		s.log.Warn("task dropped: waited too long in queue",
			logx.String("task", ev.Name),
			logx.String("id", ev.ID),
			logx.Duration("queue_delay", ev.QueueDelay),
		)
	})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, p := s.cfg, s.cur
	s.mu.Unlock()

	full, stale := s.stats.queueFull.Load(), s.stats.stale.Load()
	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		InFlight:         int(s.stats.inFlight.Load()),
		Dropped:          full + stale,
		DroppedQueueFull: full,
		DroppedStale:     stale,
		RetryMax:         cfg.RetryMax,
		History:          s.hist.items(),
	}
	if p != nil {
		snap.Running = true
		snap.QueueLen, snap.QueueCap = len(p.queue), cap(p.queue)
	}
	return snap
}

// ring keeps the most recent ended tasks.
type ring struct {
	mu   sync.Mutex
	buf  []TaskEvent
	next int
	full bool
}

func newRing(n int) *ring { return &ring{buf: make([]TaskEvent, max(n, 1))} }

func (r *ring) add(ev TaskEvent) {
	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *ring) items() []TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.itemsLocked()
}

func (r *ring) itemsLocked() []TaskEvent {
	if !r.full {
		return append([]TaskEvent{}, r.buf[:r.next]...)
	}
	out := make([]TaskEvent, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// resize keeps the newest min(n, len) items.
func (r *ring) resize(n int) {
	n = max(n, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if n == len(r.buf) {
		return
	}
	old := r.itemsLocked()
	if len(old) > n {
		old = old[len(old)-n:]
	}
	r.buf = make([]TaskEvent, n)
	copy(r.buf, old)
	r.next = len(old) % n
	r.full = len(old) == n
}
