package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"agendawatch/internal/eventbus"
	logx "agendawatch/pkg/logx"
)

type queued struct {
	task    Task
	at      time.Time
	timeout time.Duration
	opt     TaskOptions
	// gate is set only while the task holds it.
	gate *Gate
}

func (q queued) release() { q.gate.leave() }

// Enqueue queues t without blocking and drops it with ErrQueueFull when
// the queue has no room.
func (s *Service) Enqueue(t Task) (string, error) {
	return s.enqueue(context.Background(), t, false)
}

// Submit queues t and waits for room until ctx is done or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, wait bool) (string, error) {
	t.Name = strings.TrimSpace(t.Name)
	switch {
	case t.Run == nil:
		return "", errors.New("task has no Run func")
	case t.Name == "":
		return "", errors.New("task name required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = "tsk-" + uuid.NewString()
	}
	now := time.Now()

	s.mu.Lock()
	cfg, p := s.cfg, s.cur
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return "", ErrDisabled
	case p == nil:
		s.mu.Unlock()
		return "", ErrStopped
	case p.stopping:
		s.mu.Unlock()
		return "", ErrStopping
	}
	p.senders.Add(1)
	s.mu.Unlock()
	defer p.senders.Done()

	q := queued{task: t, at: now, timeout: t.Timeout, opt: t.Opt.resolve(cfg)}
	if q.timeout <= 0 {
		q.timeout = cfg.DefaultTimeout
	}
	if q.opt.Overlap == OverlapSkipIfRunning {
		g := t.Gate
		if g == nil {
			g = s.gateFor(t.Name)
		}
		if !g.enter() {
			s.emit(eventbus.TaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("task skipped, previous run still active", logx.String("task", t.Name), logx.String("id", t.ID))
			return t.ID, ErrOverlapSkip
		}
		q.gate = g
	}

	if !wait {
		select {
		case p.queue <- q:
			return t.ID, nil
		default:
			q.release()
			s.dropQueueFull(q, len(p.queue), cap(p.queue))
			return t.ID, ErrQueueFull
		}
	}
	select {
	case p.queue <- q:
		return t.ID, nil
	case <-ctx.Done():
		q.release()
		return t.ID, ctx.Err()
	case <-p.quit:
		q.release()
		return t.ID, ErrStopping
	}
}
