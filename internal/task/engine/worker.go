package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"agendawatch/internal/eventbus"
	logx "agendawatch/pkg/logx"
)

func (s *Service) work(ctx context.Context, p *pool) error {
	for {
		// A retired pool stops taking work even if the queue is not empty.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return context.Canceled
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return context.Canceled
		case q := <-p.queue:
			s.stats.inFlight.Add(1)
			s.exec(ctx, p, q)
			s.stats.inFlight.Add(-1)
		}
	}
}

func (s *Service) exec(ctx context.Context, p *pool, q queued) {
	defer q.release()

	start := time.Now()
	ev := TaskEvent{ID: q.task.ID, Name: q.task.Name, Started: start, QueueDelay: max(start.Sub(q.at), 0)}

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && ev.QueueDelay > maxDelay {
		ev.Error = "stale_queue_delay"
		s.dropStale(ev)
		return
	}

	s.log.Debug("task started", logx.String("task", ev.Name), logx.String("id", ev.ID), logx.Duration("queue_delay", ev.QueueDelay))
	s.emit(eventbus.TaskStarted, ev)

	attempts, err := s.attempt(ctx, p, q)
	ev.Duration = time.Since(start)
	ev.Attempts = attempts
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", ev.Name), logx.String("id", ev.ID), logx.Err(err), logx.Duration("dur", ev.Duration), logx.Int("attempts", attempts))
		s.emit(eventbus.TaskFailed, ev)
	} else {
		s.log.Debug("task finished", logx.String("task", ev.Name), logx.String("id", ev.ID), logx.Duration("dur", ev.Duration), logx.Int("attempts", attempts))
		s.emit(eventbus.TaskFinished, ev)
	}
	s.hist.add(ev)
}

// attempt runs the task until it succeeds, fails with a final error, or
// runs out of retries. It returns the number of attempts made.
func (s *Service) attempt(ctx context.Context, p *pool, q queued) (int, error) {
	limit := 1 + q.opt.RetryMax
	for n := 1; ; n++ {
		err := s.runOnce(ctx, q)
		if err == nil {
			return n, nil
		}
		var fe *finalError
		if errors.As(err, &fe) {
			return n, fe.err
		}
		if n >= limit {
			return n, err
		}

		wait := q.opt.backoff(n, err)
		s.log.Debug("task retry scheduled", logx.String("task", q.task.Name), logx.Int("attempt", n+1), logx.Duration("delay", wait), logx.Err(err))
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return n, ctx.Err()
		case <-p.quit:
			t.Stop()
			return n, ErrStopping
		}
	}
}

func (s *Service) runOnce(ctx context.Context, q queued) (err error) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", q.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return q.task.Run(ctx)
}

// backoff returns the delay before attempt retry+1: the error's own
// Retry-After hint when present, otherwise RetryBase doubled per retry.
// Both are capped at RetryMaxDelay and spread by RetryJitter.
func (o TaskOptions) backoff(retry int, err error) time.Duration {
	var d time.Duration
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = o.RetryBase
		for i := 1; i < retry && d < o.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	d = min(d, o.RetryMaxDelay)
	if o.RetryJitter > 0 && d > 0 {
		f := 1 + (rand.Float64()*2-1)*o.RetryJitter
		d = max(time.Duration(float64(d)*f), 0)
	}
	return min(d, o.RetryMaxDelay)
}
