package notifier

import (
	"context"
	"math/rand/v2"
	"time"

	"agendawatch/internal/storage"
	logx "agendawatch/pkg/logx"
)

const (
	sendTimeout    = 10 * time.Second
	persistTimeout = 250 * time.Millisecond
)

type outgoing struct {
	n   Notification
	key string
}

// drain delivers queued notifications until q is closed or ctx ends.
func (s *Service) drain(ctx context.Context, q <-chan outgoing) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-q:
			if !ok {
				return nil
			}
			s.deliver(ctx, o)
		}
	}
}

// deliver sends one notification, retrying with backoff on sink errors.
func (s *Service) deliver(ctx context.Context, o outgoing) {
	s.mu.Lock()
	cfg, lim, sink := s.cfg, s.limiter, s.sink
	s.mu.Unlock()
	if sink == nil {
		s.log.Debug("no sink; notification dropped", logx.String("key", o.key))
		return
	}
	text := priorityPrefix(o.n.Priority) + o.n.Text

	attempts := 1 + max(cfg.RetryMax, 0)
	var err error
	for try := 1; try <= attempts; try++ {
		if try > 1 && !sleepCtx(ctx, retryDelay(cfg, try-1)) {
			return
		}
		if lim.Wait(ctx) != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = sink.Send(sctx, text)
		cancel()
		if err == nil {
			s.history.add(text)
			s.emit(EventSent, o.key, nil)
			if cfg.PersistDedup {
				s.persist(ctx, o.key)
			}
			return
		}
		s.log.Debug("notify send failed", logx.Int("attempt", try), logx.Int("of", attempts), logx.Err(err))
	}
	s.emit(EventFailed, o.key, err)
}

// persist writes the dedup deadline of key to the store, best effort.
func (s *Service) persist(ctx context.Context, key string) {
	st := s.storeOrNil()
	until := s.dedup.deadline(key)
	if st == nil || key == "" || until.IsZero() {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := st.PutDedup(pctx, key, until); err != nil {
		s.log.Debug("dedup persist failed", logx.Err(err))
	}
}

func (s *Service) storeOrNil() storage.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.PersistDedup {
		return nil
	}
	return s.store
}

// retryDelay is the wait before retry n (1-based): RetryBase doubled per
// retry, capped at RetryMaxDelay, with ±30% jitter.
func retryDelay(cfg Config, n int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < n && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(d, cfg.RetryMaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func priorityPrefix(p int) string {
	switch {
	case p >= PriorityCritical:
		return "🚨 "
	case p >= PriorityWarn:
		return "⚠️ "
	case p >= PriorityInfo:
		return "ℹ️ "
	}
	return ""
}
