// Package supervisor runs named goroutines under one cancelable context.
//
// Every goroutine is recovered from panics. A failure is recorded as the
// supervisor error and, with WithCancelOnError, cancels the shared context
// so the remaining goroutines wind down.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "agendawatch/pkg/logx"
)

type Supervisor struct {
	ctx      context.Context
	cancel   context.CancelCauseFunc
	log      logx.Logger
	failFast bool

	wg      sync.WaitGroup
	started atomic.Uint64
	active  atomic.Int64

	errMu sync.Mutex
	err   error

	waitOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

// Counters is a point-in-time view of the goroutines owned by a supervisor.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first goroutine error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.failFast = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context and returns immediately.
func (s *Supervisor) Cancel() { s.cancel(context.Canceled) }

// Err returns the first goroutine failure, or nil.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

// Go runs fn in a new goroutine. A non-nil error other than
// context.Canceled is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.log.Debug("goroutine started", logx.String("name", name))
		if err := s.protect(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// protect calls fn and turns a panic into an error.
func (s *Supervisor) protect(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn(s.ctx)
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	floor, ceil time.Duration
	limit       int // <=0 means unlimited
}

// WithRestartBackoff bounds the exponential delay between restarts.
func WithRestartBackoff(floor, ceil time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if floor > 0 {
			p.floor = floor
		}
		if ceil > 0 {
			p.ceil = ceil
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run is not a restart.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// stableRun resets the backoff when a run lasted at least this long.
const stableRun = 30 * time.Second

// GoRestart runs fn again after every error or panic until the context is
// canceled or fn returns nil or context.Canceled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{floor: 250 * time.Millisecond, ceil: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.ceil = max(p.ceil, p.floor)

	s.Go0(name+".restart", func(ctx context.Context) {
		delay := p.floor
		for restarts := 1; ctx.Err() == nil; restarts++ {
			began := time.Now()
			err := s.protect(name, fn)
			if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return
			}
			if p.limit > 0 && restarts > p.limit {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts-1), logx.Err(err))
				s.fail(fmt.Errorf("%s: %w", name, err))
				return
			}
			if time.Since(began) >= stableRun {
				delay = p.floor
			}

			wait := delay + time.Duration(rand.Int64N(int64(delay)/5+1))
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, p.ceil)
		}
	})
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.Cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done, and then
// returns the first failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	if s.failFast {
		s.cancel(err)
	}
}
