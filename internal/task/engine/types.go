// Package engine executes named tasks on a bounded worker pool.
//
// Tasks arrive through a bounded queue. Each run gets a timeout, panic
// recovery and optional retries, and every lifecycle step is published on
// the event bus. Scheduling lives in the scheduler package; this package
// only executes.
package engine

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize   = 64
	defaultHistorySize = 200
	defaultRetryBase   = 500 * time.Millisecond
	defaultRetryCap    = 15 * time.Second
	defaultRetryJitter = 0.2
)

type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies to tasks without their own timeout.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops tasks that waited longer than this in the queue.
	// Zero keeps every task.
	MaxQueueDelay time.Duration

	HistorySize int
	// RetryMax is the number of extra attempts after a failure. Zero makes
	// the first failure final.
	RetryMax int
}

func (c Config) normalized() Config {
	c.Workers = max(c.Workers, 1)
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	c.RetryMax = max(c.RetryMax, 0)
	return c
}

// OverlapPolicy decides what happens when a task is enqueued while an
// earlier run of it is queued or running. The zero value skips.
type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	if o.RetryMax <= 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryCap
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = defaultRetryJitter
	}
	return o
}

// Gate is held from enqueue until the run ends, so OverlapSkipIfRunning
// skips a trigger while a run is queued as well as while it executes.
// Tasks that share a Gate gate each other regardless of their names.
type Gate struct {
	held atomic.Bool
}

// Busy reports whether a run holding the gate is queued or executing.
func (g *Gate) Busy() bool { return g != nil && g.held.Load() }

func (g *Gate) enter() bool { return g == nil || g.held.CompareAndSwap(false, true) }

func (g *Gate) leave() {
	if g != nil {
		g.held.Store(false)
	}
}

// Task is a unit of work. Tasks without a Gate share one per Name.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	Gate    *Gate
}

// TaskEvent is published on the bus for every lifecycle step and kept in
// the in-memory history once a task ends.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	RetryMax         int

	// History holds ended tasks, oldest first.
	History []TaskEvent
}
