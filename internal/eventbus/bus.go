// Package eventbus is an in-process fanout of lifecycle events between the
// task engine, the job runner, the notifier and the control API.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the task engine and the job runner.
const (
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"

	JobFinished = "job.finished"
	JobFailed   = "job.failed"
)

type Event struct {
	Type string
	Time time.Time // stamped by Publish when zero
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

// New returns an in-memory Bus. It starts no goroutines.
func New() Bus { return &fanout{} }

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

type fanout struct {
	mu   sync.RWMutex
	subs []*subscriber
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered channel. The returned func removes it and
// closes the channel; calling it again does nothing.
func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() { once.Do(func() { b.remove(s) }) }
}

// remove holds the write lock, so no Publish can be sending on s.ch.
func (b *fanout) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(x *subscriber) bool { return x == s })
	close(s.ch)
}

// Dropped reports how many events slow subscribers have missed in total.
func (b *fanout) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n uint64
	for _, s := range b.subs {
		n += s.dropped.Load()
	}
	return n
}
