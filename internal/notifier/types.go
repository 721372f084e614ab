package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Priorities map to a text prefix.
const (
	PriorityInfo     = 5
	PriorityWarn     = 7
	PriorityCritical = 9
)

// Notification is one alert. An empty Key dedups on the text.
type Notification struct {
	Key      string
	Priority int
	Text     string
}

// Sink delivers rendered alert text.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

type HistoryItem struct {
	At   time.Time
	Text string
}

// Bus event types.
const (
	EventQueued  = "notifier.queued"
	EventDeduped = "notifier.deduped"
	EventDropped = "notifier.dropped"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
)

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
