package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines run log plus one JSON state file
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the job runner, the notifier and the
// room check.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to n records, newest first. An empty job matches all jobs.
	RecentRuns(ctx context.Context, job string, n int) ([]RunRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	MarkSent(ctx context.Context, signature, week string, at time.Time) error
	SentWeek(ctx context.Context, signature, week string) (bool, error)
	// PruneSent drops sent marks recorded before cutoff and reports how many were removed.
	PruneSent(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusNotRun    = "not_run"
)

// RunRecord is one job run. Keep it compact and schema-stable.
type RunRecord struct {
	ID         string       `json:"id"`
	Job        string       `json:"job"`
	Trigger    string       `json:"trigger"`
	Status     string       `json:"status"`
	Started    time.Time    `json:"started"`
	Finished   time.Time    `json:"finished"`
	FailedStep string       `json:"failed_step,omitempty"`
	Error      string       `json:"error,omitempty"`
	Steps      []StepRecord `json:"steps,omitempty"`
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	if r.Finished.IsZero() || r.Started.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

type StepRecord struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}
