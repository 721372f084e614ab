// Package job runs a job: the environment contract is resolved first, then
// the steps run strictly in order and the first failure ends the run.
package job

import (
	"errors"
	"time"
)

var ErrUnknownJob = errors.New("unknown job")

// Trigger sources recorded on runs.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Step is either a builtin check or an external command.
type Step struct {
	Name    string
	Check   string
	Run     []string
	Dir     string
	Timeout time.Duration
}

func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Check != "" {
		return s.Check
	}
	if len(s.Run) > 0 {
		return s.Run[0]
	}
	return "step"
}

type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	// Env is the environment contract. Nil means the default four variables.
	Env   []string
	Steps []Step
}

type StepResult struct {
	Name     string
	Status   string
	Duration time.Duration
	Err      error
}

type Result struct {
	ID         string
	Job        string
	Trigger    string
	Status     string
	Started    time.Time
	Finished   time.Time
	FailedStep string
	Err        error
	Steps      []StepResult
}

func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Event is the payload of job.finished and job.failed bus events.
type Event struct {
	ID         string        `json:"id"`
	Job        string        `json:"job"`
	Trigger    string        `json:"trigger"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	FailedStep string        `json:"failed_step,omitempty"`
	Error      string        `json:"error,omitempty"`
}
