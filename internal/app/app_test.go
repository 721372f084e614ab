package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"agendawatch/internal/checks"
	"agendawatch/internal/config"
	"agendawatch/internal/eventbus"
	"agendawatch/internal/job"
	"agendawatch/internal/notifier"
	"agendawatch/internal/storage"
	"agendawatch/internal/task/engine"
)

type captureSink struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSink) Send(_ context.Context, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func testRegistry() *checks.Registry {
	r := checks.NewRegistry()
	r.Register("ok", func(ctx context.Context, d checks.Deps) error { return nil })
	r.Register("boom", func(ctx context.Context, d checks.Deps) error { return errors.New("notion unreachable") })
	return r
}

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "{{dir}}", dir)
	path := filepath.Join(dir, "agendawatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testConfig = `
logging:
  level: error
storage:
  driver: file
  path: {{dir}}/state
notifier:
  enabled: true
  retry_max: 0
jobs:
  - name: good
    schedule: "*/5 * * * *"
    env: [NOTION_API_KEY]
    steps:
      - check: ok
  - name: bad
    schedule: "@every 1h"
    env: [NOTION_API_KEY]
    steps:
      - name: first
        check: ok
      - name: second
        check: boom
      - name: third
        check: ok
`

func TestNewAppDefaultsWhenFileMissing(t *testing.T) {
	a, err := NewApp(filepath.Join(t.TempDir(), "missing.yaml"), WithLookup(lookupFrom(nil)))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Close()

	if got := a.Scheduler().Names(); len(got) != 1 || got[0] != config.DefaultJobName {
		t.Fatalf("schedules = %v", got)
	}
	if a.Store() != nil {
		t.Fatal("storage should be disabled by default")
	}
}

func TestRunJobPersistsAndAlerts(t *testing.T) {
	sink := &captureSink{}
	a, err := NewApp(writeConfig(t, testConfig),
		WithLookup(lookupFrom(map[string]string{"NOTION_API_KEY": "secret_test"})),
		WithSink(sink),
		WithChecks(testRegistry()),
	)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := a.RunJob(ctx, "good")
	if err != nil || res.Status != storage.StatusSucceeded {
		t.Fatalf("good: status=%s err=%v", res.Status, err)
	}

	res, err = a.RunJob(ctx, "bad")
	if err == nil || res.FailedStep != "second" {
		t.Fatalf("bad: failed_step=%q err=%v", res.FailedStep, err)
	}
	if res.Steps[2].Status != storage.StatusNotRun {
		t.Fatalf("third step status = %s, want not_run", res.Steps[2].Status)
	}

	runs, err := a.Store().RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Job != "bad" || runs[0].Trigger != job.TriggerManual {
		t.Fatalf("runs = %+v", runs)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.texts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	texts := sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "job bad failed at step second") || !strings.Contains(texts[0], "notion unreachable") {
		t.Fatalf("alerts = %q", texts)
	}
}

func TestRunJobUnknown(t *testing.T) {
	a, err := NewApp(writeConfig(t, testConfig), WithLookup(lookupFrom(nil)), WithChecks(testRegistry()))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Close()
	_, err = a.RunJob(context.Background(), "nope")
	if !errors.Is(err, job.ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown check": `
jobs:
  - name: x
    schedule: "@hourly"
    steps:
      - check: nope
`,
		"bad schedule": `
jobs:
  - name: x
    schedule: "61 * * * *"
    steps:
      - check: ok
`,
		"bad room pattern": `
checks:
  room:
    pattern: "("
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			a, err := NewApp(writeConfig(t, body), WithLookup(lookupFrom(nil)), WithChecks(testRegistry()))
			if err == nil {
				a.Close()
				t.Fatal("expected error")
			}
		})
	}
}

func TestHandleEventRecordsSkip(t *testing.T) {
	a, err := NewApp(writeConfig(t, testConfig), WithLookup(lookupFrom(nil)), WithChecks(testRegistry()))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Close()

	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	a.handleEvent(ctx, eventbus.Event{Type: eventbus.TaskSkipped, Time: at, Data: engine.TaskEvent{Name: "good", Error: "overlap_skip"}})
	a.handleEvent(ctx, eventbus.Event{Type: eventbus.TaskSkipped, Time: at, Data: engine.TaskEvent{Name: "not-a-job"}})

	runs, err := a.Store().RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Job != "good" || runs[0].Status != storage.StatusSkipped {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestFailureNotification(t *testing.T) {
	n := failureNotification(job.Event{
		Job:        "notion-conflicts",
		Trigger:    "schedule",
		FailedStep: "editorial",
		Duration:   1500 * time.Millisecond,
		Error:      "step editorial: boom",
	})
	if n.Priority != notifier.PriorityCritical {
		t.Fatalf("priority = %d", n.Priority)
	}
	if n.Key != "failed|notion-conflicts|editorial|step editorial: boom" {
		t.Fatalf("key = %q", n.Key)
	}
	if !strings.HasPrefix(n.Text, "job notion-conflicts failed at step editorial (schedule, 1.5s)") {
		t.Fatalf("text = %q", n.Text)
	}
}

func TestApplyReloadReplacesJobs(t *testing.T) {
	a, err := NewApp(writeConfig(t, testConfig), WithLookup(lookupFrom(nil)), WithChecks(testRegistry()))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Close()

	oldCfg := a.Config()
	next := *oldCfg
	next.Jobs = []config.JobConfig{{
		Name:     "only",
		Schedule: "@daily",
		Steps:    []config.StepConfig{{Check: "ok"}},
	}}
	a.applyReload(context.Background(), oldCfg, &next)

	if got := a.Scheduler().Names(); len(got) != 1 || got[0] != "only" {
		t.Fatalf("schedules = %v", got)
	}
	if _, ok := a.Runner().Job("good"); ok {
		t.Fatal("removed job still known to the runner")
	}
}
