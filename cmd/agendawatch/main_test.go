package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const cliConfig = `
logging:
  level: error
scheduler:
  timezone: UTC
storage:
  driver: file
  path: {{dir}}/state
jobs:
  - name: notion-conflicts
    schedule: "*/15 * * * *"
    env: [FOO]
    steps:
      - name: hello
        run: ["sh", "-c", "test \"$FOO\" = bar-value-123"]
  - name: broken
    schedule: "@every 1h"
    env: [FOO]
    steps:
      - name: exit3
        run: ["sh", "-c", "exit 3"]
`

func setup(t *testing.T, vars map[string]string) (*cli, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agendawatch.yaml")
	body := strings.ReplaceAll(cliConfig, "{{dir}}", dir)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c := &cli{
		lookup: func(k string) (string, bool) {
			v, ok := vars[k]
			return v, ok
		},
		now: func() time.Time { return time.Date(2026, 10, 19, 10, 7, 0, 0, time.UTC) },
	}
	return c, path
}

func execute(t *testing.T, c *cli, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(c)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScheduleCommand(t *testing.T) {
	c, path := setup(t, nil)
	out, err := execute(t, c, "--config", path, "schedule", "-n", "2")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	want := "notion-conflicts\t*/15 * * * *\t2026-10-19 10:15 UTC, 2026-10-19 10:30 UTC\n"
	if !strings.Contains(out, want) {
		t.Fatalf("output = %q, want line %q", out, want)
	}
	if !strings.Contains(out, "broken\t@every 1h\t2026-10-19 11:07 UTC, 2026-10-19 12:07 UTC\n") {
		t.Fatalf("output = %q", out)
	}
}

func TestCheckEnvMissing(t *testing.T) {
	c, path := setup(t, nil)
	out, err := execute(t, c, "--config", path, "check-env", "notion-conflicts")
	if !errors.Is(err, errContract) {
		t.Fatalf("err = %v, want errContract", err)
	}
	if !strings.Contains(out, "notion-conflicts: missing or empty environment variables: FOO") {
		t.Fatalf("output = %q", out)
	}
}

func TestCheckEnvRedacts(t *testing.T) {
	c, path := setup(t, map[string]string{"FOO": "bar-value-123"})
	out, err := execute(t, c, "--config", path, "check-env")
	if err != nil {
		t.Fatalf("check-env: %v", err)
	}
	if !strings.Contains(out, "notion-conflicts: ok") || !strings.Contains(out, "FOO=bar-*****-123") {
		t.Fatalf("output = %q", out)
	}
	if strings.Contains(out, "bar-value-123") {
		t.Fatalf("secret leaked: %q", out)
	}
}

func TestCheckEnvUnknownJob(t *testing.T) {
	c, path := setup(t, nil)
	if _, err := execute(t, c, "--config", path, "check-env", "nope"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestRunAndHistory(t *testing.T) {
	c, path := setup(t, map[string]string{"FOO": "bar-value-123"})

	out, err := execute(t, c, "--config", path, "run")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "notion-conflicts") || !strings.Contains(out, "succeeded") {
		t.Fatalf("run output = %q", out)
	}

	out, err = execute(t, c, "--config", path, "run", "broken")
	if err == nil {
		t.Fatalf("run broken: expected failure, output %q", out)
	}
	if !strings.Contains(out, "exit status 3") {
		t.Fatalf("run broken output = %q", out)
	}

	out, err = execute(t, c, "--config", path, "history", "-n", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("history lines = %d, output %q", len(lines), out)
	}
	if !strings.Contains(lines[1], "broken") || !strings.Contains(lines[1], "failed") || !strings.Contains(lines[1], "exit3") {
		t.Fatalf("newest record = %q", lines[1])
	}
	if !strings.Contains(lines[2], "notion-conflicts") || !strings.Contains(lines[2], "manual") {
		t.Fatalf("oldest record = %q", lines[2])
	}
}

func TestHistoryNeedsStorage(t *testing.T) {
	c := &cli{lookup: func(string) (string, bool) { return "", false }, now: time.Now}
	_, err := execute(t, c, "--config", filepath.Join(t.TempDir(), "none.yaml"), "history")
	if err == nil || !strings.Contains(err.Error(), "storage is disabled") {
		t.Fatalf("err = %v", err)
	}
}
