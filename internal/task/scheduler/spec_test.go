package scheduler

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		form     Form
		duration time.Duration
	}{
		{name: "cron", raw: "*/15 * * * *", form: FormCron},
		{name: "descriptor", raw: "@hourly", form: FormCron},
		{name: "prefixed cron", raw: "cron:0 0 * * *", form: FormCron},
		{name: "duration", raw: "15m", form: FormDuration, duration: 15 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", form: FormDuration, duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every:00:15", form: FormClock, duration: 15 * time.Minute},
		{name: "hhmm", raw: "01:30", form: FormClock, duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Form != tt.form {
				t.Fatalf("Form = %s, want %s", got.Form, tt.form)
			}
			if got.IsInterval() && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "interval:-5m", "cron:", "61 * * * *", "00:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Errorf("ParseSchedule(%q) expected error", raw)
		}
	}
}

func TestNextRunsEveryQuarterHour(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 5, 6, 10, 7, 30, 0, time.UTC)
	got, err := NextRuns("*/15 * * * *", from, 4)
	if err != nil {
		t.Fatalf("NextRuns error: %v", err)
	}
	want := []time.Time{
		time.Date(2024, 5, 6, 10, 15, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 10, 30, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 10, 45, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("run[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNextRunsInterval(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	got, err := NextRuns("15m", from, 2)
	if err != nil {
		t.Fatalf("NextRuns error: %v", err)
	}
	if len(got) != 2 || got[1].Sub(got[0]) != 15*time.Minute {
		t.Fatalf("NextRuns = %v", got)
	}
}

func TestSpecExpr(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]string{
		"*/15 * * * *": "*/15 * * * *",
		"cron:@daily":  "@daily",
		"00:15":        "@every 15m0s",
		"every:90s":    "@every 1m30s",
	} {
		sp, err := ParseSchedule(raw)
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error: %v", raw, err)
		}
		if got := sp.Expr(); got != want {
			t.Errorf("Expr(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestStaggerWithinWindow(t *testing.T) {
	t.Parallel()
	for _, every := range []time.Duration{time.Second, 15 * time.Minute} {
		d := staggerFor("notion-conflicts", every)
		if d < 0 || d >= min(every, maxStagger) {
			t.Fatalf("staggerFor(%s) = %s", every, d)
		}
		if d != staggerFor("notion-conflicts", every) {
			t.Fatal("stagger must be stable per name")
		}
	}

	from := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	s := staggered{ConstantDelaySchedule: cron.Every(time.Minute), first: from.Add(70 * time.Second)}
	if got := s.Next(from); !got.Equal(from.Add(70 * time.Second)) {
		t.Fatalf("first Next = %s", got)
	}
	if got := s.Next(from.Add(70 * time.Second)); !got.Equal(from.Add(130 * time.Second)) {
		t.Fatalf("second Next = %s", got)
	}
}
