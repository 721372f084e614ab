package scheduler

import (
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts 5-field and 6-field (with seconds) cron specs plus descriptors.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Form says how a schedule string was written.
type Form string

const (
	FormCron     Form = "cron"
	FormDuration Form = "duration"
	FormClock    Form = "hhmm"
)

// Spec is a parsed schedule: a cron expression or a fixed interval.
type Spec struct {
	Raw   string
	Form  Form
	Cron  string
	Every time.Duration
}

func (s Spec) IsInterval() bool { return s.Form != FormCron }

// Expr is the schedule as robfig/cron reads it.
func (s Spec) Expr() string {
	if s.IsInterval() {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

// Schedule returns the cron schedule without startup stagger.
func (s Spec) Schedule() (cron.Schedule, error) {
	if s.IsInterval() {
		return cron.Every(s.Every), nil
	}
	return Parser.Parse(s.Cron)
}

var clockRE = regexp.MustCompile(`^(\d{1,3}):([0-5]\d)$`)

// ParseSchedule accepts
//   - cron: "*/15 * * * *", "0 30 8 * * 1-5", "@hourly", "@every 15m"
//   - a Go duration: "15m", "2h30m"
//   - an HH:MM interval: "00:15" (15 minutes), "02:30"
//
// A "cron:" prefix forces cron; "interval:" or "every:" force an interval.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, errors.New("schedule required")
	}
	sp := Spec{Raw: raw}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(strings.TrimSpace(prefix)) {
		case "cron":
			return parseCron(sp, rest)
		case "interval", "every":
			return parseInterval(sp, rest)
		}
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return parseCron(sp, s)
	}
	return parseInterval(sp, s)
}

func parseCron(sp Spec, expr string) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Spec{}, fmt.Errorf("schedule %q: empty cron expression", sp.Raw)
	}
	if _, err := Parser.Parse(expr); err != nil {
		return Spec{}, fmt.Errorf("schedule %q: %w", sp.Raw, err)
	}
	sp.Form, sp.Cron = FormCron, expr
	return sp, nil
}

func parseInterval(sp Spec, v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if m := clockRE.FindStringSubmatch(v); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		sp.Form, sp.Every = FormClock, time.Duration(h)*time.Hour+time.Duration(mins)*time.Minute
	} else if d, err := time.ParseDuration(v); err == nil {
		sp.Form, sp.Every = FormDuration, d
	} else {
		return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '*/15 * * * *', HH:MM like '00:15', or a duration like '15m')", sp.Raw)
	}
	if sp.Every <= 0 {
		return Spec{}, fmt.Errorf("schedule %q: interval must be > 0", sp.Raw)
	}
	return sp, nil
}

// NextRuns returns up to n fire times of schedule strictly after from.
// Interval schedules are computed without startup stagger.
func NextRuns(schedule string, from time.Time, n int) ([]time.Time, error) {
	sp, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	sched, err := sp.Schedule()
	if err != nil {
		return nil, err
	}
	return upcoming(sched, from, n), nil
}

func upcoming(sched cron.Schedule, from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	for t := from; len(out) < n; {
		if t = sched.Next(t); t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// LoadLocation resolves an IANA timezone name. An empty name means Local.
// On error the returned location is Local.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

const maxStagger = 30 * time.Second

// staggered delays the first fire of an interval schedule by a per-name
// offset, so interval jobs registered together do not fire together.
type staggered struct {
	cron.ConstantDelaySchedule
	first time.Time
}

func (s staggered) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.ConstantDelaySchedule.Next(t)
}

func staggerFor(name string, every time.Duration) time.Duration {
	window := min(every, maxStagger)
	if window <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64() % uint64(window))
}
