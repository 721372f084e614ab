package logx

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	forwardMaxText  = 3500
	forwardMaxValue = 600
)

// forwardWriter is the zerolog sink feeding a Forwarder. Apply builds a new
// one per config, so its fields never change.
type forwardWriter struct {
	fw  Forwarder
	min Level
	lim *rate.Limiter
}

func newForwardWriter(fw Forwarder, cfg ForwardConfig) *forwardWriter {
	rps := max(cfg.RatePerSec, 1)
	return &forwardWriter{
		fw:  fw,
		min: parseLevel(cfg.MinLevel, LevelWarn),
		lim: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (w *forwardWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(LevelInfo, p)
}

func (w *forwardWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.min || level == zerolog.NoLevel || !w.lim.Allow() {
		return len(p), nil
	}
	if text := renderForward(p); text != "" {
		w.fw.Forward(level, text)
	}
	return len(p), nil
}

// renderForward turns a JSON record into "[LEVEL] message" followed by one
// "- key=value" line per field in key order.
func renderForward(p []byte) string {
	line := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return clip(line, forwardMaxText)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	for _, k := range slices.Sorted(maps.Keys(rec)) {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), forwardMaxValue))
	}
	return clip(b.String(), forwardMaxText)
}

func clip(s string, n int) string {
	switch {
	case len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
