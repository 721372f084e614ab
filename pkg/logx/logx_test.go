package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu    sync.Mutex
	level []Level
	text  []string
}

func (c *captured) Forward(level Level, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = append(c.level, level)
	c.text = append(c.text, text)
}

func TestWriterRecordsFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("job", "absences"))
	log.Info("sync done", Int("pages", 3), Err(errors.New("partial")), Err(nil))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sync done", rec["message"])
	assert.Equal(t, "absences", rec["job"])
	assert.EqualValues(t, 3, rec["pages"])
	assert.Equal(t, "partial", rec["err"])
	assert.True(t, strings.HasPrefix(rec["caller"].(string), "logx_test.go:"), rec["caller"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))

	var zero Logger
	assert.True(t, zero.IsZero())
	assert.False(t, zero.Enabled(LevelError))
	zero.Error("dropped")
	assert.False(t, Nop().IsZero())
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "info").With(String("a", "1"))
	_ = base.With(String("b", "2"))
	base.Info("x")
	assert.NotContains(t, buf.String(), `"b"`)
}

func TestForwardRespectsMinLevelAndRate(t *testing.T) {
	fw := &captured{}
	w := newForwardWriter(fw, ForwardConfig{Enabled: true, MinLevel: "error", RatePerSec: 1})

	warn := []byte(`{"level":"warn","message":"slow"}`)
	_, _ = w.WriteLevel(LevelWarn, warn)
	assert.Empty(t, fw.text)

	rec := []byte(`{"level":"error","time":"t","caller":"x.go:1","message":"sync failed","job":"absences","err":"boom"}`)
	_, _ = w.WriteLevel(LevelError, rec)
	_, _ = w.WriteLevel(LevelError, rec)
	require.Len(t, fw.text, 1, "burst of one per second")
	assert.Equal(t, "[ERROR] sync failed\n- err=boom\n- job=absences", fw.text[0])
	assert.Equal(t, LevelError, fw.level[0])
}

func TestRenderForwardClipsText(t *testing.T) {
	assert.Equal(t, "not json", renderForward([]byte("not json\n")))
	long := `{"level":"warn","message":"m","v":"` + strings.Repeat("x", 1000) + `"}`
	out := renderForward([]byte(long))
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Less(t, len(out), 700)
}

func TestServiceForwardsAfterApply(t *testing.T) {
	svc, log := New(Config{Level: "info", Console: true})
	defer svc.Close()

	fw := &captured{}
	svc.SetForwarder(fw)
	log.Error("before apply")
	assert.Empty(t, fw.text)

	svc.Apply(Config{Level: "info", Console: true, Forward: ForwardConfig{Enabled: true, RatePerSec: 10}})
	log.Info("below min level")
	log.Warn("disk almost full", String("path", "/var"))
	require.Len(t, fw.text, 1)
	assert.Equal(t, "[WARN] disk almost full\n- path=/var", fw.text[0])
}

func TestServiceWritesFile(t *testing.T) {
	path := t.TempDir() + "/app.log"
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("hello", Bool("ok", true))
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"hello"`)
	assert.Contains(t, string(b), `"ok":true`)
}
