package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "agendawatch/pkg/logx"
)

const maxRunLine = 4 << 20

// fileStore keeps run records in <prefix>.runs.jsonl (append only) and the
// keyed state (dedup deadlines, sent marks) in <prefix>.state.json, which is
// rewritten through a temp file on every change.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	runsPath  string
	runs      *os.File // nil once closed
	statePath string
	state     fileState
}

type fileState struct {
	Dedup map[string]int64 `json:"dedup"` // key -> until, unix ms
	Sent  map[string]int64 `json:"sent"`  // week|signature -> marked at, unix ms
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	s := &fileStore{
		log:       log,
		runsPath:  prefix + ".runs.jsonl",
		statePath: prefix + ".state.json",
		state:     fileState{Dedup: map[string]int64{}, Sent: map[string]int64{}},
	}
	if err := s.loadState(); err != nil {
		log.Warn("state file unreadable; starting empty", logx.String("path", s.statePath), logx.Err(err))
	}
	f, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.runs = f
	log.Debug("file store opened", logx.String("prefix", prefix))
	return s, nil
}

func (s *fileStore) loadState() error {
	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	maps.Copy(s.state.Dedup, st.Dedup)
	maps.Copy(s.state.Sent, st.Sent)
	now := time.Now().UnixMilli()
	maps.DeleteFunc(s.state.Dedup, func(_ string, until int64) bool { return until < now })
	return nil
}

// flushLocked rewrites the state file. A crash leaves either the old or the
// new file in place.
func (s *fileStore) flushLocked() error {
	b, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return nil
	}
	err := s.runs.Close()
	s.runs = nil
	return err
}

func (s *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return errors.New("file store closed")
	}
	_, err = s.runs.Write(append(b, '\n'))
	return err
}

func (s *fileStore) RecentRuns(_ context.Context, job string, n int) ([]RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	job = strings.TrimSpace(job)

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.runsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tail []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(nil, maxRunLine)
	for line := 1; sc.Scan(); line++ {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Debug("skipping bad run line", logx.Int("line", line), logx.Err(err))
			continue
		}
		if job != "" && r.Job != job {
			continue
		}
		if len(tail) == n {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.runsPath, err)
	}
	slices.Reverse(tail)
	return tail, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key = strings.TrimSpace(key); key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	maps.DeleteFunc(s.state.Dedup, func(_ string, u int64) bool { return u < now })
	s.state.Dedup[key] = until.UnixMilli()
	return s.flushLocked()
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.state.Dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) MarkSent(_ context.Context, signature, week string, at time.Time) error {
	if signature == "" || week == "" {
		return errors.New("signature and week are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Sent[week+"|"+signature] = at.UnixMilli()
	return s.flushLocked()
}

func (s *fileStore) SentWeek(_ context.Context, signature, week string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.Sent[week+"|"+signature]
	return ok, nil
}

func (s *fileStore) PruneSent(_ context.Context, cutoff time.Time) (int, error) {
	c := cutoff.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.state.Sent)
	maps.DeleteFunc(s.state.Sent, func(_ string, at int64) bool { return at < c })
	n := before - len(s.state.Sent)
	if n == 0 {
		return 0, nil
	}
	return n, s.flushLocked()
}
