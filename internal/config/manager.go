package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "agendawatch/pkg/logx"
)

const (
	reloadSettle  = 250 * time.Millisecond
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

// Validator vets a parsed config before hot reload commits it.
type Validator func(ctx context.Context, cfg *Config) error

// Manager owns the current config, reloads it when the file changes and
// fans every accepted version out to subscribers.
type Manager struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	sum      [sha256.Size]byte
	validate Validator

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), subs: make(map[chan *Config]struct{})}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the hook Watch runs before committing a reload.
func (m *Manager) SetValidator(fn Validator) {
	m.mu.Lock()
	m.validate = fn
	m.mu.Unlock()
}

// Parse reads and decodes the file. A missing file yields Default().
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Load parses the file and makes it the current config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	sum := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func fingerprint(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}

// Subscribe returns a channel that receives every committed reload. A slow
// subscriber loses older versions, never the newest one.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for delivered := false; !delivered; {
			select {
			case ch <- cfg:
				delivered = true
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
	}
}

// reload parses the file and commits it when it differs from the current
// config and passes the validator. Failures keep the current config.
func (m *Manager) reload(ctx context.Context) {
	// Editors that save by rename remove the file for a moment.
	if _, err := os.Stat(m.path); err != nil {
		m.log.Debug("config file not present; keeping current", logx.String("path", m.path), logx.Err(err))
		return
	}
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping current", logx.String("path", m.path), logx.Err(err))
		return
	}

	sum := fingerprint(cfg)
	m.mu.RLock()
	same, validate := sum == m.sum, m.validate
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	if validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected; keeping current", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path), logx.String("sha256", fmt.Sprintf("%x", sum[:6])))
}

// Watch reloads the config whenever the file changes, until ctx is done.
// A broken watcher is recreated with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	delay := watchRetryMin
	for ctx.Err() == nil {
		began := time.Now()
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		if time.Since(began) > time.Minute {
			delay = watchRetryMin
		}
		m.log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", delay))
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		delay = min(delay*2, watchRetryMax)
	}
	return nil
}

func (m *Manager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors replace the file rather than write it.
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	settle := time.NewTimer(reloadSettle)
	settle.Stop()
	defer settle.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				settle.Reset(reloadSettle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				settle.Reset(reloadSettle)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-settle.C:
			m.reload(ctx)
		}
	}
}
