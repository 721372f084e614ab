package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./agendawatch.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Forward ForwardConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ForwardConfig selects which records reach the Forwarder.
type ForwardConfig struct {
	Enabled    bool
	MinLevel   string // default "warn"
	RatePerSec int    // minimum 1
}

// Forwarder receives rendered records. Forward must not block.
type Forwarder interface {
	Forward(level Level, text string)
}

// Service owns the sinks behind every Logger it hands out and rebuilds them
// on Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu        sync.Mutex
	file      *os.File
	forwarder Forwarder
}

// New builds a Service from cfg and returns it with its root Logger.
func New(cfg Config) (*Service, Logger) {
	setup()
	s := &Service{}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetForwarder installs the forward sink. It is used from the next Apply on.
func (s *Service) SetForwarder(f Forwarder) {
	s.mu.Lock()
	s.forwarder = f
	s.mu.Unlock()
}

// Apply rebuilds the sinks from cfg. Loggers already handed out switch over
// atomically. A log file that cannot be opened is reported on stderr and
// skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stderr))
	}

	prev := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Forward.Enabled && s.forwarder != nil {
		sinks = append(sinks, newForwardWriter(s.forwarder, cfg.Forward))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stderr))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	// Records in flight may still hold the old file for a moment.
	if prev != nil {
		_ = prev.Close()
	}
}

// Close closes the log file. Later records go to the remaining sinks.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}
