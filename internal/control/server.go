// Package control serves the local HTTP control surface: liveness, the job
// table with recent runs, manual dispatch and an optional pprof mount.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "agendawatch/pkg/logx"
)

const (
	DefaultAddr = "127.0.0.1:8087"

	readHeaderTimeout = 5 * time.Second
	shutdownGrace     = 2 * time.Second
)

// ErrInsecureBind is returned by Start for a non-loopback address without a token.
var ErrInsecureBind = errors.New("control: non-loopback address requires a token")

type Config struct {
	Enabled bool
	Addr    string // default DefaultAddr
	Token   string
	Pprof   bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Service owns the control HTTP server across reconfigurations.
type Service struct {
	log  logx.Logger
	deps Deps

	mu     sync.Mutex
	cfg    Config
	parent context.Context // from the first Start; outlives Reconfigure calls
	live   *listener
}

// listener is one bound server and the goroutine serving it.
type listener struct {
	srv     *http.Server
	addr    string
	done    chan struct{}
	release func() bool // detaches the parent-context shutdown hook
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Log.IsZero() {
		deps.Log = log
	}
	return &Service{cfg: cfg, deps: deps, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return ""
	}
	return s.live.addr
}

// Start binds and serves in the background. The server shuts down when ctx
// ends. It is a no-op when already serving or disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parent == nil {
		s.parent = ctx
	}
	if s.live != nil || !s.cfg.Enabled {
		return nil
	}
	l, err := s.listen(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.live = l
	return nil
}

func (s *Service) listen(ctx context.Context, cfg Config) (*listener, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
		return nil, fmt.Errorf("%w: %s", ErrInsecureBind, addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control listen %s: %w", addr, err)
	}

	deps := s.deps
	deps.Token, deps.Pprof = cfg.Token, cfg.Pprof
	srv := &http.Server{
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	l := &listener{srv: srv, addr: ln.Addr().String(), done: make(chan struct{})}
	l.release = context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})

	go func() {
		defer close(l.done)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server failed", logx.String("addr", l.addr), logx.Err(err))
		}
		s.mu.Lock()
		if s.live == l {
			s.live = nil
		}
		s.mu.Unlock()
	}()
	s.log.Info("control server started",
		logx.String("addr", l.addr),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
	)
	return l, nil
}

// Stop shuts the server down gracefully, closing remaining connections
// once ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	l := s.live
	s.live = nil
	s.mu.Unlock()
	if l == nil {
		return
	}
	l.release()
	if err := l.srv.Shutdown(ctx); err != nil {
		_ = l.srv.Close()
	}
	<-l.done
	s.log.Info("control server stopped", logx.String("addr", l.addr))
}

// Reconfigure applies cfg, then starts, stops or restarts the server so it
// matches. Restarts reuse the context of the first Start.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	changed := s.cfg != cfg
	s.cfg = cfg
	running := s.live != nil
	s.mu.Unlock()

	if running && (changed || !cfg.Enabled) {
		s.Stop(ctx)
	}
	if !cfg.Enabled {
		return
	}
	s.mu.Lock()
	parent := s.parent
	s.mu.Unlock()
	if parent == nil {
		parent = context.WithoutCancel(ctx)
	}
	if err := s.Start(parent); err != nil {
		s.log.Error("control server not restarted", logx.Err(err))
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
