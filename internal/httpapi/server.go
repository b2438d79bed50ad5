// Package httpapi is the optional status server: health, Prometheus
// metrics, the schedule table, run history and manual interrupts.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pifan/internal/actuator"
	rtsup "pifan/internal/runtime/supervisor"
	"pifan/internal/storage"
	"pifan/internal/task/engine"
	"pifan/internal/task/scheduler"
	logx "pifan/pkg/logx"
)

const shutdownGrace = 2 * time.Second

// A listener that keeps failing (address taken) is retried with backoff and
// abandoned after listenMaxRestarts; the rest of the process keeps running.
var (
	listenBackoffMin  = 500 * time.Millisecond
	listenBackoffMax  = 10 * time.Second
	listenMaxRestarts = 20
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Pprof        bool
}

// Scheduler is the part of scheduler.Service the API reads and controls.
type Scheduler interface {
	Snapshot() scheduler.Snapshot
	Interrupt(name string) bool
}

// Output reports the actuator state.
type Output interface {
	State() actuator.State
	Changes() (count uint64, last time.Time)
}

// Deps are the components behind the routes. Store and Output may be nil.
type Deps struct {
	Scheduler Scheduler
	Store     storage.Store
	Output    Output
	Metrics   http.Handler
}

type Server struct {
	cfg     Config
	deps    Deps
	log     logx.Logger
	started time.Time
	handler http.Handler

	mu   sync.Mutex
	sup  *rtsup.Supervisor
	srv  *http.Server
	addr string
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log.With(logx.String("comp", "http")),
		started: time.Now(),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the router; tests serve it through httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the bound listen address once serving, else "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start serves in the background under a supervisor that restarts the
// listener with backoff. It is idempotent.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithRestartBackoff(listenBackoffMin, listenBackoffMax),
		rtsup.WithMaxRestarts(listenMaxRestarts),
	)
}

// Stop shuts the server down and waits for the serve loop within ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	_ = sup.Wait(ctx)
	s.log.Info("http server stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.log.Error("http listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.addr = ""
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

// poolSnapshot is a nil-safe accessor used by handlers.
func (s *Server) poolSnapshot() engine.Snapshot {
	if s.deps.Scheduler == nil {
		return engine.Snapshot{}
	}
	return s.deps.Scheduler.Snapshot().Pool
}
