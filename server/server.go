// Package server implements dictd, the dictionary TCP server.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/signadot/dictd/logging"
	"github.com/signadot/dictd/storage"
	"github.com/signadot/dictd/workpool"
)

// ErrRunning is returned by Start on a server that is already running.
var ErrRunning = errors.New("server already running")

// State is the lifecycle state of a Server.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Server represents the dictd server.
type Server struct {
	Spec Spec

	mu      sync.Mutex
	state   State
	pool    *workpool.Pool
	tcp     *TCPListener
	serveWG sync.WaitGroup
}

// New creates a new Server instance. Spec.Store is required.
func New(spec *Spec) *Server {
	if spec.Log == nil {
		spec.Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logging.LevelFromEnv(),
		}))
	}
	if spec.Config == nil {
		spec.Config = DefaultConfig()
	}
	return &Server{Spec: *spec}
}

// Open loads the dictionary named by cfg and returns a server for it.
func Open(cfg *Config, log *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Dictionary, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return New(&Spec{Config: cfg, Store: store, Log: log}), nil
}

// Start binds addr and serves connections in the background. An empty addr
// uses the configured address.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return ErrRunning
	}
	if addr == "" {
		addr = s.Spec.Config.Addr
	}

	pool := workpool.New(s.Spec.Config.Workers, s.Spec.Log)
	tcp, err := NewTCPListener(addr, s, pool)
	if err != nil {
		pool.Shutdown()
		pool.Wait()
		return err
	}
	s.pool = pool
	s.tcp = tcp
	s.state = StateRunning
	s.serveWG.Go(func() {
		if err := tcp.Serve(); err != nil {
			s.Spec.Log.Error("TCP listener error", "error", err)
		}
	})
	s.Spec.Log.Info("server started", "addr", tcp.Addr().String(),
		"dictionary", s.Spec.Store.Path(), "words", s.Spec.Store.Len(), "workers", pool.Size())
	return nil
}

// Stop closes all client connections, shuts down the worker pool and stops
// listening. Stopping a stopped server does nothing.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return nil
	}
	s.state = StateStopped
	err := s.tcp.Close()
	s.serveWG.Wait()
	s.Spec.Log.Info("server stopped")
	return err
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return ""
	}
	return s.tcp.Addr().String()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	tcp := s.tcp
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running {
		return 0
	}
	return tcp.HandlerCount()
}

// WordCount returns the number of words in the dictionary.
func (s *Server) WordCount() int {
	return s.Spec.Store.Len()
}

// PoolStats reports worker pool activity; the zero value when stopped.
func (s *Server) PoolStats() workpool.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return workpool.Stats{}
	}
	return s.pool.Stats()
}
