package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/signadot/dictd/workpool"
)

// acceptRetryDelay is the pause after a failed accept, so a persistent
// error such as running out of descriptors does not spin.
const acceptRetryDelay = 50 * time.Millisecond

// TCPListener accepts client connections and runs a Handler for each on
// the worker pool.
type TCPListener struct {
	listener net.Listener
	server   *Server
	pool     *workpool.Pool

	// Handler registry
	handlers   map[string]*Handler
	handlersMu sync.RWMutex

	// Shutdown
	done   chan struct{}
	closed atomic.Bool
}

// NewTCPListener binds addr. Handlers are run on pool.
func NewTCPListener(addr string, server *Server, pool *workpool.Pool) (*TCPListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return &TCPListener{
		listener: listener,
		server:   server,
		pool:     pool,
		handlers: make(map[string]*Handler),
		done:     make(chan struct{}),
	}, nil
}

// Addr returns the listener's network address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until Close is called.
func (l *TCPListener) Serve() error {
	log := l.server.Spec.Log
	log.Info("TCP listener started", "addr", l.listener.Addr().String())

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error("accept error", "error", err)
			select {
			case <-l.done:
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		l.handleConnection(conn)
	}
}

// handleConnection registers a handler for conn and queues it on the pool.
func (l *TCPListener) handleConnection(conn net.Conn) {
	log := l.server.Spec.Log
	if l.closed.Load() {
		conn.Close()
		return
	}

	id := uuid.NewString()
	h := NewHandler(id, conn, &HandlerConfig{
		Store:       l.server.Spec.Store,
		Log:         log,
		IdleTimeout: l.server.Spec.Config.IdleTimeout,
	})

	l.handlersMu.Lock()
	l.handlers[id] = h
	l.handlersMu.Unlock()

	err := l.pool.Submit(func(ctx context.Context) error {
		defer l.remove(id)
		return h.Run(ctx)
	})
	if err != nil {
		l.remove(id)
		h.Close()
		log.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	log.Debug("connection queued", "session", id, "remote", conn.RemoteAddr().String())
}

func (l *TCPListener) remove(id string) {
	l.handlersMu.Lock()
	delete(l.handlers, id)
	l.handlersMu.Unlock()
}

// snapshot returns the live handlers. Callers act on the copy so the
// registry lock is never held across handler calls.
func (l *TCPListener) snapshot() []*Handler {
	l.handlersMu.RLock()
	defer l.handlersMu.RUnlock()
	hs := make([]*Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		hs = append(hs, h)
	}
	return hs
}

// Close closes every live handler, shuts down the pool and stops
// accepting. It waits for the workers to exit.
func (l *TCPListener) Close() error {
	if l.closed.Swap(true) {
		return nil // Already closed
	}
	log := l.server.Spec.Log

	close(l.done)

	for _, h := range l.snapshot() {
		h.Close()
	}
	l.handlersMu.Lock()
	clear(l.handlers)
	l.handlersMu.Unlock()

	l.pool.Shutdown()

	if err := l.listener.Close(); err != nil {
		log.Error("error closing listener", "error", err)
	}

	l.pool.Wait()

	log.Info("TCP listener stopped")
	return nil
}

// HandlerCount returns the number of live handlers.
func (l *TCPListener) HandlerCount() int {
	l.handlersMu.RLock()
	defer l.handlersMu.RUnlock()
	return len(l.handlers)
}
