// Package client is the dictd client: a single connection Session and a
// Supervisor that keeps one alive, with heartbeats, reconnection and
// lifecycle notifications.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/signadot/dictd/api"
)

// State is the connection state of a Supervisor.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Supervisor owns the connection to dictd.
//
// Requests and heartbeats share the connection under ioMu. State
// transitions happen under mu; the notifications they produce are queued
// under mu and delivered later by the notifier, outside any lock.
type Supervisor struct {
	cfg   Config
	log   *slog.Logger
	notes *notifier

	ioMu sync.Mutex

	mu          sync.Mutex
	state       State
	sess        *Session
	hbStop      chan struct{}
	autoConnect bool
	// pending is the connect or reconnect sequence in flight, if any.
	pending *attempt
	// userDisconnected is set by Disconnect and cleared by Connect; it
	// suppresses reconnection.
	userDisconnected bool
	// lost is set when the connection dropped or a reconnect gave up.
	lost   bool
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// attempt identifies one connect or reconnect sequence.
type attempt struct {
	cancel context.CancelFunc
	// auto marks the unbounded background sequence.
	auto bool
}

// New returns a disconnected Supervisor. Nothing is dialed until Connect
// or SendRequest.
func New(cfg *Config) *Supervisor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := cfg.withDefaults()
	log := c.Log.With("component", "client", "addr", c.Addr)
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:         c,
		log:         log,
		notes:       newNotifier(log),
		autoConnect: c.AutoConnect,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// AddListener registers l for lifecycle notifications.
func (s *Supervisor) AddListener(l Listener) {
	s.notes.add(l)
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) IsConnected() bool {
	return s.State() == Connected
}

func (s *Supervisor) AutoConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoConnect
}

// SetAutoConnect turns automatic reconnection on or off. Turning it on
// after the connection was lost starts reconnecting; turning it off ends a
// running automatic sequence at once, without waiting out its backoff.
func (s *Supervisor) SetAutoConnect(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoConnect = on
	if on && s.state == Disconnected && s.lost && !s.userDisconnected && !s.closed {
		s.beginReconnectLocked()
	}
	if !on && s.pending != nil && s.pending.auto {
		s.stopReconnectLocked()
		s.state = Disconnected
		s.lost = true
		s.notes.push(event{kind: evReconnectFailed})
		s.log.Warn("reconnect failed", "reason", "auto-connect disabled")
	}
}

// Connect dials the server. It reports whether the supervisor is
// connected when it returns. On failure with auto-connect on, a background
// reconnect sequence is started.
func (s *Supervisor) Connect(ctx context.Context) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	switch s.state {
	case Connected:
		s.mu.Unlock()
		return true
	case Connecting, Reconnecting:
		s.mu.Unlock()
		return false
	}
	s.userDisconnected = false
	s.state = Connecting
	actx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	a := &attempt{cancel: cancel}
	s.pending = a
	s.mu.Unlock()
	defer stop()
	defer cancel()

	sess, err := s.dial(actx)
	if err == nil {
		if s.install(actx, a, sess) {
			return true
		}
		sess.Close()
	} else {
		s.log.Warn("connect failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != a {
		return false
	}
	s.pending = nil
	s.lost = true
	if s.autoConnect && !s.closed {
		s.beginReconnectLocked()
		return false
	}
	s.state = Disconnected
	s.notes.push(event{kind: evReconnectFailed})
	return false
}

// Disconnect closes the connection and stops any reconnect sequence. The
// supervisor stays disconnected until the next Connect.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
}

func (s *Supervisor) disconnectLocked() {
	s.userDisconnected = true
	s.lost = false
	s.stopReconnectLocked()
	if s.state == Disconnected {
		return
	}
	if s.state == Connected {
		s.dropLocked()
	}
	s.state = Disconnected
	s.notes.push(event{kind: evDisconnected})
	s.log.Info("disconnected")
}

// Close disconnects and releases the supervisor's goroutines. A closed
// supervisor cannot be reconnected.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.disconnectLocked()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.notes.close()
}

// SendRequest sends req and returns the server's response, or nil when no
// response could be obtained. While disconnected with auto-connect off it
// first tries a bounded reconnect; with auto-connect on it leaves
// reconnection to the background sequence and returns nil.
func (s *Supervisor) SendRequest(ctx context.Context, req *api.Request) *api.Response {
	if req == nil {
		return nil
	}
	sess := s.current()
	if sess == nil {
		if !s.reconnectForRequest(ctx) {
			return nil
		}
		if sess = s.current(); sess == nil {
			return nil
		}
	}

	s.ioMu.Lock()
	resp, err := sess.RoundTrip(req)
	s.ioMu.Unlock()
	if err != nil {
		s.log.Warn("request failed", "op", req.Op, "error", err)
		s.failure(sess)
		return nil
	}
	return resp
}

func (s *Supervisor) current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil
	}
	return s.sess
}

func (s *Supervisor) dial(ctx context.Context) (*Session, error) {
	sess, err := Dial(ctx, s.cfg.Addr, s.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	sess.SetTimeout(s.cfg.RequestTimeout)
	return sess, nil
}

// install makes sess the current connection, unless the attempt that
// produced it is no longer the one in flight.
func (s *Supervisor) install(ctx context.Context, a *attempt, sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending != a || ctx.Err() != nil {
		return false
	}
	s.pending = nil
	s.sess = sess
	s.state = Connected
	s.lost = false
	stop := make(chan struct{})
	s.hbStop = stop
	s.notes.push(event{kind: evConnected})
	s.wg.Go(func() { s.heartbeat(sess, stop) })
	s.log.Info("connected")
	return true
}

// dropLocked tears down the current connection.
func (s *Supervisor) dropLocked() {
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
}

// failure handles an I/O failure on sess. Reports about a session that is
// no longer current are ignored.
func (s *Supervisor) failure(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != sess || s.state != Connected {
		return
	}
	s.dropLocked()
	s.state = Disconnected
	s.lost = true
	s.notes.push(event{kind: evDisconnected})
	s.log.Warn("connection lost")
	if s.autoConnect && !s.closed && !s.userDisconnected {
		s.beginReconnectLocked()
	}
}

func (s *Supervisor) stopReconnectLocked() {
	if s.pending != nil {
		s.pending.cancel()
		s.pending = nil
	}
}

// beginReconnectLocked starts the background reconnect sequence unless
// one is already running.
func (s *Supervisor) beginReconnectLocked() {
	if s.pending != nil {
		return
	}
	s.state = Reconnecting
	ctx, cancel := context.WithCancel(s.ctx)
	a := &attempt{cancel: cancel, auto: true}
	s.pending = a
	s.notes.push(event{kind: evReconnecting})
	s.log.Info("reconnecting")
	s.wg.Go(func() {
		defer cancel()
		s.reconnectLoop(ctx, a, false)
	})
}

// reconnectForRequest runs a bounded reconnect sequence on the calling
// goroutine. It is a no-op while another sequence is running or while
// auto-connect is in charge.
func (s *Supervisor) reconnectForRequest(ctx context.Context) bool {
	s.mu.Lock()
	if s.closed || s.userDisconnected || s.pending != nil || s.autoConnect || s.state != Disconnected {
		s.mu.Unlock()
		return false
	}
	s.state = Reconnecting
	rctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	a := &attempt{cancel: cancel}
	s.pending = a
	s.notes.push(event{kind: evReconnecting})
	s.log.Info("reconnecting", "maxAttempts", s.cfg.MaxManualAttempts)
	s.mu.Unlock()
	defer stop()
	defer cancel()

	return s.reconnectLoop(rctx, a, true)
}

func (s *Supervisor) newBackOff(bounded bool) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.ReconnectBase
	eb.MaxInterval = s.cfg.ReconnectMax
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxElapsedTime = 0
	eb.Reset()
	if bounded {
		return backoff.WithMaxRetries(eb, uint64(s.cfg.MaxManualAttempts-1))
	}
	return eb
}

// reconnectLoop dials until it succeeds, ctx is cancelled or the policy
// gives up. A bounded loop stops after MaxManualAttempts attempts; an
// unbounded one stops when auto-connect is turned off.
func (s *Supervisor) reconnectLoop(ctx context.Context, a *attempt, bounded bool) bool {
	b := s.newBackOff(bounded)
	for n := 1; ; n++ {
		if !bounded && !s.AutoConnect() {
			s.giveUp(a, n-1, "auto-connect disabled")
			return false
		}
		sess, err := s.dial(ctx)
		if err == nil {
			if s.install(ctx, a, sess) {
				s.log.Info("reconnected", "attempt", n)
				return true
			}
			sess.Close()
			s.giveUp(a, n, "cancelled")
			return false
		}
		if ctx.Err() != nil {
			s.giveUp(a, n, "cancelled")
			return false
		}
		s.log.Debug("reconnect attempt failed", "attempt", n, "error", err)
		if every := s.cfg.StillFailingEvery; every > 0 && n%every == 0 {
			s.log.Warn("still unable to reconnect", "attempts", n, "error", err)
			s.notes.push(event{kind: evStillFailing, attempt: n, err: err})
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			s.giveUp(a, n, "attempt limit reached")
			return false
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.giveUp(a, n, "cancelled")
			return false
		case <-t.C:
		}
	}
}

// giveUp ends sequence a. It does nothing if a was already ended by
// Disconnect or Close.
func (s *Supervisor) giveUp(a *attempt, attempts int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != a {
		return
	}
	s.stopReconnectLocked()
	s.state = Disconnected
	s.lost = true
	s.notes.push(event{kind: evReconnectFailed})
	s.log.Warn("reconnect failed", "attempts", attempts, "reason", reason)
}

// heartbeat probes sess every HeartbeatInterval until stop is closed.
func (s *Supervisor) heartbeat(sess *Session, stop <-chan struct{}) {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		s.ioMu.Lock()
		select {
		case <-stop:
			s.ioMu.Unlock()
			return
		default:
		}
		err := sess.Probe(s.cfg.HeartbeatTimeout)
		s.ioMu.Unlock()
		if err != nil {
			s.log.Warn("heartbeat failed", "error", err)
			s.failure(sess)
			return
		}
		s.log.Debug("heartbeat ok")
	}
}
