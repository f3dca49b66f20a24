package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signadot/dictd/api"
)

// ErrSessionClosed is returned by RoundTrip on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Session is one open connection to dictd. A Session is not safe for
// concurrent RoundTrips; callers serialize them. Close may be called from
// any goroutine and unblocks a RoundTrip in progress.
type Session struct {
	addr    string
	conn    net.Conn
	enc     *api.Encoder
	dec     *api.Decoder
	timeout atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial connects to addr, giving up after timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Session, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	s := &Session{
		addr: addr,
		conn: conn,
		enc:  api.NewEncoder(conn),
		dec:  api.NewDecoder(conn),
	}
	s.timeout.Store(int64(timeout))
	return s, nil
}

func (s *Session) Addr() string { return s.addr }

// SetTimeout sets the deadline applied to each RoundTrip. Zero means none.
func (s *Session) SetTimeout(d time.Duration) { s.timeout.Store(int64(d)) }

func (s *Session) Timeout() time.Duration { return time.Duration(s.timeout.Load()) }

// RoundTrip sends req and reads its response.
func (s *Session) RoundTrip(req *api.Request) (*api.Response, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if t := s.Timeout(); t > 0 {
		s.conn.SetDeadline(time.Now().Add(t))
	} else {
		s.conn.SetDeadline(time.Time{})
	}
	id, err := s.enc.EncodeRequest(req)
	if err != nil {
		return nil, s.wrap("send", err)
	}
	resp, rid, err := s.dec.DecodeResponse()
	if err != nil {
		return nil, s.wrap("receive", err)
	}
	if rid != id {
		return nil, s.wrap("receive", &api.ProtocolError{Reason: fmt.Sprintf("reply to call %v, want %v", rid, id)})
	}
	return resp, nil
}

func (s *Session) wrap(what string, err error) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Probe sends a heartbeat with timeout d. The previous timeout is restored
// whatever the outcome.
func (s *Session) Probe(d time.Duration) error {
	prev := s.Timeout()
	s.SetTimeout(d)
	defer s.SetTimeout(prev)

	resp, err := s.RoundTrip(api.Heartbeat())
	if err != nil {
		return err
	}
	if !resp.IsHeartbeat() {
		return fmt.Errorf("unexpected heartbeat response: %s %q", resp.Status, resp.Message)
	}
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}
