package client

import (
	"log/slog"
	"sync"
)

// Listener receives connection lifecycle notifications. Callbacks run on a
// single dispatch goroutine, in the order of the transitions that caused
// them, and never while the supervisor holds a lock.
type Listener interface {
	OnConnected()
	OnDisconnected()
	OnReconnecting()
	OnReconnectFailed()
}

// StillFailingListener is implemented by listeners that also want to hear,
// periodically, that a reconnect sequence keeps failing.
type StillFailingListener interface {
	OnStillFailing(attempt int, err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Connected       func()
	Disconnected    func()
	Reconnecting    func()
	ReconnectFailed func()
	StillFailing    func(attempt int, err error)
}

func (f *ListenerFuncs) OnConnected()       { call(f.Connected) }
func (f *ListenerFuncs) OnDisconnected()    { call(f.Disconnected) }
func (f *ListenerFuncs) OnReconnecting()    { call(f.Reconnecting) }
func (f *ListenerFuncs) OnReconnectFailed() { call(f.ReconnectFailed) }

func (f *ListenerFuncs) OnStillFailing(attempt int, err error) {
	if f.StillFailing != nil {
		f.StillFailing(attempt, err)
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

type eventKind int

const (
	evConnected eventKind = iota
	evDisconnected
	evReconnecting
	evReconnectFailed
	evStillFailing
)

func (k eventKind) String() string {
	switch k {
	case evConnected:
		return "connected"
	case evDisconnected:
		return "disconnected"
	case evReconnecting:
		return "reconnecting"
	case evReconnectFailed:
		return "reconnect failed"
	}
	return "still failing"
}

type event struct {
	kind    eventKind
	attempt int
	err     error
}

// notifier queues events without blocking the producer and delivers them
// to listeners from one goroutine.
type notifier struct {
	log *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []event
	listeners []Listener
	closed    bool
	done      chan struct{}
}

func newNotifier(log *slog.Logger) *notifier {
	n := &notifier{log: log, done: make(chan struct{})}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *notifier) add(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// push never blocks, so it may be called with other locks held.
func (n *notifier) push(ev event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, ev)
	n.cond.Signal()
}

// close stops the dispatcher once queued events are delivered.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		ev := n.queue[0]
		n.queue = n.queue[1:]
		ls := append([]Listener(nil), n.listeners...)
		n.mu.Unlock()

		for _, l := range ls {
			n.deliver(l, ev)
		}
	}
}

func (n *notifier) deliver(l Listener, ev event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("listener panicked", "event", ev.kind.String(), "panic", r)
		}
	}()
	switch ev.kind {
	case evConnected:
		l.OnConnected()
	case evDisconnected:
		l.OnDisconnected()
	case evReconnecting:
		l.OnReconnecting()
	case evReconnectFailed:
		l.OnReconnectFailed()
	case evStillFailing:
		if sl, ok := l.(StillFailingListener); ok {
			sl.OnStillFailing(ev.attempt, ev.err)
		}
	}
}
