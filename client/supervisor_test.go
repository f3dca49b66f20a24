package client

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/signadot/dictd/api"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnConnected()       { r.add("connected") }
func (r *recorder) OnDisconnected()    { r.add("disconnected") }
func (r *recorder) OnReconnecting()    { r.add("reconnecting") }
func (r *recorder) OnReconnectFailed() { r.add("reconnect failed") }

func (r *recorder) OnStillFailing(attempt int, err error) {
	r.add(fmt.Sprintf("still failing %d", attempt))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) count(e string) int {
	n := 0
	for _, x := range r.snapshot() {
		if x == e {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func testConfig(addr string) *Config {
	return &Config{
		Addr:              addr,
		DialTimeout:       200 * time.Millisecond,
		RequestTimeout:    time.Second,
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  200 * time.Millisecond,
		ReconnectBase:     10 * time.Millisecond,
		ReconnectMax:      40 * time.Millisecond,
		MaxManualAttempts: 3,
	}
}

func newSupervisor(t *testing.T, cfg *Config) (*Supervisor, *recorder) {
	t.Helper()
	s := New(cfg)
	rec := &recorder{}
	s.AddListener(rec)
	t.Cleanup(s.Close)
	return s, rec
}

func TestSupervisor_ConnectSendDisconnect(t *testing.T) {
	srv := startServer(t, "127.0.0.1:0")
	s, rec := newSupervisor(t, testConfig(srv.Addr()))
	ctx := context.Background()

	if !s.Connect(ctx) {
		t.Fatal("connect failed")
	}
	if !s.Connect(ctx) {
		t.Error("connect while connected should report true")
	}
	if resp := s.SendRequest(ctx, api.Add("cat", "a small feline")); !resp.OK() {
		t.Fatalf("add: %+v", resp)
	}
	resp := s.SendRequest(ctx, api.Search("Cat"))
	if resp == nil || !cmp.Equal(resp.Meanings, []string{"a small feline"}) {
		t.Fatalf("search: %+v", resp)
	}
	if resp := s.SendRequest(ctx, api.Search("dog")); resp == nil || resp.Status != api.StatusWordNotFound {
		t.Fatalf("search dog: %+v", resp)
	}

	s.Disconnect()
	if s.IsConnected() {
		t.Error("still connected after Disconnect")
	}
	if resp := s.SendRequest(ctx, api.Search("cat")); resp != nil {
		t.Errorf("request after Disconnect got %+v", resp)
	}
	eventually(t, "disconnect notification", func() bool { return len(rec.snapshot()) == 2 })
	if diff := cmp.Diff([]string{"connected", "disconnected"}, rec.snapshot()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSupervisor_AutoConnectEventuallyConnects(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(addr)
	cfg.AutoConnect = true
	s, rec := newSupervisor(t, cfg)

	if s.Connect(context.Background()) {
		t.Fatal("connect to a closed port succeeded")
	}
	if st := s.State(); st != Reconnecting {
		t.Fatalf("state after failed auto connect = %v", st)
	}
	time.Sleep(100 * time.Millisecond)
	startServer(t, addr)

	eventually(t, "connection", s.IsConnected)
	eventually(t, "connected notification", func() bool { return rec.count("connected") == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := rec.count("connected"); n != 1 {
		t.Errorf("got %d connected notifications, want 1", n)
	}
	if n := rec.count("reconnecting"); n != 1 {
		t.Errorf("got %d reconnecting notifications, want 1: %v", n, rec.snapshot())
	}
}

func TestSupervisor_ServerKilledMidSession(t *testing.T) {
	addr := freeAddr(t)
	srv := startServer(t, addr)
	cfg := testConfig(addr)
	cfg.AutoConnect = true
	s, rec := newSupervisor(t, cfg)
	ctx := context.Background()

	if !s.Connect(ctx) {
		t.Fatal("connect failed")
	}
	srv.Stop()
	if resp := s.SendRequest(ctx, api.Search("cat")); resp != nil {
		t.Fatalf("got response from a stopped server: %+v", resp)
	}
	eventually(t, "reconnecting notification", func() bool { return rec.count("reconnecting") == 1 })
	if diff := cmp.Diff([]string{"connected", "disconnected", "reconnecting"}, rec.snapshot()[:3]); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if resp := s.SendRequest(ctx, api.Search("cat")); resp != nil {
		t.Errorf("request while reconnecting got %+v", resp)
	}

	if err := srv.Start(addr); err != nil {
		t.Fatalf("restart server: %v", err)
	}
	eventually(t, "reconnection", s.IsConnected)
	eventually(t, "second connected notification", func() bool { return rec.count("connected") == 2 })
	if resp := s.SendRequest(ctx, api.Heartbeat()); !resp.IsHeartbeat() {
		t.Errorf("heartbeat after reconnect: %+v", resp)
	}
}

func TestSupervisor_HeartbeatDetectsLoss(t *testing.T) {
	srv := startServer(t, "127.0.0.1:0")
	cfg := testConfig(srv.Addr())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	s, rec := newSupervisor(t, cfg)

	if !s.Connect(context.Background()) {
		t.Fatal("connect failed")
	}
	time.Sleep(60 * time.Millisecond)
	if !s.IsConnected() {
		t.Fatal("heartbeat dropped a healthy connection")
	}
	srv.Stop()
	eventually(t, "loss detection", func() bool { return s.State() == Disconnected })
	eventually(t, "notifications", func() bool { return len(rec.snapshot()) == 2 })
	if diff := cmp.Diff([]string{"connected", "disconnected"}, rec.snapshot()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSupervisor_ManualReconnectIsBounded(t *testing.T) {
	cfg := testConfig(freeAddr(t))
	cfg.StillFailingEvery = 2
	s, rec := newSupervisor(t, cfg)
	ctx := context.Background()

	if s.Connect(ctx) {
		t.Fatal("connect to a closed port succeeded")
	}
	if st := s.State(); st != Disconnected {
		t.Fatalf("state after failed manual connect = %v", st)
	}
	if resp := s.SendRequest(ctx, api.Search("cat")); resp != nil {
		t.Fatalf("got %+v", resp)
	}
	if st := s.State(); st != Disconnected {
		t.Errorf("state after bounded reconnect = %v", st)
	}
	want := []string{"reconnect failed", "reconnecting", "still failing 2", "reconnect failed"}
	eventually(t, "notifications", func() bool { return len(rec.snapshot()) == len(want) })
	if diff := cmp.Diff(want, rec.snapshot()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSupervisor_ManualReconnectForRequest(t *testing.T) {
	addr := freeAddr(t)
	srv := startServer(t, addr)
	s, rec := newSupervisor(t, testConfig(addr))
	ctx := context.Background()
	if !s.Connect(ctx) {
		t.Fatal("connect failed")
	}
	srv.Stop()
	if resp := s.SendRequest(ctx, api.Heartbeat()); resp != nil {
		t.Fatalf("got response from a stopped server: %+v", resp)
	}
	if err := srv.Start(addr); err != nil {
		t.Fatal(err)
	}
	if resp := s.SendRequest(ctx, api.Heartbeat()); !resp.IsHeartbeat() {
		t.Fatalf("request did not reconnect: %+v", resp)
	}
	want := []string{"connected", "disconnected", "reconnecting", "connected"}
	eventually(t, "notifications", func() bool { return len(rec.snapshot()) == len(want) })
	if diff := cmp.Diff(want, rec.snapshot()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSupervisor_SingleReconnectSequence(t *testing.T) {
	cfg := testConfig(freeAddr(t))
	cfg.AutoConnect = true
	s, rec := newSupervisor(t, cfg)
	ctx := context.Background()

	s.Connect(ctx)
	for range 5 {
		s.SetAutoConnect(true)
		s.Connect(ctx)
		s.SendRequest(ctx, api.Heartbeat())
	}
	time.Sleep(100 * time.Millisecond)
	if n := rec.count("reconnecting"); n != 1 {
		t.Errorf("got %d reconnect sequences, want 1: %v", n, rec.snapshot())
	}
}

func TestSupervisor_DisablingAutoConnectEndsSequence(t *testing.T) {
	cfg := testConfig(freeAddr(t))
	cfg.AutoConnect = true
	s, rec := newSupervisor(t, cfg)

	s.Connect(context.Background())
	s.SetAutoConnect(false)
	eventually(t, "sequence end", func() bool { return s.State() == Disconnected })
	eventually(t, "failure notification", func() bool { return rec.count("reconnect failed") == 1 })

	s.SetAutoConnect(true)
	eventually(t, "new sequence", func() bool { return rec.count("reconnecting") == 2 })
}

func TestSupervisor_DisablingAutoConnectSkipsBackoff(t *testing.T) {
	cfg := testConfig(freeAddr(t))
	cfg.AutoConnect = true
	cfg.ReconnectBase = 3 * time.Second
	cfg.ReconnectMax = 3 * time.Second
	s, rec := newSupervisor(t, cfg)

	s.Connect(context.Background())
	start := time.Now()
	s.SetAutoConnect(false)
	if st := s.State(); st != Disconnected {
		t.Fatalf("state after SetAutoConnect(false) = %v", st)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("sequence took %v to end", d)
	}
	want := []string{"reconnecting", "reconnect failed"}
	eventually(t, "notifications", func() bool { return len(rec.snapshot()) >= len(want) })
	time.Sleep(50 * time.Millisecond)
	if diff := cmp.Diff(want, rec.snapshot()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSupervisor_DisconnectStopsReconnecting(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(addr)
	cfg.AutoConnect = true
	s, rec := newSupervisor(t, cfg)

	s.Connect(context.Background())
	s.Disconnect()
	if st := s.State(); st != Disconnected {
		t.Fatalf("state after Disconnect = %v", st)
	}
	startServer(t, addr)
	time.Sleep(150 * time.Millisecond)
	if s.IsConnected() {
		t.Error("reconnected after an explicit Disconnect")
	}
	if n := rec.count("connected"); n != 0 {
		t.Errorf("got %d connected notifications", n)
	}
}

func TestSupervisor_ListenerPanicIsContained(t *testing.T) {
	srv := startServer(t, "127.0.0.1:0")
	s := New(testConfig(srv.Addr()))
	defer s.Close()
	s.AddListener(&ListenerFuncs{Connected: func() { panic("listener bug") }})
	rec := &recorder{}
	s.AddListener(rec)

	if !s.Connect(context.Background()) {
		t.Fatal("connect failed")
	}
	s.Disconnect()
	eventually(t, "notifications after panic", func() bool { return len(rec.snapshot()) == 2 })
}
