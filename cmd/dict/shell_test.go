package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"

	"github.com/signadot/dictd/api"
	"github.com/signadot/dictd/client"
	"github.com/signadot/dictd/server"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", []string{}},
		{"   ", []string{}},
		{"search cat", []string{"search", "cat"}},
		{"  add  cat\tfeline ", []string{"add", "cat", "feline"}},
		{`add cat "a small feline" 'house pet'`, []string{"add", "cat", "a small feline", "house pet"}},
		{`update cat "" x`, []string{"update", "cat", "", "x"}},
		{`add it\'s a\ b`, []string{"add", "it's", "a b"}},
		{`add 'back\slash'`, []string{"add", `back\slash`}},
		{`add "say \"hi\""`, []string{"add", `say "hi"`}},
		{`add cat "cats & dogs" 'a;b'`, []string{"add", "cat", "cats & dogs", "a;b"}},
		{`add café "naïve"`, []string{"add", "café", "naïve"}},
	}
	for _, tt := range tests {
		got, err := splitArgs(tt.line)
		if err != nil {
			t.Errorf("splitArgs(%q): %v", tt.line, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("splitArgs(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestSplitArgs_Errors(t *testing.T) {
	for _, line := range []string{`add "cat`, `add 'cat`, `add cat\`, `add cat a;b`, `add né cats & dogs`, `add cat (x)`} {
		if got, err := splitArgs(line); err == nil {
			t.Errorf("splitArgs(%q) = %q, want error", line, got)
		}
	}
}

func TestPrintResponse(t *testing.T) {
	color.NoColor = true
	tests := []struct {
		resp *api.Response
		want string
	}{
		{
			api.NewMeaningsResponse(api.StatusSuccess, "cat", []string{"feline", "pet"}),
			"cat\n  1. feline\n  2. pet\n",
		},
		{
			api.NewMessageResponse(api.StatusSuccess, "cat", "word added successfully"),
			"cat: word added successfully\n",
		},
		{
			api.NewMessageResponse(api.StatusWordNotFound, "dog", "word not found in dictionary"),
			"dog: word not found in dictionary (wordNotFound)\n",
		},
		{
			api.NewErrorResponse("", "a word is required"),
			"a word is required (error)\n",
		},
	}
	for _, tt := range tests {
		var sb strings.Builder
		printResponse(&sb, tt.resp)
		if got := sb.String(); got != tt.want {
			t.Errorf("printResponse(%+v) = %q, want %q", tt.resp, got, tt.want)
		}
	}
}

func startServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Dictionary = filepath.Join(t.TempDir(), "dictionary.txt")
	srv, err := server.Open(cfg, nil)
	if err != nil {
		t.Fatalf("open server: %v", err)
	}
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

type lockedBuilder struct {
	sh *shell
	sb *strings.Builder
}

func (b lockedBuilder) String() string {
	b.sh.mu.Lock()
	defer b.sh.mu.Unlock()
	return b.sb.String()
}

func newTestShell(t *testing.T, addr string) (*shell, lockedBuilder) {
	t.Helper()
	color.NoColor = true
	cfg := client.DefaultConfig()
	cfg.Addr = addr
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.ReconnectBase = 10 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond
	cfg.MaxManualAttempts = 1
	sb := &strings.Builder{}
	sh := newShell(sb, client.New(cfg))
	t.Cleanup(sh.sup.Close)
	return sh, lockedBuilder{sh: sh, sb: sb}
}

func TestShell_Exec(t *testing.T) {
	srv := startServer(t)
	sh, out := newTestShell(t, srv.Addr())
	ctx := context.Background()

	if !sh.sup.Connect(ctx) {
		t.Fatal("connect failed")
	}
	for _, line := range []string{
		`add Cat "a small feline"`,
		`addm cat 'house pet'`,
		`search CAT`,
	} {
		if quit, err := sh.exec(ctx, line); quit || err != nil {
			t.Fatalf("exec(%q) = %v, %v", line, quit, err)
		}
	}
	got := out.String()
	for _, want := range []string{
		"cat: word added successfully\n",
		"cat: meaning added successfully\n",
		"cat\n  1. a small feline\n  2. house pet\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q does not contain %q", got, want)
		}
	}

	if _, err := sh.exec(ctx, "search"); !errors.Is(err, errArgs) {
		t.Errorf("search without word: err = %v, want errArgs", err)
	}
	if _, err := sh.exec(ctx, "frobnicate"); err == nil {
		t.Error("unknown command accepted")
	}
	if quit, _ := sh.exec(ctx, "quit"); !quit {
		t.Error("quit did not end the shell")
	}
}

func TestShell_Disconnected(t *testing.T) {
	srv := startServer(t)
	addr := srv.Addr()
	srv.Stop()

	sh, _ := newTestShell(t, addr)
	ctx := context.Background()
	if _, err := sh.exec(ctx, "search cat"); !errors.Is(err, errNoResponse) {
		t.Errorf("search while down: err = %v, want errNoResponse", err)
	}
	if _, err := sh.exec(ctx, "auto maybe"); !errors.Is(err, errArgs) {
		t.Errorf("auto maybe: err = %v, want errArgs", err)
	}
}
