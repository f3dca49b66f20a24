// Package logging provides the process-wide logging hook shared by dictd
// and dict.
//
// A Hook is an slog.Handler with a settable minimum level, an optional
// console echo, an optional file mirror and a single observer sink that
// receives every emitted line. Components log through *slog.Logger values
// obtained from Hook.Logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Sink observes formatted log lines. It must not block for long; it is
// called synchronously on the logging goroutine.
type Sink func(level slog.Level, line string)

// Hook routes log records to the console, a file and a sink.
type Hook struct {
	level slog.LevelVar
	echo  atomic.Bool
	sink  atomic.Pointer[Sink]

	mu      sync.Mutex
	stdout  io.Writer
	stderr  io.Writer
	file    io.Writer
	colored bool
	now     func() time.Time
}

// New returns a Hook echoing to stdout and stderr. Errors go to stderr.
// Level tags are colored only when stdout is a terminal.
func New(stdout, stderr io.Writer) *Hook {
	h := &Hook{
		stdout:  stdout,
		stderr:  stderr,
		colored: isTerminal(stdout),
		now:     time.Now,
	}
	h.echo.Store(true)
	h.level.Set(slog.LevelInfo)
	return h
}

var defaultHook = sync.OnceValue(func() *Hook {
	h := New(os.Stdout, os.Stderr)
	h.SetLevel(LevelFromEnv())
	return h
})

// Default returns the process-wide hook.
func Default() *Hook { return defaultHook() }

// LevelFromEnv returns Debug when DEBUG is set in the environment and Info
// otherwise.
func LevelFromEnv() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// ParseLevel accepts error, warning (or warn), info and debug, in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func (h *Hook) SetLevel(l slog.Level) { h.level.Set(l) }
func (h *Hook) Level() slog.Level     { return h.level.Level() }

// SetConsoleEcho turns console output on or off.
func (h *Hook) SetConsoleEcho(on bool) { h.echo.Store(on) }
func (h *Hook) ConsoleEcho() bool      { return h.echo.Load() }

// SetSink installs the observer sink; nil removes it.
func (h *Hook) SetSink(s Sink) {
	if s == nil {
		h.sink.Store(nil)
		return
	}
	h.sink.Store(&s)
}

// SetFile mirrors every line, uncolored, to w; nil turns the mirror off.
func (h *Hook) SetFile(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.file = w
}

// Handler returns an slog.Handler feeding this hook.
func (h *Hook) Handler() slog.Handler { return &handler{hook: h} }

// Logger returns a logger feeding this hook.
func (h *Hook) Logger() *slog.Logger { return slog.New(h.Handler()) }

func (h *Hook) emit(level slog.Level, body string) {
	stamp := h.now().Format("2006-01-02 15:04:05.000")
	tag := levelTag(level)

	h.mu.Lock()
	if h.echo.Load() {
		w := h.stdout
		if level >= slog.LevelError {
			w = h.stderr
		}
		colTag := tag
		if h.colored {
			colTag = levelColor(level).Sprint(tag)
		}
		fmt.Fprintf(w, "%s [%s] %s\n", stamp, colTag, body)
	}
	if h.file != nil {
		fmt.Fprintf(h.file, "%s [%s] %s\n", stamp, tag, body)
	}
	h.mu.Unlock()

	if sp := h.sink.Load(); sp != nil {
		h.deliver(*sp, level, fmt.Sprintf("[%s] %s", tag, body))
	}
}

// deliver calls the sink, containing any panic it raises.
func (h *Hook) deliver(s Sink, level slog.Level, line string) {
	defer func() {
		if r := recover(); r != nil {
			h.mu.Lock()
			fmt.Fprintf(h.stderr, "logging sink panic: %v\n", r)
			h.mu.Unlock()
		}
	}()
	s(level, line)
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

func levelColor(l slog.Level) *color.Color {
	var c *color.Color
	switch {
	case l >= slog.LevelError:
		c = color.New(color.FgRed, color.Bold)
	case l >= slog.LevelWarn:
		c = color.New(color.FgYellow)
	case l >= slog.LevelInfo:
		c = color.New(color.FgGreen)
	default:
		c = color.New(color.FgHiBlack)
	}
	c.EnableColor()
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type handler struct {
	hook   *Hook
	prefix string // rendered attrs from WithAttrs
	group  string
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.hook.level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)
	sb.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&sb, h.group, a)
		return true
	})
	h.hook.emit(r.Level, sb.String())
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var sb strings.Builder
	sb.WriteString(h.prefix)
	for _, a := range attrs {
		appendAttr(&sb, h.group, a)
	}
	return &handler{hook: h.hook, prefix: sb.String(), group: h.group}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &handler{hook: h.hook, prefix: h.prefix, group: g}
}

func appendAttr(sb *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(sb, key, ga)
		}
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteByte('=')
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	sb.WriteString(v)
}
