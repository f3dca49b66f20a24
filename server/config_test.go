package server

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/signadot/dictd/logging"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictd.yaml")
	err := os.WriteFile(path, []byte(`
addr: 0.0.0.0:4321
workers: 8
idleTimeout: 30s
log:
  level: debug
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := &Config{
		Addr:        "0.0.0.0:4321",
		Dictionary:  DefaultDictionary,
		Workers:     8,
		IdleTimeout: 30 * time.Second,
		Log:         &LogConfig{Level: "debug"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"workers": "workers: 0\n",
		"level":   "log:\n  level: shouting\n",
		"syntax":  "addr: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dictd.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLogConfig_Apply(t *testing.T) {
	var out bytes.Buffer
	hook := logging.New(&out, &out)
	off := false
	logFile := filepath.Join(t.TempDir(), "dictd.log")
	closeLog, err := (&LogConfig{Level: "warning", Console: &off, File: logFile}).Apply(hook)
	if err != nil {
		t.Fatal(err)
	}
	log := hook.Logger()
	log.Info("dropped")
	log.Warn("kept")
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}

	if hook.Level() != slog.LevelWarn || hook.ConsoleEcho() {
		t.Errorf("hook not configured: level=%v echo=%v", hook.Level(), hook.ConsoleEcho())
	}
	if out.Len() != 0 {
		t.Errorf("console output with echo off: %q", out.String())
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), "[WARNING] kept") {
		t.Errorf("log file = %q", data)
	}
}
