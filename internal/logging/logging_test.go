package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
}

func TestNew_WritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{Dir: dir, Now: fixedNow})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Info("task started", "task", "a")
	l.Debug("hidden at info level")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := filepath.Join(dir, "taskmaster-2026-02-03.log")
	if l.Path() != want {
		t.Errorf("Path() = %q, want %q", l.Path(), want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "task started") || !strings.Contains(string(data), "task=a") {
		t.Errorf("log missing entry: %s", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("debug entry written at info level")
	}
}

func TestNew_VerboseTeesJSON(t *testing.T) {
	var stderr bytes.Buffer
	l, err := New(Options{Dir: t.TempDir(), Format: "json", Verbose: true, Stderr: &stderr, Now: fixedNow})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Debug("probe", "n", 1)
	if !strings.Contains(stderr.String(), `"msg":"probe"`) {
		t.Errorf("stderr = %q, want JSON debug entry", stderr.String())
	}
}

func TestNew_NoOutputs(t *testing.T) {
	l, err := New(Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("dropped")
	if err := l.Close(); err != nil {
		t.Errorf("Close on fileless logger: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestCloseNil(t *testing.T) {
	var l *Logger
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil logger: %v", err)
	}
}
