package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ShayCichocki/taskmaster/internal/config"
	"github.com/ShayCichocki/taskmaster/internal/protect"
	"github.com/ShayCichocki/taskmaster/internal/runner"
	"github.com/ShayCichocki/taskmaster/internal/state"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"configuration", &runner.ConfigurationError{Err: errors.New("bad hook")}, exitConfigError},
		{"wrapped configuration", fmt.Errorf("run: %w", runner.ErrConfiguration), exitConfigError},
		{"corrupted state", &state.CorruptedError{Path: "state.json", Err: errors.New("eof")}, exitConfigError},
		{"mismatch", &state.MismatchError{Path: "state.json"}, exitConfigError},
		{"invalid config", fmt.Errorf("%w: providers", config.ErrInvalidConfig), exitConfigError},
		{"aborted", fmt.Errorf("%w: 5 in a row", runner.ErrConsecutiveFailureLimitExceeded), exitFailure},
		{"other", errors.New("disk full"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h05m"},
		{72 * time.Hour, "3d00h"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("post-hook failed\nmore", 80); got != "post-hook failed" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("abcdefgh", 5); got != "abcd…" {
		t.Errorf("firstLine truncated = %q", got)
	}
}

func TestCeiling(t *testing.T) {
	if got := ceiling(3, 0); got != "3/-" {
		t.Errorf("ceiling(3, 0) = %q", got)
	}
	if got := ceiling(3, 10); got != "3/10" {
		t.Errorf("ceiling(3, 10) = %q", got)
	}
}

func TestResolveDir(t *testing.T) {
	assert.Equal(t, "/work/.state", resolveDir("/work", ".state"))
	assert.Equal(t, "/work/var/logs", resolveDir("/work", "var/logs/"))
	assert.Equal(t, "/tmp/logs", resolveDir("/work", "/tmp/logs"))
	assert.Equal(t, "", resolveDir("/work", ""))
}

func TestProtectDir(t *testing.T) {
	g := protect.New()
	protectDir(g, "/work", "state")
	protectDir(g, "/work", "/work/logs/run")
	protectDir(g, "/work", "/tmp/elsewhere")

	assert.ErrorIs(t, g.Check("state/state.json"), protect.ErrProtected)
	assert.ErrorIs(t, g.Check("logs/run/hooks.log"), protect.ErrProtected)
	assert.NoError(t, g.Check("logs/other.log"))
	assert.NoError(t, g.Check("tmp/elsewhere/x"))
}
