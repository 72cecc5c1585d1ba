// Package logging builds the process logger: a dated file under the log
// directory, optionally teed to stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Options configures New.
type Options struct {
	// Dir is the log directory. Empty disables the file.
	Dir string
	// Level is debug, info, warn or error. Defaults to info.
	Level string
	// Format is text or json. Defaults to text.
	Format string
	// Verbose tees output to Stderr at debug level.
	Verbose bool
	Stderr  io.Writer
	Now     func() time.Time
}

// Logger owns the log file behind a *slog.Logger.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
	path string
}

// New opens <dir>/taskmaster-<date>.log for appending.
func New(opts Options) (*Logger, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	l := &Logger{}
	var writers []io.Writer

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		l.path = filepath.Join(opts.Dir, "taskmaster-"+opts.Now().Format("2006-01-02")+".log")
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		writers = append(writers, f)
	}
	if opts.Verbose {
		level = slog.LevelDebug
		writers = append(writers, opts.Stderr)
	}

	if len(writers) == 0 {
		l.Logger = Discard()
		return l, nil
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	w := io.MultiWriter(writers...)
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	l.Logger = slog.New(h)
	return l, nil
}

// Path returns the log file path, or "" when logging to a file is off.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the log file.
// Safe to call on nil logger or logger without file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.file.Close()
	l.file = nil
	return err
}

// ParseLevel maps a level name to a slog.Level. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
