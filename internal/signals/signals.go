// Package signals implements file-based control of a running taskmaster
// process: a stop file interrupts the current attempt, a pause file ends the
// run after it.
package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DirName is the signals directory inside the state directory.
	DirName = "signals"
	// StopFile requests an immediate, clean interruption.
	StopFile = "stop"
	// PauseFile requests a pause once the current attempt finishes.
	PauseFile = "pause"
)

var (
	// ErrStopRequested is the cancellation cause when the stop file appears.
	ErrStopRequested = errors.New("stop requested via control file")
	// ErrPauseRequested is reported when the pause file is honored.
	ErrPauseRequested = errors.New("pause requested via control file")
)

// Watcher tracks the control files of one state directory.
type Watcher struct {
	dir string

	mu          sync.RWMutex
	stopSignal  bool
	pauseSignal bool
	cancel      context.CancelCauseFunc

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// Dir returns the signals directory for a state directory.
func Dir(stateDir string) string {
	return filepath.Join(stateDir, DirName)
}

// New creates the signals directory and starts watching it. When the
// platform watcher is unavailable the file checks in ShouldStop and
// ShouldPause still work.
func New(stateDir string) (*Watcher, error) {
	dir := Dir(stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{dir: dir, done: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return w, nil
	}
	w.watcher = watcher

	go w.watch()
	return w, nil
}

// Bind makes a stop signal cancel ctx with ErrStopRequested. A stop file
// already present cancels immediately.
func (w *Watcher) Bind(cancel context.CancelCauseFunc) {
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	if w.ShouldStop() {
		cancel(ErrStopRequested)
	}
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			switch filepath.Base(event.Name) {
			case StopFile:
				w.mu.Lock()
				w.stopSignal = true
				cancel := w.cancel
				w.mu.Unlock()
				if cancel != nil {
					cancel(ErrStopRequested)
				}
			case PauseFile:
				w.mu.Lock()
				w.pauseSignal = true
				w.mu.Unlock()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// ShouldStop returns true if a stop signal has been received.
func (w *Watcher) ShouldStop() bool {
	return w.check(StopFile, &w.stopSignal)
}

// ShouldPause returns true if a pause signal has been received.
func (w *Watcher) ShouldPause() bool {
	return w.check(PauseFile, &w.pauseSignal)
}

func (w *Watcher) check(name string, flag *bool) bool {
	// The watcher may miss events on some filesystems.
	if _, err := os.Stat(filepath.Join(w.dir, name)); err == nil {
		w.mu.Lock()
		*flag = true
		w.mu.Unlock()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return *flag
}

// Clear removes all signal files and resets signal state.
func (w *Watcher) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopSignal = false
	w.pauseSignal = false
	return clearFiles(w.dir)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

// SendStop writes the stop file for the process using stateDir.
func SendStop(stateDir string, now time.Time) error {
	return send(stateDir, StopFile, now)
}

// SendPause writes the pause file for the process using stateDir.
func SendPause(stateDir string, now time.Time) error {
	return send(stateDir, PauseFile, now)
}

// ClearDir removes leftover signal files without a running watcher.
func ClearDir(stateDir string) error {
	return clearFiles(Dir(stateDir))
}

func send(stateDir, name string, now time.Time) error {
	dir := Dir(stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(now.Format(time.RFC3339)), 0644)
}

func clearFiles(dir string) error {
	var errs []error
	for _, name := range []string{StopFile, PauseFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
