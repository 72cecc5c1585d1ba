package history

import (
	"io"
	"time"
)

// Recorder is the write side used while a run executes.
type Recorder interface {
	StartRun(r *Run) error
	FinishRun(id, status string, at time.Time) error
	RecordAttempt(a *Attempt) error
	RecordEvent(e *Event) error
}

// Reader is the query side used by the CLI.
type Reader interface {
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	ListAttempts(f Filter) ([]Attempt, error)
	ListEvents(f Filter) ([]Event, error)
}

// Store composes the full history backend.
type Store interface {
	io.Closer
	Recorder
	Reader
	Migrate() error
}

// Nop discards everything. Used when history is unavailable.
type Nop struct{}

func (Nop) StartRun(*Run) error { return nil }
func (Nop) FinishRun(string, string, time.Time) error { return nil }
func (Nop) RecordAttempt(*Attempt) error { return nil }
func (Nop) RecordEvent(*Event) error { return nil }

var (
	_ Store    = (*DB)(nil)
	_ Recorder = Nop{}
)
