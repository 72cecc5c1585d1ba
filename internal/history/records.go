package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("history record not found")

// Run is one invocation chain sharing a run ID. Resumes reuse the row.
type Run struct {
	ID        string
	TaskFile  string
	Provider  string
	PID       int
	Status    string
	StartedAt time.Time
	UpdatedAt time.Time
}

// Attempt is one pre-hook, agent, post-hook pass.
type Attempt struct {
	ID                string
	RunID             string
	TaskID            string
	Attempt           int
	Outcome           string
	Decision          string
	Error             string
	InputTokens       int64
	OutputTokens      int64
	FingerprintBefore string
	FingerprintAfter  string
	Duration          time.Duration
	StartedAt         time.Time
}

// EventKind names operator-visible events.
type EventKind string

const (
	EventPause        EventKind = "pause"
	EventResume       EventKind = "resume"
	EventIntervention EventKind = "intervention"
	EventEscalation   EventKind = "escalation"
	EventInterrupted  EventKind = "interrupted"
	EventCompleted    EventKind = "completed"
)

// Event is a run-level occurrence that is not an attempt.
type Event struct {
	ID        string
	RunID     string
	TaskID    string
	Kind      EventKind
	Detail    string
	CreatedAt time.Time
}

// Filter narrows List queries. Zero values match everything.
type Filter struct {
	RunID  string
	TaskID string
	Limit  int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.TaskID != "" {
		conds = append(conds, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f Filter) limit() string {
	if f.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return ""
}

// StartRun inserts the run or, when it already exists, marks it active
// under the current process.
func (db *DB) StartRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, task_file, provider, pid, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			pid = excluded.pid,
			status = 'active',
			updated_at = excluded.updated_at
	`, r.ID, r.TaskFile, r.Provider, r.PID, formatTime(r.StartedAt), formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the run status the process exited with.
func (db *DB) FinishRun(id, status string, at time.Time) error {
	res, err := db.Exec(`UPDATE runs SET status = ?, pid = 0, updated_at = ? WHERE id = ?`,
		status, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, task_file, provider, pid, status, started_at, updated_at
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	rows, err := db.Query(`
		SELECT id, task_file, provider, pid, status, started_at, updated_at
		FROM runs ORDER BY updated_at DESC` + Filter{Limit: limit}.limit())
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var started, updated string
	if err := s.Scan(&r.ID, &r.TaskFile, &r.Provider, &r.PID, &r.Status, &started, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt, _ = parseTime(started)
	r.UpdatedAt, _ = parseTime(updated)
	return &r, nil
}

// RecordAttempt appends an attempt. An empty ID is filled with a new UUID.
func (db *DB) RecordAttempt(a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := db.Exec(`
		INSERT INTO attempts (id, run_id, task_id, attempt, outcome, decision, error,
			input_tokens, output_tokens, fingerprint_before, fingerprint_after, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.RunID, a.TaskID, a.Attempt, a.Outcome, a.Decision, a.Error,
		a.InputTokens, a.OutputTokens, a.FingerprintBefore, a.FingerprintAfter,
		a.Duration.Milliseconds(), formatTime(a.StartedAt))
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return db.touch(a.RunID, a.StartedAt.Add(a.Duration))
}

// ListAttempts returns attempts in the order they started, newest last.
// With a limit, the newest attempts are returned.
func (db *DB) ListAttempts(f Filter) ([]Attempt, error) {
	where, args := f.where()
	rows, err := db.Query(`
		SELECT * FROM (
			SELECT id, run_id, task_id, attempt, outcome, decision, error,
				input_tokens, output_tokens, fingerprint_before, fingerprint_after, duration_ms, started_at
			FROM attempts`+where+` ORDER BY started_at DESC, attempt DESC`+f.limit()+`
		) ORDER BY started_at ASC, attempt ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var ms int64
		var started string
		if err := rows.Scan(&a.ID, &a.RunID, &a.TaskID, &a.Attempt, &a.Outcome, &a.Decision, &a.Error,
			&a.InputTokens, &a.OutputTokens, &a.FingerprintBefore, &a.FingerprintAfter, &ms, &started); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Duration = time.Duration(ms) * time.Millisecond
		a.StartedAt, _ = parseTime(started)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordEvent appends an event. An empty ID is filled with a new UUID.
func (db *DB) RecordEvent(e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := db.Exec(`
		INSERT INTO events (id, run_id, task_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.RunID, e.TaskID, string(e.Kind), e.Detail, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return db.touch(e.RunID, e.CreatedAt)
}

// ListEvents returns events oldest first.
func (db *DB) ListEvents(f Filter) ([]Event, error) {
	where, args := f.where()
	rows, err := db.Query(`
		SELECT * FROM (
			SELECT id, run_id, task_id, kind, detail, created_at
			FROM events`+where+` ORDER BY created_at DESC`+f.limit()+`
		) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind, created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.TaskID, &kind, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = EventKind(kind)
		e.CreatedAt, _ = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) touch(runID string, at time.Time) error {
	if _, err := db.Exec(`UPDATE runs SET updated_at = MAX(updated_at, ?) WHERE id = ?`, formatTime(at), runID); err != nil {
		return fmt.Errorf("touch run: %w", err)
	}
	return nil
}
