package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ShayCichocki/taskmaster/internal/ratelimit"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// FileName is the state file inside the state directory.
const FileName = "state.json"

// Store reads and writes the RunState snapshot. It assumes a single writer;
// running two runners against the same directory is unsupported.
type Store struct {
	fs    afero.Fs
	path  string
	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	last *RunState
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates a store for dir/state.json on the given filesystem.
func NewStore(fsys afero.Fs, dir string, opts ...Option) *Store {
	s := &Store{
		fs:    fsys,
		path:  filepath.Join(dir, FileName),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the canonical state file path.
func (s *Store) Path() string {
	return s.path
}

// Read loads the state without checking it against a task file.
func (s *Store) Read() (*RunState, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading run state: %w", err)
	}

	st, err := decode(data)
	if err != nil {
		return nil, &CorruptedError{Path: s.path, Err: err}
	}

	s.mu.Lock()
	s.last = st.Clone()
	s.mu.Unlock()
	return st, nil
}

// Load reads the state and verifies it was built from the same task IDs.
func (s *Store) Load(id Identity) (*RunState, error) {
	st, err := s.Read()
	if err != nil {
		return nil, err
	}
	if !st.Matches(id) {
		return nil, &MismatchError{Path: s.path, Stored: st.TaskIDs, Current: id.TaskIDs}
	}
	return st, nil
}

// Create writes a fresh state for the task file, replacing any existing one.
func (s *Store) Create(id Identity) (*RunState, error) {
	st := New(id, s.newID(), s.now())
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

// LoadOrCreate resumes a matching state, or creates one when none exists or
// fresh is set. resumed reports whether prior state was used.
func (s *Store) LoadOrCreate(id Identity, fresh bool) (st *RunState, resumed bool, err error) {
	if !fresh {
		st, err = s.Load(id)
		if err == nil {
			return st, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	st, err = s.Create(id)
	return st, false, err
}

// Save atomically replaces the state file with a snapshot of st. Saving a
// state that drops completed tasks or moves the index backwards within the
// same run is refused.
func (s *Store) Save(st *RunState) error {
	if err := validate(st); err != nil {
		return fmt.Errorf("refusing to save invalid state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.last; prev != nil && prev.RunID == st.RunID {
		if st.CurrentTaskIndex < prev.CurrentTaskIndex {
			return fmt.Errorf("%w: current_task_index %d -> %d", ErrRegression, prev.CurrentTaskIndex, st.CurrentTaskIndex)
		}
		for _, id := range prev.CompletedTaskIDs {
			if !slices.Contains(st.CompletedTaskIDs, id) {
				return fmt.Errorf("%w: completed task %s dropped", ErrRegression, id)
			}
		}
	}

	data, err := encode(st)
	if err != nil {
		return fmt.Errorf("encoding run state: %w", err)
	}
	if err := s.writeAtomic(data); err != nil {
		return err
	}
	s.last = st.Clone()
	return nil
}

// RecordAttempt folds an attempt outcome into st and saves the result.
func (s *Store) RecordAttempt(st *RunState, o AttemptOutcome) (*RunState, error) {
	next, err := st.WithAttempt(o, s.now())
	if err != nil {
		return nil, err
	}
	return next, s.Save(next)
}

// RecordRateLimitUsage stores a provider's usage snapshot and saves.
func (s *Store) RecordRateLimitUsage(st *RunState, provider string, usage ratelimit.Usage) (*RunState, error) {
	next := st.WithRateLimitUsage(provider, usage, s.now())
	return next, s.Save(next)
}

// RecordIntervention stores a human decision for an escalated task and saves.
func (s *Store) RecordIntervention(st *RunState, taskID string, decision models.Intervention) (*RunState, error) {
	next, err := st.WithIntervention(taskID, decision, s.now())
	if err != nil {
		return nil, err
	}
	return next, s.Save(next)
}

// RecordResolution applies a recorded decision and saves.
func (s *Store) RecordResolution(st *RunState, taskID string) (*RunState, error) {
	next, err := st.WithResolution(taskID, s.now())
	if err != nil {
		return nil, err
	}
	return next, s.Save(next)
}

// RecordPause stops the run in a resumable state and saves.
func (s *Store) RecordPause(st *RunState, status RunStatus, reason string, until *time.Time, usage map[string]ratelimit.Usage) (*RunState, error) {
	next, err := st.WithPause(status, reason, until, usage, s.now())
	if err != nil {
		return nil, err
	}
	return next, s.Save(next)
}

// RecordResume marks the run active again and saves.
func (s *Store) RecordResume(st *RunState) (*RunState, error) {
	next := st.WithResume(s.now())
	return next, s.Save(next)
}

// writeAtomic writes data to a temp file beside the state file and renames
// it into place, so readers see either the old or the new snapshot.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}

	syncDir(s.fs, dir)
	return nil
}

// syncDir flushes the directory entry after a rename on real filesystems.
func syncDir(fsys afero.Fs, dir string) {
	if _, ok := fsys.(*afero.OsFs); !ok {
		return
	}
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func encode(st *RunState) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decode(data []byte) (*RunState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("file is empty")
	}
	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if err := validate(&st); err != nil {
		return nil, err
	}
	if st.Tasks == nil {
		st.Tasks = map[string]TaskProgress{}
	}
	if st.RateLimits == nil {
		st.RateLimits = map[string]ratelimit.Usage{}
	}
	return &st, nil
}

// validate checks the structural invariants of a state.
func validate(st *RunState) error {
	switch {
	case st.Version != SchemaVersion:
		return fmt.Errorf("unsupported schema version %d", st.Version)
	case st.RunID == "":
		return errors.New("missing run_id")
	case !st.Status.Valid():
		return fmt.Errorf("unknown run status %q", st.Status)
	case st.CurrentTaskIndex < 0 || st.CurrentTaskIndex > len(st.TaskIDs):
		return fmt.Errorf("current_task_index %d out of range [0, %d]", st.CurrentTaskIndex, len(st.TaskIDs))
	case st.UpdatedAt.Before(st.CreatedAt):
		return errors.New("updated_at precedes created_at")
	}
	for _, id := range st.CompletedTaskIDs {
		if !slices.Contains(st.TaskIDs, id) {
			return fmt.Errorf("completed task %q is not in task_ids", id)
		}
	}
	return nil
}
