package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/imkarma/taskpilot/internal/workflow"
)

// ErrNotFound is returned by Load when no record exists.
var ErrNotFound = errors.New("no task state found")

// CorruptError wraps a record that exists but cannot be used.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

const stateFile = "state.json"

// Store reads and writes the task state of one state directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a store rooted at dir. The directory is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// SetClock replaces the clock used to stamp updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Path returns a path inside the state directory.
func (s *Store) Path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

// Exists reports whether a state record is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path(stateFile))
	return err == nil
}

// Load reads the record, upgrading legacy records in memory.
func (s *Store) Load() (*TaskState, error) {
	path := s.Path(stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	return decode(path, data)
}

func decode(path string, data []byte) (*TaskState, error) {
	// Defaults are set before decoding so absent fields keep them.
	st := &TaskState{
		Options:        DefaultOptions(),
		MailboxEnabled: true,
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	upgrade(st)
	if err := validateRecord(st); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return st, nil
}

// upgrade fills fields that older schema versions did not carry.
func upgrade(st *TaskState) {
	if st.Version < 2 {
		// Version 1 had a flat plan with no groups.
		if len(st.Groups) == 0 && len(st.Plan) > 0 {
			st.Groups = []Group{{Title: "Main"}}
			for i := range st.Plan {
				st.Plan[i].Group = 0
			}
		}
		if st.WorkflowStage == "" && st.CurrentPR != nil {
			st.WorkflowStage = StagePRCreated
		}
	}
	if st.Plan == nil {
		st.Plan = []Task{}
	}
	if st.Groups == nil {
		st.Groups = []Group{}
	}
	st.Version = SchemaVersion
}

// Save writes the record atomically and stamps updated_at. A record whose
// persisted status is terminal keeps that status.
func (s *Store) Save(st *TaskState) error {
	if err := validateRecord(st); err != nil {
		return fmt.Errorf("refusing to save invalid state: %w", err)
	}
	if prev, ok := s.persistedStatus(); ok && prev.IsTerminal() && st.Status != prev {
		return fmt.Errorf("refusing to save: %w",
			&workflow.InvalidTransitionError{From: prev, To: st.Status, Reason: "status is terminal"})
	}
	st.Version = SchemaVersion
	st.UpdatedAt = s.now()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := writeFileAtomic(s.Path(stateFile), data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// persistedStatus reads only the status of the record on disk.
func (s *Store) persistedStatus() (workflow.Status, bool) {
	data, err := os.ReadFile(s.Path(stateFile))
	if err != nil {
		return "", false
	}
	var rec struct {
		Status workflow.Status `json:"status"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", false
	}
	return rec.Status, true
}

// Initialize writes a fresh run: the record plus goal.txt and criteria.txt.
// It refuses to overwrite an existing record.
func (s *Store) Initialize(st *TaskState) error {
	if s.Exists() {
		return fmt.Errorf("a run already exists in %s (use resume or clean)", s.dir)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := writeFileAtomic(s.Path(goalFile), []byte(st.Goal+"\n"), 0644); err != nil {
		return fmt.Errorf("write goal: %w", err)
	}
	if err := s.WriteCriteria(st.Criteria); err != nil {
		return err
	}
	return s.Save(st)
}

// Clear removes the record and run documents but leaves config.yaml and
// the database in place.
func (s *Store) Clear() error {
	for _, name := range []string{stateFile, goalFile, criteriaFile} {
		if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	if err := os.RemoveAll(s.Path(runsDir)); err != nil {
		return fmt.Errorf("remove runs: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory, syncs it,
// and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
