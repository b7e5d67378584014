package state

import (
	"fmt"
)

// IndexError reports a current_task_index that cannot be used to read the
// plan. Negative indices and indices past the end are told apart.
type IndexError struct {
	Index int
	Len   int
}

// Negative reports whether the index was below zero.
func (e *IndexError) Negative() bool { return e.Index < 0 }

func (e *IndexError) Error() string {
	if e.Negative() {
		return fmt.Sprintf("current_task_index %d is negative", e.Index)
	}
	return fmt.Sprintf("current_task_index %d is out of bounds (plan has %d tasks)", e.Index, e.Len)
}

func checkIndex(idx, n int) error {
	if idx < 0 {
		return &IndexError{Index: idx, Len: n}
	}
	if n == 0 {
		if idx != 0 {
			return &IndexError{Index: idx, Len: n}
		}
		return nil
	}
	if idx >= n {
		return &IndexError{Index: idx, Len: n}
	}
	return nil
}

// ValidateForResume rejects records whose task index cannot be used, before
// any task lookup happens. An empty plan with index 0 is accepted so a run
// that stopped during planning can resume.
func ValidateForResume(s *TaskState) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("run %s already finished with status %s", s.RunID, s.Status)
	}
	return checkIndex(s.CurrentTaskIndex, len(s.Plan))
}

// validateRecord checks the structure of a decoded record.
func validateRecord(s *TaskState) error {
	if s.RunID == "" {
		return fmt.Errorf("missing run_id")
	}
	if s.Goal == "" {
		return fmt.Errorf("missing goal")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	if s.SessionCount < 0 {
		return fmt.Errorf("session_count %d is negative", s.SessionCount)
	}
	if s.PRsCreated < 0 || s.PRsMerged < 0 {
		return fmt.Errorf("negative PR counters")
	}
	if s.PRActiveWorkSeconds < 0 {
		return fmt.Errorf("pr_active_work_seconds %f is negative", s.PRActiveWorkSeconds)
	}
	for i, t := range s.Plan {
		if t.Group < 0 || t.Group >= len(s.Groups) {
			return fmt.Errorf("task %d references unknown group %d", i, t.Group)
		}
	}
	return nil
}
