// Package state persists the single task-state record of a working directory
// together with its human-readable run documents.
package state

import (
	"fmt"
	"time"

	"github.com/imkarma/taskpilot/internal/workflow"
)

// SchemaVersion is the version written by Save. Records with a lower
// version are upgraded on load.
const SchemaVersion = 2

// DirName is the default state directory inside a working directory.
const DirName = ".taskpilot"

// RunIDLayout formats run IDs as YYYYMMDD-HHMMSS.
const RunIDLayout = "20060102-150405"

// Stage is the position of the current task group inside the PR cycle.
type Stage string

const (
	StageWorking           Stage = "working"
	StagePRCreated         Stage = "pr_created"
	StageWaitingCI         Stage = "waiting_ci"
	StageCIFailed          Stage = "ci_failed"
	StageWaitingReviews    Stage = "waiting_reviews"
	StageAddressingReviews Stage = "addressing_reviews"
	StageReadyToMerge      Stage = "ready_to_merge"
	StageMerged            Stage = "merged"
)

// Task is one unit of planned work.
type Task struct {
	Description     string   `json:"description"`
	SuccessCriteria []string `json:"success_criteria,omitempty"`
	Kind            string   `json:"kind,omitempty"` // coding, docs, tests, ...
	Group           int      `json:"group"`
	Done            bool     `json:"done"`
}

// Group is a set of consecutive tasks delivered under one PR.
type Group struct {
	Title    string `json:"title"`
	Done     bool   `json:"done"`
	PRNumber int    `json:"pr_number,omitempty"`
}

// CIState is the aggregate CI result reported for a PR.
type CIState string

const (
	CIPending CIState = "pending"
	CISuccess CIState = "success"
	CIFailure CIState = "failure"
	CIError   CIState = "error"
)

// PRState is the lifecycle state of a PR on the hosting side.
type PRState string

const (
	PROpen   PRState = "open"
	PRMerged PRState = "merged"
	PRClosed PRState = "closed"
)

// Check is a single CI check result.
type Check struct {
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"`
	URL        string `json:"url,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// PRStatus is the last-known hosting truth for a PR. It is a cache and
// never authoritative on its own.
type PRStatus struct {
	State             PRState   `json:"state"`
	CI                CIState   `json:"ci_state"`
	Mergeable         bool      `json:"mergeable"`
	ReviewState       string    `json:"review_state,omitempty"`
	UnresolvedThreads int       `json:"unresolved_threads"`
	Checks            []Check   `json:"checks,omitempty"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// PRHandle identifies the PR of the current task group.
type PRHandle struct {
	Number int       `json:"number"`
	URL    string    `json:"url,omitempty"`
	Branch string    `json:"branch,omitempty"`
	Group  int       `json:"group"`
	Status *PRStatus `json:"status,omitempty"`
}

// Options are the per-run knobs chosen at start.
type Options struct {
	AutoMerge   bool   `json:"auto_merge"`
	MaxSessions *int   `json:"max_sessions"`
	MaxPRs      *int   `json:"max_prs"`
	PauseOnPR   bool   `json:"pause_on_pr"`
	PRPerTask   bool   `json:"pr_per_task"`
	LogLevel    string `json:"log_level,omitempty"`
	WebhookURL  string `json:"webhook_url,omitempty"`
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{AutoMerge: true}
}

// ErrorInfo records the error that stopped a run.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TaskState is the persisted record of one run.
type TaskState struct {
	Version             int             `json:"version"`
	RunID               string          `json:"run_id"`
	Goal                string          `json:"goal"`
	Criteria            []string        `json:"criteria,omitempty"`
	Plan                []Task          `json:"plan"`
	Groups              []Group         `json:"groups"`
	Status              workflow.Status `json:"status"`
	StatusReason        string          `json:"status_reason,omitempty"`
	CurrentTaskIndex    int             `json:"current_task_index"`
	SessionCount        int             `json:"session_count"`
	CurrentPR           *PRHandle       `json:"current_pr"`
	WorkflowStage       Stage           `json:"workflow_stage,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	TaskStartTime       *time.Time      `json:"task_start_time"`
	PRStartTime         *time.Time      `json:"pr_start_time"`
	PRActiveWorkSeconds float64         `json:"pr_active_work_seconds"`
	Options             Options         `json:"options"`
	MailboxEnabled      bool            `json:"mailbox_enabled"`
	PRsCreated          int             `json:"prs_created"`
	PRsMerged           int             `json:"prs_merged"`
	MergedMessageIDs    []string        `json:"merged_message_ids,omitempty"`
	LastError           *ErrorInfo      `json:"last_error,omitempty"`
}

// New creates a run in the planning status.
func New(goal string, criteria []string, opts Options, now time.Time) *TaskState {
	return &TaskState{
		Version:        SchemaVersion,
		RunID:          now.Format(RunIDLayout),
		Goal:           goal,
		Criteria:       criteria,
		Plan:           []Task{},
		Groups:         []Group{},
		Status:         workflow.StatusPlanning,
		CreatedAt:      now,
		UpdatedAt:      now,
		Options:        opts,
		MailboxEnabled: true,
	}
}

// Transition moves the run to a new status through the state machine.
// Reason is kept for display; it is cleared when the run goes back to work.
func (s *TaskState) Transition(to workflow.Status, reason string) error {
	if err := workflow.Validate(s.Status, to); err != nil {
		return err
	}
	s.Status = to
	s.StatusReason = reason
	return nil
}

// CurrentTask returns the task at CurrentTaskIndex after a bounds check.
func (s *TaskState) CurrentTask() (*Task, error) {
	if err := checkIndex(s.CurrentTaskIndex, len(s.Plan)); err != nil {
		return nil, err
	}
	if len(s.Plan) == 0 {
		return nil, &IndexError{Index: s.CurrentTaskIndex, Len: 0}
	}
	return &s.Plan[s.CurrentTaskIndex], nil
}

// GroupSpan returns the first plan index of the group containing idx and
// the number of tasks in it. Tasks of a group are contiguous.
func (s *TaskState) GroupSpan(idx int) (start, size int) {
	if idx < 0 || idx >= len(s.Plan) {
		return 0, 0
	}
	g := s.Plan[idx].Group
	start = idx
	for start > 0 && s.Plan[start-1].Group == g {
		start--
	}
	end := idx
	for end+1 < len(s.Plan) && s.Plan[end+1].Group == g {
		end++
	}
	return start, end - start + 1
}

// GroupTasks returns the plan indices belonging to group g.
func (s *TaskState) GroupTasks(g int) []int {
	var out []int
	for i, t := range s.Plan {
		if t.Group == g {
			out = append(out, i)
		}
	}
	return out
}

// CompletedTasks counts tasks marked done.
func (s *TaskState) CompletedTasks() int {
	n := 0
	for _, t := range s.Plan {
		if t.Done {
			n++
		}
	}
	return n
}

// AllGroupsDone reports whether every task group has been delivered.
func (s *TaskState) AllGroupsDone() bool {
	for _, g := range s.Groups {
		if !g.Done {
			return false
		}
	}
	return true
}

// AppendGroup adds a new trailing group. Existing tasks are never moved.
func (s *TaskState) AppendGroup(title string, tasks []Task) int {
	g := len(s.Groups)
	s.Groups = append(s.Groups, Group{Title: title})
	for _, t := range tasks {
		t.Group = g
		t.Done = false
		s.Plan = append(s.Plan, t)
	}
	return g
}

// SetPlan replaces an empty plan with the given groups and tasks. When
// PRPerTask is set every task gets its own group.
func (s *TaskState) SetPlan(groups []Group, tasks []Task) error {
	if len(s.Plan) != 0 {
		return fmt.Errorf("plan already set (%d tasks)", len(s.Plan))
	}
	if len(tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	if s.Options.PRPerTask {
		s.Groups = make([]Group, 0, len(tasks))
		s.Plan = make([]Task, 0, len(tasks))
		for _, t := range tasks {
			s.AppendGroup(t.Description, []Task{t})
		}
	} else {
		s.Groups = append([]Group(nil), groups...)
		s.Plan = append([]Task(nil), tasks...)
	}
	s.CurrentTaskIndex = 0
	return nil
}

// RecordError stores the error that stopped the run.
func (s *TaskState) RecordError(kind string, err error) {
	if err == nil {
		s.LastError = nil
		return
	}
	s.LastError = &ErrorInfo{Type: kind, Message: err.Error()}
}
