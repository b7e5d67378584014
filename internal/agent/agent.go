// Package agent is the coding-agent collaborator: it turns a goal into a
// plan, performs tasks, verifies results and fixes CI failures by driving an
// external agent CLI.
package agent

import (
	"context"
	"fmt"

	"github.com/imkarma/taskpilot/internal/state"
)

// Agent is the contract the orchestrator consumes.
type Agent interface {
	Plan(ctx context.Context, goal string, criteria []string) (*PlanResult, error)
	Work(ctx context.Context, task state.Task, wc WorkContext) (*WorkResult, error)
	Verify(ctx context.Context, subject string, criteria []string) (*VerifyResult, error)
	Fix(ctx context.Context, detail string, wc WorkContext) (*WorkResult, error)
}

// WorkContext is what an agent sees beyond the task itself.
type WorkContext struct {
	Goal       string
	TaskNumber int // 1-based
	TotalTasks int
	GroupTitle string
	Notes      string // accumulated context.md
}

// PlanResult is a parsed plan.
type PlanResult struct {
	Groups []state.Group
	Tasks  []state.Task
	Raw    string
}

// WorkResult is the outcome of a work or fix session.
type WorkResult struct {
	Success  bool
	Notes    string
	Output   string
	Duration float64 // seconds
}

// VerifyResult is the outcome of a verification session.
type VerifyResult struct {
	Passed bool
	Notes  string
}

// Request contains everything a runner needs for one invocation.
type Request struct {
	Prompt  string
	WorkDir string
}

// Response is what we get back from a runner.
type Response struct {
	Output   string  // Agent's text output
	ExitCode int     // 0 = success, non-zero = failure
	Duration float64 // Execution time in seconds
	Error    error   // Any execution error
}

// Runner executes one agent invocation.
type Runner interface {
	Run(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Error reports a failed agent invocation.
type Error struct {
	Op       string // plan, work, verify, fix
	Agent    string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("agent %s %s failed (exit %d): %v", e.Agent, e.Op, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("agent %s %s failed: %v", e.Agent, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
