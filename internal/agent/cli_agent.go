package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/imkarma/taskpilot/internal/state"
)

// CLIAgent implements Agent on top of a Runner.
type CLIAgent struct {
	runner  Runner
	prompts *Builder
	workDir string
}

// NewCLIAgent creates an agent running in workDir.
func NewCLIAgent(runner Runner, prompts *Builder, workDir string) *CLIAgent {
	return &CLIAgent{runner: runner, prompts: prompts, workDir: workDir}
}

func (a *CLIAgent) run(ctx context.Context, op, prompt string) (*Response, error) {
	resp, err := a.runner.Run(ctx, Request{Prompt: prompt, WorkDir: a.workDir})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Op: op, Agent: a.runner.Name(), Err: err}
	}
	if resp.ExitCode != 0 {
		return nil, &Error{Op: op, Agent: a.runner.Name(), ExitCode: resp.ExitCode, Err: resp.Error}
	}
	return resp, nil
}

// Plan asks the agent for a plan and parses it.
func (a *CLIAgent) Plan(ctx context.Context, goal string, criteria []string) (*PlanResult, error) {
	resp, err := a.run(ctx, "plan", a.prompts.PlanPrompt(goal, criteria))
	if err != nil {
		return nil, err
	}
	if reason := ParseBlocked(resp.Output); reason != "" {
		return nil, &Error{Op: "plan", Agent: a.runner.Name(), Err: fmt.Errorf("blocked: %s", reason)}
	}
	groups, tasks, err := ParsePlan(resp.Output)
	if err != nil {
		return nil, &Error{Op: "plan", Agent: a.runner.Name(), Err: err}
	}
	return &PlanResult{Groups: groups, Tasks: tasks, Raw: resp.Output}, nil
}

// Work performs one task. A BLOCKED answer is an unsuccessful result, not
// an error.
func (a *CLIAgent) Work(ctx context.Context, task state.Task, wc WorkContext) (*WorkResult, error) {
	resp, err := a.run(ctx, "work", a.prompts.WorkPrompt(task, wc))
	if err != nil {
		return nil, err
	}
	return workResult(resp), nil
}

// Verify checks criteria against the current changes.
func (a *CLIAgent) Verify(ctx context.Context, subject string, criteria []string) (*VerifyResult, error) {
	if len(criteria) == 0 {
		return &VerifyResult{Passed: true, Notes: "no criteria"}, nil
	}
	resp, err := a.run(ctx, "verify", a.prompts.VerifyPrompt(ctx, subject, criteria))
	if err != nil {
		return nil, err
	}
	v := ParseVerdict(resp.Output)
	notes := strings.Join(v.Comments, "\n")
	if !v.Found {
		notes = "verifier gave no VERDICT line"
	}
	return &VerifyResult{Passed: v.Found && v.Passed, Notes: notes}, nil
}

// Fix runs a fix session for a CI or review failure.
func (a *CLIAgent) Fix(ctx context.Context, detail string, wc WorkContext) (*WorkResult, error) {
	resp, err := a.run(ctx, "fix", a.prompts.FixPrompt(detail, wc))
	if err != nil {
		return nil, err
	}
	return workResult(resp), nil
}

func workResult(resp *Response) *WorkResult {
	res := &WorkResult{
		Success:  true,
		Notes:    ParseNotes(resp.Output),
		Output:   resp.Output,
		Duration: resp.Duration,
	}
	if reason := ParseBlocked(resp.Output); reason != "" {
		res.Success = false
		res.Notes = reason
	}
	return res
}
