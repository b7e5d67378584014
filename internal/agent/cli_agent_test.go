package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/imkarma/taskpilot/internal/config"
	"github.com/imkarma/taskpilot/internal/state"
)

var fixedNow = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

// fakeRunner returns canned responses and records prompts.
type fakeRunner struct {
	output   string
	exitCode int
	err      error
	prompts  []string
}

func (f *fakeRunner) Name() string { return "fake" }

func (f *fakeRunner) Run(ctx context.Context, req Request) (*Response, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return nil, f.err
	}
	resp := &Response{Output: f.output, ExitCode: f.exitCode, Duration: 1.5}
	if f.exitCode != 0 {
		resp.Error = fmt.Errorf("exit %d", f.exitCode)
	}
	return resp, nil
}

type fakeDiff struct{ text string }

func (f fakeDiff) Diff(ctx context.Context, base string, maxLen int) (string, error) {
	return f.text, nil
}

func TestCLIAgent_Plan(t *testing.T) {
	r := &fakeRunner{output: "### PR 1: Core\n- [ ] `[coding]` build it\n"}
	a := NewCLIAgent(r, NewBuilder(nil, "main"), t.TempDir())

	plan, err := a.Plan(context.Background(), "build a thing", []string{"it works"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Tasks) != 1 || plan.Groups[0].Title != "Core" {
		t.Errorf("plan: %+v", plan)
	}
	if !strings.Contains(r.prompts[0], "build a thing") || !strings.Contains(r.prompts[0], "- it works") {
		t.Errorf("prompt missing goal or criteria:\n%s", r.prompts[0])
	}
}

func TestCLIAgent_PlanBlocked(t *testing.T) {
	r := &fakeRunner{output: "BLOCKED: which repo?"}
	a := NewCLIAgent(r, NewBuilder(nil, ""), "")
	_, err := a.Plan(context.Background(), "g", nil)
	var ae *Error
	if !errors.As(err, &ae) || ae.Op != "plan" {
		t.Fatalf("expected plan agent error, got %v", err)
	}
}

func TestCLIAgent_WorkExitCode(t *testing.T) {
	r := &fakeRunner{exitCode: 2}
	a := NewCLIAgent(r, NewBuilder(nil, ""), "")
	_, err := a.Work(context.Background(), state.Task{Description: "x"}, WorkContext{})
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ae.ExitCode != 2 || ae.Op != "work" {
		t.Errorf("error fields: %+v", ae)
	}
}

func TestCLIAgent_WorkBlocked(t *testing.T) {
	r := &fakeRunner{output: "BLOCKED: need API key"}
	a := NewCLIAgent(r, NewBuilder(nil, ""), "")
	res, err := a.Work(context.Background(), state.Task{Description: "x"}, WorkContext{Goal: "g", TaskNumber: 1, TotalTasks: 3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Notes != "need API key" {
		t.Errorf("blocked result: %+v", res)
	}
	if !strings.Contains(r.prompts[0], "Task 1 of 3") {
		t.Errorf("prompt missing position:\n%s", r.prompts[0])
	}
}

func TestCLIAgent_RunnerError(t *testing.T) {
	r := &fakeRunner{err: errors.New("boom")}
	a := NewCLIAgent(r, NewBuilder(nil, ""), "")
	_, err := a.Fix(context.Background(), "ci_failure:", WorkContext{})
	var ae *Error
	if !errors.As(err, &ae) || ae.Op != "fix" {
		t.Fatalf("expected fix agent error, got %v", err)
	}
}

func TestCLIAgent_RunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRunner{err: context.Canceled}
	a := NewCLIAgent(r, NewBuilder(nil, ""), "")
	_, err := a.Work(ctx, state.Task{}, WorkContext{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCLIAgent_Verify(t *testing.T) {
	r := &fakeRunner{output: "VERDICT: FAIL\nCOMMENTS:\n- no tests\n"}
	a := NewCLIAgent(r, NewBuilder(fakeDiff{text: "+func Retry()"}, "main"), "")

	res, err := a.Verify(context.Background(), "goal", []string{"has tests"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed || res.Notes != "no tests" {
		t.Errorf("verify: %+v", res)
	}
	if !strings.Contains(r.prompts[0], "+func Retry()") {
		t.Errorf("diff missing from verify prompt")
	}

	// No criteria means nothing to check.
	res, err = a.Verify(context.Background(), "goal", nil)
	if err != nil || !res.Passed || len(r.prompts) != 1 {
		t.Errorf("empty criteria: %+v %v", res, err)
	}
}

func TestCLIRunner_RealProcess(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "echo", Args: []string{"hello"}})
	resp, err := r.Run(context.Background(), Request{Prompt: "world", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.ExitCode != 0 || strings.TrimSpace(resp.Output) != "hello world" {
		t.Errorf("response: %+v", resp)
	}
}

func TestCLIRunner_ExitCode(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
	resp, err := r.Run(context.Background(), Request{Prompt: "ignored"})
	if err != nil {
		t.Fatalf("non-zero exit should not be a run error: %v", err)
	}
	if resp.ExitCode != 3 || !strings.Contains(resp.Error.Error(), "oops") {
		t.Errorf("response: %+v", resp)
	}
}

func TestCLIRunner_Timeout(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "sleep", TimeoutSec: 1})
	_, err := r.Run(context.Background(), Request{Prompt: "5"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCLIRunner_MissingBinary(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "taskpilot-no-such-agent"})
	if _, err := r.Run(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
