package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/imkarma/taskpilot/internal/config"
)

// CLIRunner spawns an external agent CLI (claude, gemini, codex, ...)
// and passes the prompt as the last argument.
type CLIRunner struct {
	cfg config.Agent
}

// NewCLIRunner creates a runner that spawns CLI processes.
func NewCLIRunner(cfg config.Agent) *CLIRunner {
	return &CLIRunner{cfg: cfg}
}

func (r *CLIRunner) Name() string { return r.cfg.Cmd }

// Run spawns the agent process with the prompt.
//
// If cmd="claude" and args=["--model", "sonnet"], the full command becomes:
// claude --print --model sonnet "the prompt text"
//
// The agent runs in the working directory so it has access to the project files.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	args := append(r.cfg.EffectiveArgs(), req.Prompt)

	timeout := r.cfg.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Cmd, args...)
	cmd.Dir = req.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	resp := &Response{
		Output:   stdout.String(),
		Duration: time.Since(start).Seconds(),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			resp.Error = fmt.Errorf("agent %s timed out after %ds", r.cfg.Cmd, int(timeout.Seconds()))
			resp.ExitCode = -1
			return resp, resp.Error
		}
		if ctx.Err() != nil {
			resp.ExitCode = -1
			return resp, ctx.Err()
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			resp.ExitCode = exitErr.ExitCode()
		} else {
			// The binary could not be started at all.
			resp.ExitCode = -1
			return resp, fmt.Errorf("start agent %s: %w", r.cfg.Cmd, err)
		}

		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			resp.Error = fmt.Errorf("agent %s exited with code %d: %s", r.cfg.Cmd, resp.ExitCode, stderrStr)
		} else {
			resp.Error = fmt.Errorf("agent %s exited with code %d: %w", r.cfg.Cmd, resp.ExitCode, err)
		}

		// Still return the response; partial output may be useful.
		return resp, nil
	}

	return resp, nil
}

// CLIAvailable checks if the CLI command exists in PATH.
func CLIAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
