// Package git wraps the git operations a run needs: a branch per task
// group, a commit after each task, and a push before the PR is opened.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Repo runs git commands in a working directory.
type Repo struct {
	workDir string
}

// New creates a Repo for the given working directory.
func New(workDir string) *Repo {
	return &Repo{workDir: workDir}
}

// WorkDir returns the repository directory.
func (r *Repo) WorkDir() string { return r.workDir }

func (r *Repo) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.workDir
	return cmd
}

// run executes git and returns trimmed combined output, folding it into
// the error on failure.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.command(ctx, args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if ctx.Err() != nil {
			return trimmed, ctx.Err()
		}
		if trimmed == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return trimmed, fmt.Errorf("git %s: %s", args[0], trimmed)
	}
	return trimmed, nil
}

// IsGitRepo checks if the working directory is a git repository.
func (r *Repo) IsGitRepo() bool {
	out, err := r.command(context.Background(), "rev-parse", "--is-inside-work-tree").Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// CurrentBranch returns the name of the current git branch.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return out, nil
}

// BaseBranch detects the main/master branch name, falling back to the
// current branch.
func (r *Repo) BaseBranch(ctx context.Context) (string, error) {
	for _, name := range []string{"main", "master"} {
		if r.BranchExists(ctx, name) {
			return name, nil
		}
	}
	return r.CurrentBranch(ctx)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// BranchName builds the branch for a task group.
// Format: taskpilot/{run_id}/pr-{n}-{slug}
func BranchName(runID string, group int, title string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug == "" {
		return fmt.Sprintf("taskpilot/%s/pr-%d", runID, group+1)
	}
	return fmt.Sprintf("taskpilot/%s/pr-%d-%s", runID, group+1, slug)
}

// BranchExists checks if a local branch exists.
func (r *Repo) BranchExists(ctx context.Context, branch string) bool {
	return r.command(ctx, "rev-parse", "--verify", "--quiet", branch).Run() == nil
}

// HasUncommittedChanges checks if there are uncommitted changes in the working tree.
func (r *Repo) HasUncommittedChanges(ctx context.Context) bool {
	out, err := r.run(ctx, "status", "--porcelain")
	return err == nil && out != ""
}

// CreateBranch creates a branch from HEAD and switches to it. An existing
// branch is just checked out.
func (r *Repo) CreateBranch(ctx context.Context, branch string) error {
	if r.BranchExists(ctx, branch) {
		return r.Checkout(ctx, branch)
	}
	if _, err := r.run(ctx, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

// StartBranch switches to branch. A new branch is cut from base after base
// is fast-forwarded from its upstream, so it sits on top of whatever was
// merged there. An empty base cuts the branch from HEAD.
func (r *Repo) StartBranch(ctx context.Context, branch, base string) error {
	if r.BranchExists(ctx, branch) {
		return r.Checkout(ctx, branch)
	}
	if base != "" {
		if err := r.Checkout(ctx, base); err != nil {
			return err
		}
		if r.hasUpstream(ctx, base) {
			if _, err := r.run(ctx, "pull", "--ff-only"); err != nil {
				return fmt.Errorf("update %s: %w", base, err)
			}
		}
	}
	return r.CreateBranch(ctx, branch)
}

func (r *Repo) hasUpstream(ctx context.Context, branch string) bool {
	return r.command(ctx, "rev-parse", "--abbrev-ref", "--symbolic-full-name", branch+"@{upstream}").Run() == nil
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	if _, err := r.run(ctx, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// CommitAll stages all changes and commits with the given message.
// Returns true if a commit was made, false if there was nothing to commit.
func (r *Repo) CommitAll(ctx context.Context, message string) (bool, error) {
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return false, err
	}
	// Exit status 0 means nothing is staged.
	if err := r.command(ctx, "diff", "--cached", "--quiet").Run(); err == nil {
		return false, nil
	}
	if _, err := r.run(ctx, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// Push pushes branch to remote and sets upstream.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	if remote == "" {
		remote = "origin"
	}
	if _, err := r.run(ctx, "push", "-u", remote, branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// Diff returns the changes of HEAD relative to base plus any uncommitted
// work, truncated to maxLen bytes (0 means no limit).
func (r *Repo) Diff(ctx context.Context, base string, maxLen int) (string, error) {
	var parts []string
	if base != "" {
		out, err := r.command(ctx, "diff", base+"...HEAD").Output()
		if err != nil {
			return "", fmt.Errorf("git diff: %w", err)
		}
		if len(out) > 0 {
			parts = append(parts, string(out))
		}
	}
	out, err := r.command(ctx, "diff", "HEAD").Output()
	if err == nil && len(out) > 0 {
		parts = append(parts, string(out))
	}
	return truncate(strings.Join(parts, "\n"), maxLen), nil
}

// DiffStat returns a summary of changes between base and HEAD.
func (r *Repo) DiffStat(ctx context.Context, base string) (string, error) {
	out, err := r.run(ctx, "diff", "--stat", base+"...HEAD")
	if err != nil {
		return "", fmt.Errorf("git diff --stat: %w", err)
	}
	return out, nil
}

// LogCommits returns one-line commits on HEAD that are not on base.
func (r *Repo) LogCommits(ctx context.Context, base string) ([]string, error) {
	out, err := r.run(ctx, "log", "--oneline", base+"..HEAD")
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("\n\n... (diff truncated, %d bytes total)", len(s))
}
