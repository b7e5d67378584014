// Package prcycle drives one task group through its pull request: open it,
// wait for CI, run fix sessions on failures and merge.
package prcycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imkarma/taskpilot/internal/agent"
	"github.com/imkarma/taskpilot/internal/config"
	"github.com/imkarma/taskpilot/internal/git"
	"github.com/imkarma/taskpilot/internal/hosting"
	"github.com/imkarma/taskpilot/internal/logging"
	"github.com/imkarma/taskpilot/internal/notify"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/workflow"
)

// Reasons returned by WaitForPRReady besides a "ci_failure:" detail.
const (
	ReasonSuccess            = "success"
	ReasonMerged             = "merged"
	ReasonClosed             = "pr_closed"
	ReasonUnresolvedComments = "unresolved_comments"
)

// Config holds the PR cycle knobs.
type Config struct {
	BaseBranch     string
	PollInterval   time.Duration
	Timeout        time.Duration
	MaxFixAttempts int
	Backoff        config.Backoff
}

// ConfigFrom extracts the PR cycle settings from the project config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BaseBranch:     cfg.Hosting.BaseBranch,
		PollInterval:   cfg.PR.PollInterval(),
		Timeout:        cfg.PR.Timeout(),
		MaxFixAttempts: cfg.PR.MaxFixAttempts,
		Backoff:        cfg.PR.Backoff,
	}
}

// Committer records fix-session work before the PR is updated.
type Committer interface {
	CommitAll(ctx context.Context, msg string) (bool, error)
}

// Outcome is how a PR cycle ended.
type Outcome int

const (
	// Merged means the group is delivered and the run can move on.
	Merged Outcome = iota
	// AwaitingMerge means CI is green and a human has to merge.
	AwaitingMerge
	// Paused means the run stops on purpose, e.g. pause_on_pr.
	Paused
	// Blocked means the cycle cannot make progress without help.
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Merged:
		return "merged"
	case AwaitingMerge:
		return "awaiting_merge"
	case Paused:
		return "paused"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

// Result is the outcome of Run with a human-readable reason.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Manager runs the PR cycle of the current task group.
type Manager struct {
	host      hosting.Host
	agent     agent.Agent
	store     *state.Store
	events    *notify.Dispatcher
	logger    *logging.Logger
	committer Committer
	cfg       Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a PR cycle manager. events and logger may be nil.
func NewManager(host hosting.Host, ag agent.Agent, store *state.Store, events *notify.Dispatcher, logger *logging.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		host:   host,
		agent:  ag,
		store:  store,
		events: events,
		logger: logger.WithPhase("pr_cycle"),
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// SetCommitter sets where fix-session changes get committed.
func (m *Manager) SetCommitter(c Committer) { m.committer = c }

// SetClock replaces the clock and sleep function, for tests.
func (m *Manager) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	m.now = now
	m.sleep = sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run takes the group of the current task from PR creation to merge. It
// resumes from CurrentPR when a PR is already open. Errors are either
// context cancellation, a *workflow.LimitExceededError, an agent error or a
// hosting error; the caller maps them to a run status.
func (m *Manager) Run(ctx context.Context, st *state.TaskState) (Result, error) {
	created, err := m.CreateOrUpdatePR(ctx, st)
	if err != nil {
		return Result{}, err
	}
	if created && st.Options.PauseOnPR {
		return Result{Outcome: Paused, Reason: fmt.Sprintf("PR #%d created, paused for review", st.CurrentPR.Number)}, nil
	}

	attempts := 0
	for {
		ready, reason, err := m.WaitForPRReady(ctx, st)
		if err != nil {
			return Result{}, err
		}

		switch {
		case reason == ReasonMerged:
			m.logger.Info("PR merged outside taskpilot", "pr", st.CurrentPR.Number)
			if err := m.completeGroup(ctx, st); err != nil {
				return Result{}, err
			}
			return Result{Outcome: Merged}, nil
		case reason == ReasonClosed:
			return Result{Outcome: Blocked, Reason: fmt.Sprintf("PR #%d was closed without merging", st.CurrentPR.Number)}, nil
		case ready:
			return m.finish(ctx, st)
		}

		if attempts >= m.cfg.MaxFixAttempts {
			return Result{
				Outcome: Blocked,
				Reason:  fmt.Sprintf("PR #%d still failing after %d fix attempts", st.CurrentPR.Number, attempts),
			}, nil
		}
		attempts++

		ok, err := m.fix(ctx, st, reason, attempts)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{Outcome: Blocked, Reason: fmt.Sprintf("fix attempt %d for PR #%d did not succeed", attempts, st.CurrentPR.Number)}, nil
		}
	}
}

// CreateOrUpdatePR opens the PR of the current group, or pushes updates to
// the open one. It reports whether a new PR was created.
func (m *Manager) CreateOrUpdatePR(ctx context.Context, st *state.TaskState) (bool, error) {
	if st.CurrentPR != nil {
		if err := m.host.UpdatePR(ctx, st.CurrentPR); err != nil {
			return false, err
		}
		return false, nil
	}

	if limit := st.Options.MaxPRs; limit != nil && st.PRsCreated >= *limit {
		return false, &workflow.LimitExceededError{Limit: workflow.LimitPRs, Current: st.PRsCreated, Max: *limit}
	}

	task, err := st.CurrentTask()
	if err != nil {
		return false, err
	}
	g := task.Group
	title := st.Groups[g].Title
	pr, err := m.host.CreatePR(ctx, hosting.PRRequest{
		Branch: git.BranchName(st.RunID, g, title),
		Base:   m.cfg.BaseBranch,
		Title:  title,
		Body:   prBody(st, g),
		Group:  g,
	})
	if err != nil {
		return false, err
	}

	now := m.now()
	pr.Group = g
	st.CurrentPR = pr
	st.PRStartTime = &now
	st.PRActiveWorkSeconds = 0
	st.PRsCreated++
	st.Groups[g].PRNumber = pr.Number
	st.WorkflowStage = state.StagePRCreated
	if err := m.store.Save(st); err != nil {
		return false, err
	}
	m.savePlan(st)
	m.progress(st, now, fmt.Sprintf("Opened PR #%d for %q: %s", pr.Number, title, pr.URL))

	m.logger.Info("PR created", "pr", pr.Number, "url", pr.URL, "group", g)
	m.events.Send(ctx, notify.PRCreated, st.RunID, map[string]any{
		"pr_number": pr.Number,
		"pr_url":    pr.URL,
		"group":     title,
	})
	return true, nil
}

// WaitForPRReady polls the PR until CI settles or the timeout passes. It
// returns ready with ReasonSuccess, or not ready with ReasonUnresolvedComments
// or a "ci_failure:" detail. A PR merged or closed on the hosting side is
// reported through ReasonMerged and ReasonClosed. CI infrastructure errors
// and transient hosting errors are retried with backoff; when retries run
// out the result is a timeout hosting error.
func (m *Manager) WaitForPRReady(ctx context.Context, st *state.TaskState) (bool, string, error) {
	if st.CurrentPR == nil {
		return false, "", errors.New("no open PR to wait for")
	}
	pr := st.CurrentPR
	deadline := m.now().Add(m.cfg.Timeout)
	backoff := newBackoff(m.cfg.Backoff)

	if st.WorkflowStage != state.StageWaitingCI {
		st.WorkflowStage = state.StageWaitingCI
		if err := m.store.Save(st); err != nil {
			return false, "", err
		}
	}

	var lastErr error
	for {
		status, err := m.host.GetStatus(ctx, pr)
		wait := m.cfg.PollInterval

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return false, "", ctx.Err()
			}
			var he *hosting.Error
			if !errors.As(err, &he) || !he.Transient() {
				return false, "", err
			}
			if backoff.exhausted() {
				return false, "", &hosting.Error{Kind: hosting.KindTimeout, Op: "get status", Err: err}
			}
			lastErr = err
			wait = backoff.next()
			m.logger.Warn("PR status unavailable, retrying", "pr", pr.Number, "wait", wait.String(), "error", err.Error())

		default:
			pr.Status = status
			if err := m.store.Save(st); err != nil {
				return false, "", err
			}

			switch status.State {
			case state.PRMerged:
				return true, ReasonMerged, nil
			case state.PRClosed:
				return false, ReasonClosed, nil
			}

			switch status.CI {
			case state.CISuccess:
				m.events.Send(ctx, notify.CIPassed, st.RunID, map[string]any{"pr_number": pr.Number})
				if status.UnresolvedThreads > 0 {
					return false, ReasonUnresolvedComments, nil
				}
				return true, ReasonSuccess, nil
			case state.CIFailure:
				detail := hosting.FormatCIFailure(status)
				m.events.Send(ctx, notify.CIFailed, st.RunID, map[string]any{
					"pr_number":     pr.Number,
					"error_message": detail,
				})
				return false, detail, nil
			case state.CIError:
				lastErr = errors.New("CI infrastructure error")
				wait = backoff.nextUncapped()
				m.logger.Warn("CI reported an infrastructure error, retrying", "pr", pr.Number, "wait", wait.String())
			default:
				backoff.reset()
			}
		}

		if !m.now().Add(wait).Before(deadline) {
			if lastErr == nil {
				lastErr = fmt.Errorf("CI still pending after %s", m.cfg.Timeout)
			}
			return false, "", &hosting.Error{Kind: hosting.KindTimeout, Op: "wait for CI", Err: lastErr}
		}
		if err := m.sleep(ctx, wait); err != nil {
			return false, "", err
		}
	}
}

// fix runs one fix session for a failing PR and pushes the result.
func (m *Manager) fix(ctx context.Context, st *state.TaskState, reason string, attempt int) (bool, error) {
	if limit := st.Options.MaxSessions; limit != nil && st.SessionCount >= *limit {
		return false, &workflow.LimitExceededError{Limit: workflow.LimitSessions, Current: st.SessionCount, Max: *limit}
	}

	pr := st.CurrentPR
	detail := reason
	st.WorkflowStage = state.StageCIFailed
	if reason == ReasonUnresolvedComments {
		st.WorkflowStage = state.StageAddressingReviews
		detail = fmt.Sprintf("PR #%d (%s) has %d unresolved review threads. Address every review comment.",
			pr.Number, pr.URL, pr.Status.UnresolvedThreads)
	}
	st.SessionCount++
	if err := m.store.Save(st); err != nil {
		return false, err
	}

	m.logger.Info("fix session started", "pr", pr.Number, "attempt", attempt, "session", st.SessionCount)
	m.events.Send(ctx, notify.SessionStarted, st.RunID, map[string]any{
		"session":   st.SessionCount,
		"kind":      "fix",
		"pr_number": pr.Number,
	})

	notes, _ := m.store.ReadContext(st.RunID)
	start := m.now()
	res, err := m.agent.Fix(ctx, detail, agent.WorkContext{
		Goal:       st.Goal,
		TaskNumber: st.CurrentTaskIndex + 1,
		TotalTasks: len(st.Plan),
		GroupTitle: st.Groups[pr.Group].Title,
		Notes:      notes,
	})
	elapsed := m.now().Sub(start).Seconds()
	st.PRActiveWorkSeconds += elapsed
	if err != nil {
		return false, err
	}

	m.events.Send(ctx, notify.SessionCompleted, st.RunID, map[string]any{
		"session":          st.SessionCount,
		"kind":             "fix",
		"duration_seconds": elapsed,
		"success":          res.Success,
	})
	m.note(st, fmt.Sprintf("Fix attempt %d for PR #%d", attempt, pr.Number), res.Notes)
	m.progress(st, m.now(), fmt.Sprintf("Fix attempt %d for PR #%d: %s", attempt, pr.Number, successWord(res.Success)))
	if !res.Success {
		return false, m.store.Save(st)
	}

	if m.committer != nil {
		if _, err := m.committer.CommitAll(ctx, fmt.Sprintf("Fix PR #%d (attempt %d)", pr.Number, attempt)); err != nil {
			return false, err
		}
	}
	if _, err := m.CreateOrUpdatePR(ctx, st); err != nil {
		return false, err
	}
	st.WorkflowStage = state.StageWaitingCI
	return true, m.store.Save(st)
}

// finish merges a ready PR, or parks the run when auto-merge is off.
func (m *Manager) finish(ctx context.Context, st *state.TaskState) (Result, error) {
	pr := st.CurrentPR
	if !st.Options.AutoMerge {
		st.WorkflowStage = state.StageReadyToMerge
		if err := m.store.Save(st); err != nil {
			return Result{}, err
		}
		m.progress(st, m.now(), fmt.Sprintf("PR #%d is ready to merge", pr.Number))
		return Result{Outcome: AwaitingMerge, Reason: fmt.Sprintf("PR #%d is ready to merge: %s", pr.Number, pr.URL)}, nil
	}

	if err := m.host.Merge(ctx, pr); err != nil {
		return Result{}, err
	}
	if err := m.completeGroup(ctx, st); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Merged}, nil
}

// completeGroup records a merged PR and closes its group.
func (m *Manager) completeGroup(ctx context.Context, st *state.TaskState) error {
	pr := st.CurrentPR
	active := st.PRActiveWorkSeconds
	MarkMerged(st)
	if err := m.store.Save(st); err != nil {
		return err
	}
	m.savePlan(st)
	m.progress(st, m.now(), fmt.Sprintf("Merged PR #%d", pr.Number))

	m.logger.Info("PR merged", "pr", pr.Number, "active_work_seconds", active)
	m.events.Send(ctx, notify.PRMerged, st.RunID, map[string]any{
		"pr_number":           pr.Number,
		"pr_url":              pr.URL,
		"active_work_seconds": active,
	})
	return nil
}

func (m *Manager) savePlan(st *state.TaskState) {
	if err := m.store.SavePlan(st); err != nil {
		m.logger.Warn("plan.md not written", "error", err.Error())
	}
}

func (m *Manager) progress(st *state.TaskState, at time.Time, line string) {
	if err := m.store.AppendProgress(st.RunID, at, line); err != nil {
		m.logger.Warn("progress.md not written", "error", err.Error())
	}
}

func (m *Manager) note(st *state.TaskState, heading, notes string) {
	if err := m.store.AppendContext(st.RunID, heading, notes); err != nil {
		m.logger.Warn("context.md not written", "error", err.Error())
	}
}

// MarkMerged applies a merged PR to the record: the group is done, its
// tasks too, and the PR slot is free again.
func MarkMerged(st *state.TaskState) {
	pr := st.CurrentPR
	if pr == nil {
		return
	}
	if pr.Group >= 0 && pr.Group < len(st.Groups) {
		st.Groups[pr.Group].Done = true
		st.Groups[pr.Group].PRNumber = pr.Number
		for _, i := range st.GroupTasks(pr.Group) {
			st.Plan[i].Done = true
		}
	}
	st.PRsMerged++
	st.CurrentPR = nil
	st.PRStartTime = nil
	st.WorkflowStage = state.StageMerged
}

func prBody(st *state.TaskState, g int) string {
	var b strings.Builder
	b.WriteString("## Goal\n\n" + st.Goal + "\n\n## Tasks\n\n")
	for _, i := range st.GroupTasks(g) {
		b.WriteString("- " + st.Plan[i].Description + "\n")
	}
	b.WriteString("\n---\nOpened by taskpilot, run " + st.RunID + "\n")
	return b.String()
}

func successWord(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}
