// Package orchestrator drives a run from planning to success, a pause or a
// failure. It works one task per session, hands finished task groups to the
// PR cycle and folds mailbox messages into the plan between tasks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/imkarma/taskpilot/internal/agent"
	"github.com/imkarma/taskpilot/internal/git"
	"github.com/imkarma/taskpilot/internal/hosting"
	"github.com/imkarma/taskpilot/internal/logging"
	"github.com/imkarma/taskpilot/internal/mailbox"
	"github.com/imkarma/taskpilot/internal/notify"
	"github.com/imkarma/taskpilot/internal/prcycle"
	"github.com/imkarma/taskpilot/internal/recovery"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/workflow"
)

// Status reasons of a run ended by an external signal.
const (
	ReasonInterrupted = "interrupted"
	ReasonStopped     = "stopped"
)

// ErrStopRequested is the cancel cause of a run asked to stop rather than
// pause. Such a run ends blocked instead of paused.
var ErrStopRequested = errors.New("stop requested")

// Workspace is the git checkout tasks are committed to.
type Workspace interface {
	// StartBranch switches to branch, cutting it from base when it does
	// not exist yet.
	StartBranch(ctx context.Context, branch, base string) error
	CommitAll(ctx context.Context, msg string) (bool, error)
}

// Deps are the collaborators of an Orchestrator. Host, Mailbox, Events,
// Logger, Workspace and Out are optional.
type Deps struct {
	Agent     agent.Agent
	Host      hosting.Host
	Store     *state.Store
	Mailbox   *mailbox.Merger
	Events    *notify.Dispatcher
	Logger    *logging.Logger
	Workspace Workspace
	PR        prcycle.Config
	Out       io.Writer
}

// Orchestrator runs one task state to completion.
type Orchestrator struct {
	agent     agent.Agent
	host      hosting.Host
	store     *state.Store
	mailbox   *mailbox.Merger
	events    *notify.Dispatcher
	logger    *logging.Logger
	workspace Workspace
	base      string
	prs       *prcycle.Manager
	out       io.Writer

	now func() time.Time
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	out := d.Out
	if out == nil {
		out = io.Discard
	}
	o := &Orchestrator{
		agent:     d.Agent,
		host:      d.Host,
		store:     d.Store,
		mailbox:   d.Mailbox,
		events:    d.Events,
		logger:    logger,
		workspace: d.Workspace,
		base:      d.PR.BaseBranch,
		out:       out,
		now:       time.Now,
	}
	if d.Host != nil {
		o.prs = prcycle.NewManager(d.Host, d.Agent, d.Store, d.Events, logger, d.PR)
		if d.Workspace != nil {
			o.prs.SetCommitter(d.Workspace)
		}
	}
	return o
}

// SetClock replaces the clock and the sleep used between CI polls.
func (o *Orchestrator) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	o.now = now
	if o.prs != nil {
		o.prs.SetClock(now, sleep)
	}
}

// blockedError stops the run in the blocked status.
type blockedError struct{ reason string }

func (e *blockedError) Error() string { return e.reason }

// Resume validates a stopped run, reconciles it with the hosting side and
// runs it.
func (o *Orchestrator) Resume(ctx context.Context, st *state.TaskState) error {
	if err := state.ValidateForResume(st); err != nil {
		return err
	}
	if o.host != nil {
		rec, err := recovery.Recover(ctx, o.host, st)
		if err != nil {
			o.logger.Warn("state recovery skipped", "error", err.Error())
		} else if rec != nil {
			from := st.Status
			if err := recovery.Apply(st, rec); err != nil {
				return err
			}
			o.logger.Info("state recovered", "from", string(from), "to", string(rec.CorrectedStatus), "reason", rec.Reason)
			o.say("Recovered: %s", rec.Reason)
			if err := o.store.Save(st); err != nil {
				return err
			}
			o.savePlan(st)
			o.statusChanged(ctx, st, from)
			if st.Status == workflow.StatusBlocked {
				return nil
			}
		}
	}
	return o.Run(ctx, st)
}

// Run drives st until it succeeds, pauses, blocks or fails. The outcome is
// recorded in st and persisted; the returned error is only non-nil when
// the state itself could not be written or a transition was rejected.
func (o *Orchestrator) Run(ctx context.Context, st *state.TaskState) error {
	if err := o.reopen(ctx, st); err != nil {
		return err
	}

	o.logger.Info("run started", "status", string(st.Status), "tasks", len(st.Plan), "sessions", st.SessionCount)
	o.events.Send(ctx, notify.RunStarted, st.RunID, map[string]any{
		"goal":            st.Goal,
		"total_tasks":     len(st.Plan),
		"completed_tasks": st.CompletedTasks(),
	})

	for st.Status == workflow.StatusPlanning || st.Status == workflow.StatusWorking {
		if err := o.step(ctx, st); err != nil {
			if err := o.stop(ctx, st, err); err != nil {
				return err
			}
		}
	}

	o.logger.Info("run stopped", "status", string(st.Status), "reason", st.StatusReason, "sessions", st.SessionCount)
	o.events.Send(ctx, notify.RunCompleted, st.RunID, map[string]any{
		"status":          string(st.Status),
		"reason":          st.StatusReason,
		"total_tasks":     len(st.Plan),
		"completed_tasks": st.CompletedTasks(),
		"prs_merged":      st.PRsMerged,
	})
	return nil
}

// reopen moves a paused or blocked run back to planning or working.
func (o *Orchestrator) reopen(ctx context.Context, st *state.TaskState) error {
	if st.Status != workflow.StatusPaused && st.Status != workflow.StatusBlocked {
		return nil
	}
	to := workflow.StatusWorking
	if len(st.Plan) == 0 {
		to = workflow.StatusPlanning
	}
	return o.setStatus(ctx, st, to, "")
}

// step performs one unit of progress. Every state change it makes is
// saved before it returns.
func (o *Orchestrator) step(ctx context.Context, st *state.TaskState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.Status == workflow.StatusPlanning {
		return o.plan(ctx, st)
	}

	task, err := st.CurrentTask()
	if err != nil {
		return &blockedError{reason: err.Error()}
	}
	if !task.Done {
		return o.work(ctx, st)
	}

	idx := st.CurrentTaskIndex
	start, size := st.GroupSpan(idx)
	if GroupRemaining(size, idx-start) == 0 && !st.Groups[task.Group].Done {
		return o.completeGroup(ctx, st)
	}
	if idx+1 < len(st.Plan) {
		st.CurrentTaskIndex++
		return o.store.Save(st)
	}
	return o.finish(ctx, st)
}

func (o *Orchestrator) plan(ctx context.Context, st *state.TaskState) error {
	if err := o.beginSession(ctx, st, "plan"); err != nil {
		return err
	}
	o.say("Planning: %s", st.Goal)

	started := o.now()
	res, err := o.agent.Plan(ctx, st.Goal, st.Criteria)
	if err != nil {
		return err
	}
	if err := st.SetPlan(res.Groups, res.Tasks); err != nil {
		return &blockedError{reason: "planning produced no usable plan: " + err.Error()}
	}
	if err := o.setStatus(ctx, st, workflow.StatusWorking, ""); err != nil {
		return err
	}
	st.WorkflowStage = state.StageWorking
	if err := o.store.Save(st); err != nil {
		return err
	}
	o.savePlan(st)
	o.progress(st, o.now(), fmt.Sprintf("Planned %d tasks in %d groups", len(st.Plan), len(st.Groups)))
	o.endSession(ctx, st, "plan", o.now().Sub(started).Seconds())

	o.logger.Info("plan ready", "tasks", len(st.Plan), "groups", len(st.Groups))
	o.say("Plan ready: %d tasks in %d PR groups", len(st.Plan), len(st.Groups))
	o.events.Send(ctx, notify.PlanUpdated, st.RunID, map[string]any{
		"total_tasks": len(st.Plan),
		"groups":      len(st.Groups),
	})
	return nil
}

func (o *Orchestrator) work(ctx context.Context, st *state.TaskState) error {
	if err := checkSessions(st); err != nil {
		return err
	}
	idx := st.CurrentTaskIndex
	task := st.Plan[idx]
	group := st.Groups[task.Group]

	if o.host != nil && o.workspace != nil {
		if err := o.workspace.StartBranch(ctx, git.BranchName(st.RunID, task.Group, group.Title), o.base); err != nil {
			return err
		}
	}

	if st.TaskStartTime == nil {
		now := o.now()
		st.TaskStartTime = &now
	}
	st.WorkflowStage = state.StageWorking
	if err := o.beginSession(ctx, st, "work"); err != nil {
		return err
	}
	sessionStart := o.now()

	log := o.logger.With("task", idx+1)
	log.Info("task started", "description", task.Description, "group", group.Title)
	o.say("Task #%d/%d: %s", idx+1, len(st.Plan), task.Description)
	o.events.Send(ctx, notify.TaskStarted, st.RunID, o.taskData(st, idx))

	notes, _ := o.store.ReadContext(st.RunID)
	wc := agent.WorkContext{
		Goal:       st.Goal,
		TaskNumber: idx + 1,
		TotalTasks: len(st.Plan),
		GroupTitle: group.Title,
		Notes:      notes,
	}
	res, err := o.agent.Work(ctx, task, wc)
	if err != nil {
		return err
	}
	if res.Success && len(task.SuccessCriteria) > 0 {
		vr, err := o.agent.Verify(ctx, task.Description, task.SuccessCriteria)
		if err != nil {
			return err
		}
		if !vr.Passed {
			res.Success = false
			res.Notes = "verification failed: " + vr.Notes
		}
	}

	now := o.now()
	sessionSeconds := now.Sub(sessionStart).Seconds()
	duration := TaskDuration(st.TaskStartTime, now, sessionSeconds)
	o.note(st, fmt.Sprintf("Task %d: %s", idx+1, task.Description), res.Notes)
	o.endSession(ctx, st, "work", sessionSeconds)

	if !res.Success {
		log.Warn("task blocked", "notes", res.Notes)
		data := o.taskData(st, idx)
		data["error_message"] = res.Notes
		data["recoverable"] = true
		o.events.Send(ctx, notify.TaskFailed, st.RunID, data)
		o.progress(st, now, fmt.Sprintf("Task #%d blocked: %s", idx+1, res.Notes))
		return &blockedError{reason: fmt.Sprintf("task #%d blocked: %s", idx+1, res.Notes)}
	}

	if o.workspace != nil {
		if _, err := o.workspace.CommitAll(ctx, fmt.Sprintf("taskpilot: task %d: %s", idx+1, task.Description)); err != nil {
			return err
		}
	}

	st.Plan[idx].Done = true
	st.TaskStartTime = nil
	if err := o.store.Save(st); err != nil {
		return err
	}
	o.savePlan(st)

	timing := fmt.Sprintf("[TIMING] Task #%d completed in %s", idx+1, FormatDuration(duration))
	log.Info(timing, "duration_seconds", duration)
	o.say("%s", timing)
	o.progress(st, now, fmt.Sprintf("Task #%d done in %s: %s", idx+1, FormatDuration(duration), task.Description))
	data := o.taskData(st, idx)
	data["duration_seconds"] = duration
	o.events.Send(ctx, notify.TaskCompleted, st.RunID, data)

	return o.mergeMailbox(ctx, st)
}

// completeGroup hands a finished group to the PR cycle, or closes it
// directly when there is no hosting.
func (o *Orchestrator) completeGroup(ctx context.Context, st *state.TaskState) error {
	g := st.Plan[st.CurrentTaskIndex].Group
	if o.prs == nil {
		st.Groups[g].Done = true
		if err := o.store.Save(st); err != nil {
			return err
		}
		o.savePlan(st)
		o.progress(st, o.now(), fmt.Sprintf("Group %q complete", st.Groups[g].Title))
		o.say("Group complete: %s", st.Groups[g].Title)
		return nil
	}

	o.say("Opening PR for %q", st.Groups[g].Title)
	res, err := o.prs.Run(ctx, st)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case prcycle.Merged:
		o.say("Merged PR for %q", st.Groups[g].Title)
		return nil
	case prcycle.AwaitingMerge, prcycle.Paused:
		return o.pause(ctx, st, res.Reason)
	default:
		return &blockedError{reason: res.Reason}
	}
}

// finish runs once every task and group is done: late mailbox messages
// reopen the run, otherwise the overall criteria decide the outcome.
func (o *Orchestrator) finish(ctx context.Context, st *state.TaskState) error {
	before := len(st.Plan)
	if err := o.mergeMailbox(ctx, st); err != nil {
		return err
	}
	if len(st.Plan) > before {
		return nil
	}

	if len(st.Criteria) > 0 {
		if err := o.beginSession(ctx, st, "verify"); err != nil {
			return err
		}
		started := o.now()
		vr, err := o.agent.Verify(ctx, st.Goal, st.Criteria)
		if err != nil {
			return err
		}
		o.note(st, "Final verification", vr.Notes)
		o.endSession(ctx, st, "verify", o.now().Sub(started).Seconds())
		if !vr.Passed {
			return &blockedError{reason: "final verification failed: " + vr.Notes}
		}
	}

	if err := o.setStatus(ctx, st, workflow.StatusSuccess, ""); err != nil {
		return err
	}
	if err := o.store.Save(st); err != nil {
		return err
	}
	o.progress(st, o.now(), "Goal achieved")
	o.say("Goal achieved in %d sessions", st.SessionCount)
	return nil
}

// mergeMailbox folds pending change requests into the plan. The plan and
// the merged IDs are saved before the messages are flagged consumed.
func (o *Orchestrator) mergeMailbox(ctx context.Context, st *state.TaskState) error {
	if o.mailbox == nil {
		return nil
	}
	res, err := o.mailbox.CheckAndMerge(st)
	if err != nil {
		o.logger.Warn("mailbox check failed", "error", err.Error())
		return nil
	}
	if res.MessagesMerged > 0 {
		if err := o.store.Save(st); err != nil {
			return err
		}
		o.savePlan(st)
		o.progress(st, o.now(), fmt.Sprintf("Merged %d mailbox messages", res.MessagesMerged))
		o.logger.Info("mailbox merged", "messages", res.MessagesMerged, "group", res.Group)
		o.say("Mailbox: merged %d change requests", res.MessagesMerged)
		o.events.Send(ctx, notify.PlanUpdated, st.RunID, map[string]any{
			"total_tasks":     len(st.Plan),
			"messages_merged": res.MessagesMerged,
		})
	}
	if err := o.mailbox.Commit(res); err != nil {
		o.logger.Warn("mailbox commit failed", "error", err.Error())
	}
	return nil
}

// stop maps an error from a step to the status the run ends in and saves
// it.
func (o *Orchestrator) stop(ctx context.Context, st *state.TaskState, cause error) error {
	var (
		limit   *workflow.LimitExceededError
		blocked *blockedError
		invalid *workflow.InvalidTransitionError
		agErr   *agent.Error
	)

	to, reason, kind := workflow.StatusFailed, cause.Error(), "internal"
	switch {
	case ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrStopRequested):
		to, reason, kind = workflow.StatusBlocked, ReasonStopped, ""
	case ctx.Err() != nil:
		to, reason, kind = workflow.StatusPaused, ReasonInterrupted, ""
	case errors.As(cause, &limit):
		to, kind = workflow.StatusPaused, ""
	case errors.As(cause, &blocked):
		to, kind = workflow.StatusBlocked, ""
	case errors.As(cause, &invalid):
		return cause
	case errors.As(cause, &agErr):
		kind = "agent"
	case hosting.KindOf(cause) != "":
		kind = "hosting"
		switch hosting.KindOf(cause) {
		case hosting.KindTimeout, hosting.KindMerge:
			to = workflow.StatusBlocked
		}
	}

	if kind != "" {
		st.RecordError(kind, cause)
		o.logger.Error("run stopped by error", "error", cause.Error(), "type", kind)
		o.events.Send(ctx, notify.TaskFailed, st.RunID, map[string]any{
			"task_index":    st.CurrentTaskIndex,
			"error_message": cause.Error(),
			"error_type":    kind,
			"recoverable":   to != workflow.StatusFailed,
		})
	}
	if err := o.setStatus(ctx, st, to, reason); err != nil {
		return err
	}
	if err := o.store.Save(st); err != nil {
		return err
	}
	o.progress(st, o.now(), fmt.Sprintf("Run %s: %s", to, reason))
	o.say("Run %s: %s", to, reason)
	return nil
}

func (o *Orchestrator) pause(ctx context.Context, st *state.TaskState, reason string) error {
	if err := o.setStatus(ctx, st, workflow.StatusPaused, reason); err != nil {
		return err
	}
	if err := o.store.Save(st); err != nil {
		return err
	}
	o.progress(st, o.now(), "Run paused: "+reason)
	o.say("Paused: %s", reason)
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, st *state.TaskState, to workflow.Status, reason string) error {
	from := st.Status
	if err := st.Transition(to, reason); err != nil {
		return err
	}
	o.statusChanged(ctx, st, from)
	return nil
}

func (o *Orchestrator) statusChanged(ctx context.Context, st *state.TaskState, from workflow.Status) {
	if from == st.Status {
		return
	}
	o.logger.Info("status changed", "from", string(from), "to", string(st.Status), "reason", st.StatusReason)
	o.events.Send(ctx, notify.StatusChanged, st.RunID, map[string]any{
		"from_status": string(from),
		"to_status":   string(st.Status),
		"reason":      st.StatusReason,
	})
}

// checkSessions enforces max_sessions before a new session starts.
func checkSessions(st *state.TaskState) error {
	if limit := st.Options.MaxSessions; limit != nil && st.SessionCount >= *limit {
		return &workflow.LimitExceededError{Limit: workflow.LimitSessions, Current: st.SessionCount, Max: *limit}
	}
	return nil
}

// beginSession counts a new agent session and persists the count.
func (o *Orchestrator) beginSession(ctx context.Context, st *state.TaskState, kind string) error {
	if err := checkSessions(st); err != nil {
		return err
	}
	st.SessionCount++
	if err := o.store.Save(st); err != nil {
		return err
	}
	o.logger.Debug("session started", "session", st.SessionCount, "kind", kind)
	o.events.Send(ctx, notify.SessionStarted, st.RunID, map[string]any{
		"session": st.SessionCount,
		"kind":    kind,
	})
	return nil
}

func (o *Orchestrator) endSession(ctx context.Context, st *state.TaskState, kind string, seconds float64) {
	o.events.Send(ctx, notify.SessionCompleted, st.RunID, map[string]any{
		"session":          st.SessionCount,
		"kind":             kind,
		"duration_seconds": seconds,
	})
}

func (o *Orchestrator) taskData(st *state.TaskState, idx int) map[string]any {
	return map[string]any{
		"task_index":       idx,
		"task_description": st.Plan[idx].Description,
		"total_tasks":      len(st.Plan),
		"completed_tasks":  st.CompletedTasks(),
	}
}

// savePlan, progress and note write the run documents. Failures are
// logged and the run goes on.
func (o *Orchestrator) savePlan(st *state.TaskState) {
	if err := o.store.SavePlan(st); err != nil {
		o.logger.Warn("plan.md not written", "error", err.Error())
	}
}

func (o *Orchestrator) progress(st *state.TaskState, at time.Time, line string) {
	if err := o.store.AppendProgress(st.RunID, at, line); err != nil {
		o.logger.Warn("progress.md not written", "error", err.Error())
	}
}

func (o *Orchestrator) note(st *state.TaskState, heading, notes string) {
	if err := o.store.AppendContext(st.RunID, heading, notes); err != nil {
		o.logger.Warn("context.md not written", "error", err.Error())
	}
}

func (o *Orchestrator) say(format string, args ...any) {
	fmt.Fprintf(o.out, "  "+format+"\n", args...)
}
