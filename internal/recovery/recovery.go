// Package recovery reconciles a persisted run with the hosting side before
// the run resumes.
package recovery

import (
	"context"
	"fmt"

	"github.com/imkarma/taskpilot/internal/hosting"
	"github.com/imkarma/taskpilot/internal/prcycle"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/workflow"
)

// StatusSource fetches the hosting truth of a PR.
type StatusSource interface {
	GetStatus(ctx context.Context, pr *state.PRHandle) (*state.PRStatus, error)
}

// RecoveredState is a correction for a persisted status that went stale
// while the run was stopped.
type RecoveredState struct {
	CorrectedStatus workflow.Status
	Reason          string
	SourceTruth     *state.PRStatus
	// Merged marks that the open PR was merged outside taskpilot and its
	// group must be completed.
	Merged bool
	// Abandoned marks a PR that was closed or deleted. The PR slot is freed
	// and the group stays open, so the next resume opens a new PR for it.
	Abandoned bool
}

// Recover compares the persisted run with the hosting truth of its open PR.
// It returns nil when there is no PR or nothing diverged. Hosting errors
// other than a missing PR are returned as is.
func Recover(ctx context.Context, src StatusSource, st *state.TaskState) (*RecoveredState, error) {
	pr := st.CurrentPR
	if pr == nil {
		return nil, nil
	}

	status, err := src.GetStatus(ctx, pr)
	if err != nil {
		if hosting.KindOf(err) == hosting.KindNotFound {
			return &RecoveredState{
				CorrectedStatus: workflow.StatusBlocked,
				Reason:          fmt.Sprintf("PR #%d no longer exists on the hosting side", pr.Number),
				Abandoned:       true,
			}, nil
		}
		return nil, err
	}

	switch status.State {
	case state.PRMerged:
		return &RecoveredState{
			CorrectedStatus: workflow.StatusWorking,
			Reason:          fmt.Sprintf("PR #%d was merged while the run was stopped", pr.Number),
			SourceTruth:     status,
			Merged:          true,
		}, nil
	case state.PRClosed:
		return &RecoveredState{
			CorrectedStatus: workflow.StatusBlocked,
			Reason:          fmt.Sprintf("PR #%d was closed without merging", pr.Number),
			SourceTruth:     status,
			Abandoned:       true,
		}, nil
	}

	if st.Status == workflow.StatusBlocked && status.CI == state.CISuccess && status.UnresolvedThreads == 0 {
		return &RecoveredState{
			CorrectedStatus: workflow.StatusWorking,
			Reason:          fmt.Sprintf("CI for PR #%d is green now", pr.Number),
			SourceTruth:     status,
		}, nil
	}
	return nil, nil
}

// Apply commits a recovered state to the record. The status change is
// validated before anything is modified.
func Apply(st *state.TaskState, rec *RecoveredState) error {
	if rec == nil {
		return nil
	}
	if err := workflow.Validate(st.Status, rec.CorrectedStatus); err != nil {
		return fmt.Errorf("apply recovery: %w", err)
	}
	if rec.SourceTruth != nil && st.CurrentPR != nil {
		st.CurrentPR.Status = rec.SourceTruth
	}
	switch {
	case rec.Merged:
		prcycle.MarkMerged(st)
	case rec.Abandoned:
		st.CurrentPR = nil
		st.PRStartTime = nil
		st.PRActiveWorkSeconds = 0
		st.WorkflowStage = state.StageWorking
	}
	return st.Transition(rec.CorrectedStatus, rec.Reason)
}
