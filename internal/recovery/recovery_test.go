package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imkarma/taskpilot/internal/hosting"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/workflow"
)

type fakeSource struct {
	status *state.PRStatus
	err    error
	calls  int
}

func (f *fakeSource) GetStatus(ctx context.Context, pr *state.PRHandle) (*state.PRStatus, error) {
	f.calls++
	return f.status, f.err
}

func runWithPR(status workflow.Status) *state.TaskState {
	opened := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	st := state.New("goal", nil, state.DefaultOptions(), opened)
	st.Status = status
	st.PRStartTime = &opened
	st.Groups = []state.Group{{Title: "First"}, {Title: "Second"}}
	st.Plan = []state.Task{
		{Description: "a", Group: 0, Done: true},
		{Description: "b", Group: 1},
	}
	st.CurrentPR = &state.PRHandle{Number: 9, Group: 0}
	st.PRsCreated = 1
	return st
}

func TestRecover_NoPR(t *testing.T) {
	src := &fakeSource{}
	st := runWithPR(workflow.StatusPaused)
	st.CurrentPR = nil

	rec, err := Recover(context.Background(), src, st)
	if rec != nil || err != nil || src.calls != 0 {
		t.Errorf("rec=%v err=%v calls=%d", rec, err, src.calls)
	}
}

func TestRecover_Divergences(t *testing.T) {
	tests := []struct {
		name      string
		persisted workflow.Status
		status    *state.PRStatus
		err       error
		want      workflow.Status
		merged    bool
		abandoned bool
	}{
		{
			name:      "merged while working",
			persisted: workflow.StatusWorking,
			status:    &state.PRStatus{State: state.PRMerged, CI: state.CISuccess},
			want:      workflow.StatusWorking,
			merged:    true,
		},
		{
			name:      "merged while paused for review",
			persisted: workflow.StatusPaused,
			status:    &state.PRStatus{State: state.PRMerged, CI: state.CISuccess},
			want:      workflow.StatusWorking,
			merged:    true,
		},
		{
			name:      "closed",
			persisted: workflow.StatusWorking,
			status:    &state.PRStatus{State: state.PRClosed, CI: state.CIFailure},
			want:      workflow.StatusBlocked,
			abandoned: true,
		},
		{
			name:      "missing",
			persisted: workflow.StatusPaused,
			err:       &hosting.Error{Kind: hosting.KindNotFound, Op: "get status", Err: errors.New("404")},
			want:      workflow.StatusBlocked,
			abandoned: true,
		},
		{
			name:      "blocked but CI green",
			persisted: workflow.StatusBlocked,
			status:    &state.PRStatus{State: state.PROpen, CI: state.CISuccess},
			want:      workflow.StatusWorking,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := runWithPR(tt.persisted)
			rec, err := Recover(context.Background(), &fakeSource{status: tt.status, err: tt.err}, st)
			if err != nil {
				t.Fatalf("Recover: %v", err)
			}
			if rec == nil {
				t.Fatal("expected a recovered state")
			}
			if rec.CorrectedStatus != tt.want || rec.Merged != tt.merged || rec.Abandoned != tt.abandoned || rec.Reason == "" {
				t.Errorf("recovered: %+v", rec)
			}

			if err := Apply(st, rec); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if st.Status != tt.want || st.StatusReason != rec.Reason {
				t.Errorf("status = %s (%q)", st.Status, st.StatusReason)
			}
			if tt.merged {
				if st.CurrentPR != nil || !st.Groups[0].Done || st.PRsMerged != 1 {
					t.Errorf("merge not applied: pr=%v group=%+v merged=%d", st.CurrentPR, st.Groups[0], st.PRsMerged)
				}
			}
			if tt.abandoned {
				if st.CurrentPR != nil || st.PRStartTime != nil || st.Groups[0].Done || st.PRsMerged != 0 {
					t.Errorf("dead PR not released: pr=%v group=%+v merged=%d", st.CurrentPR, st.Groups[0], st.PRsMerged)
				}
			}
		})
	}
}

func TestRecover_NoDivergence(t *testing.T) {
	tests := []struct {
		name      string
		persisted workflow.Status
		status    *state.PRStatus
	}{
		{"working with pending CI", workflow.StatusWorking, &state.PRStatus{State: state.PROpen, CI: state.CIPending}},
		{"blocked with failing CI", workflow.StatusBlocked, &state.PRStatus{State: state.PROpen, CI: state.CIFailure}},
		{"blocked with open threads", workflow.StatusBlocked, &state.PRStatus{State: state.PROpen, CI: state.CISuccess, UnresolvedThreads: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Recover(context.Background(), &fakeSource{status: tt.status}, runWithPR(tt.persisted))
			if rec != nil || err != nil {
				t.Errorf("rec=%+v err=%v", rec, err)
			}
		})
	}
}

func TestRecover_HostingErrorPropagates(t *testing.T) {
	src := &fakeSource{err: &hosting.Error{Kind: hosting.KindAuth, Op: "get status", Err: errors.New("401")}}
	_, err := Recover(context.Background(), src, runWithPR(workflow.StatusPaused))
	if hosting.KindOf(err) != hosting.KindAuth {
		t.Errorf("expected auth error, got %v", err)
	}
}

func TestApply_RejectsInvalidTransition(t *testing.T) {
	st := runWithPR(workflow.StatusWorking)
	st.Status = workflow.StatusSuccess
	rec := &RecoveredState{CorrectedStatus: workflow.StatusWorking, Reason: "x", Merged: true}

	err := Apply(st, rec)
	var ite *workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if st.CurrentPR == nil || st.PRsMerged != 0 {
		t.Error("a rejected recovery must not modify the record")
	}
}
