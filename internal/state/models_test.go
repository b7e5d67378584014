package state

import (
	"errors"
	"testing"
	"time"

	"github.com/imkarma/taskpilot/internal/workflow"
)

func TestNew_RunID(t *testing.T) {
	st := New("g", nil, DefaultOptions(), time.Date(2026, 10, 19, 8, 5, 9, 0, time.UTC))
	if st.RunID != "20261019-080509" {
		t.Errorf("run id: got %q", st.RunID)
	}
	if len(st.RunID) != 15 {
		t.Errorf("run id length: got %d", len(st.RunID))
	}
	if st.Status != workflow.StatusPlanning {
		t.Errorf("status: got %s", st.Status)
	}
}

func TestTransition(t *testing.T) {
	st := New("g", nil, DefaultOptions(), time.Now())
	if err := st.Transition(workflow.StatusWorking, ""); err != nil {
		t.Fatalf("planning -> working: %v", err)
	}
	if err := st.Transition(workflow.StatusSuccess, "done"); err != nil {
		t.Fatalf("working -> success: %v", err)
	}
	err := st.Transition(workflow.StatusWorking, "")
	var ite *workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if st.Status != workflow.StatusSuccess || st.StatusReason != "done" {
		t.Errorf("terminal state mutated: %s %q", st.Status, st.StatusReason)
	}
}

func TestGroupSpan(t *testing.T) {
	st := sampleState()
	start, size := st.GroupSpan(1)
	if start != 0 || size != 2 {
		t.Errorf("group of task 1: got start=%d size=%d", start, size)
	}
	start, size = st.GroupSpan(2)
	if start != 2 || size != 1 {
		t.Errorf("group of task 2: got start=%d size=%d", start, size)
	}
	if _, size := st.GroupSpan(9); size != 0 {
		t.Errorf("out of range: got size %d", size)
	}
}

func TestSetPlan_PRPerTask(t *testing.T) {
	st := New("g", nil, Options{AutoMerge: true, PRPerTask: true}, time.Now())
	err := st.SetPlan([]Group{{Title: "All"}}, []Task{
		{Description: "a", Group: 0},
		{Description: "b", Group: 0},
	})
	if err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	if len(st.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(st.Groups))
	}
	if st.Plan[1].Group != 1 || st.Groups[1].Title != "b" {
		t.Errorf("task b should be alone in group 1: %+v %+v", st.Plan[1], st.Groups[1])
	}
	if err := st.SetPlan(nil, []Task{{Description: "c"}}); err == nil {
		t.Error("expected error replacing a plan")
	}
}

func TestAppendGroup_KeepsExistingTasks(t *testing.T) {
	st := sampleState()
	before := append([]Task(nil), st.Plan...)
	g := st.AppendGroup("Change requests (1)", []Task{{Description: "rename flag", Done: true}})
	if g != 2 {
		t.Errorf("group index: got %d", g)
	}
	for i := range before {
		if st.Plan[i].Description != before[i].Description {
			t.Errorf("task %d moved", i)
		}
	}
	last := st.Plan[len(st.Plan)-1]
	if last.Group != 2 || last.Done {
		t.Errorf("appended task: %+v", last)
	}
}

func TestCurrentTask_Bounds(t *testing.T) {
	st := sampleState()
	st.CurrentTaskIndex = 3
	if _, err := st.CurrentTask(); err == nil {
		t.Fatal("expected out of bounds error")
	}
	st.CurrentTaskIndex = 2
	task, err := st.CurrentTask()
	if err != nil || task.Description != "document retries" {
		t.Fatalf("CurrentTask: %v %v", task, err)
	}
}
