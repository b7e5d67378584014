package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/imkarma/taskpilot/internal/workflow"
)

// testStore creates a store in a temporary directory with a fixed clock.
func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), DirName))
	s.SetClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	return s
}

func sampleState() *TaskState {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	st := New("add retries to the client", []string{"tests pass"}, DefaultOptions(), now)
	limit := 10
	st.Options.MaxSessions = &limit
	st.Status = workflow.StatusWorking
	st.Groups = []Group{{Title: "Retries"}, {Title: "Docs"}}
	st.Plan = []Task{
		{Description: "add backoff", Kind: "coding", Group: 0, SuccessCriteria: []string{"unit tests"}},
		{Description: "wire into client", Group: 0},
		{Description: "document retries", Kind: "docs", Group: 1},
	}
	started := now.Add(time.Minute)
	st.TaskStartTime = &started
	st.CurrentPR = &PRHandle{Number: 7, Branch: "taskpilot/retries", Status: &PRStatus{
		State: PROpen, CI: CIPending, Checks: []Check{{Name: "build", Conclusion: "PENDING"}},
		FetchedAt: now,
	}}
	st.PRActiveWorkSeconds = 12.5
	return st
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := testStore(t)
	st := sampleState()

	if err := s.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !got.UpdatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("updated_at not stamped: %v", got.UpdatedAt)
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoad_NotFound(t *testing.T) {
	s := testStore(t)
	if s.Exists() {
		t.Fatal("expected no state")
	}
	_, err := s.Load()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoad_CorruptJSON(t *testing.T) {
	s := testStore(t)
	os.MkdirAll(s.Dir(), 0755)
	os.WriteFile(s.Path("state.json"), []byte(`{"goal": "x", "status": `), 0644)

	_, err := s.Load()
	var ce *CorruptError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("corrupt record must not look like a missing one")
	}
}

func TestLoad_CorruptStructure(t *testing.T) {
	s := testStore(t)
	os.MkdirAll(s.Dir(), 0755)
	os.WriteFile(s.Path("state.json"), []byte(`{"goal":"x","run_id":"20260101-000000","status":"dancing"}`), 0644)

	_, err := s.Load()
	var ce *CorruptError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
	if !strings.Contains(err.Error(), "dancing") {
		t.Errorf("error should name the bad status: %v", err)
	}
}

func TestLoad_LegacyDefaults(t *testing.T) {
	s := testStore(t)
	os.MkdirAll(s.Dir(), 0755)
	legacy := `{
		"goal": "ship it",
		"run_id": "20250102-030405",
		"status": "working",
		"plan": [{"description": "one"}, {"description": "two"}],
		"current_task_index": 1,
		"session_count": 3,
		"created_at": "2025-01-02T03:04:05Z",
		"updated_at": "2025-01-02T03:04:05Z"
	}`
	os.WriteFile(s.Path("state.json"), []byte(legacy), 0644)

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.TaskStartTime != nil {
		t.Errorf("task_start_time: expected nil, got %v", st.TaskStartTime)
	}
	if st.PRStartTime != nil {
		t.Errorf("pr_start_time: expected nil, got %v", st.PRStartTime)
	}
	if st.PRActiveWorkSeconds != 0.0 {
		t.Errorf("pr_active_work_seconds: expected 0.0, got %f", st.PRActiveWorkSeconds)
	}
	if !st.Options.AutoMerge {
		t.Error("auto_merge should default to true")
	}
	if len(st.Groups) != 1 || st.Groups[0].Title != "Main" {
		t.Errorf("legacy plan should be grouped under Main, got %+v", st.Groups)
	}
	if st.Version != SchemaVersion {
		t.Errorf("version: expected %d, got %d", SchemaVersion, st.Version)
	}
}

func TestInitialize_RefusesExistingRun(t *testing.T) {
	s := testStore(t)
	st := New("goal", []string{"a", "b"}, DefaultOptions(), time.Now())
	if err := s.Initialize(st); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	goal, err := s.ReadGoal()
	if err != nil || goal != "goal" {
		t.Errorf("ReadGoal: %q, %v", goal, err)
	}
	crit, err := s.ReadCriteria()
	if err != nil || len(crit) != 2 {
		t.Errorf("ReadCriteria: %v, %v", crit, err)
	}
	if err := s.Initialize(st); err == nil {
		t.Fatal("expected error on second Initialize")
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	s := testStore(t)
	st := sampleState()
	st.Status = "bogus"
	if err := s.Save(st); err == nil {
		t.Fatal("expected error")
	}
	if s.Exists() {
		t.Error("invalid record must not be written")
	}
}

func TestSave_KeepsTerminalStatus(t *testing.T) {
	s := testStore(t)
	st := sampleState()
	st.Status = workflow.StatusSuccess
	if err := s.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Same status again is fine.
	if err := s.Save(st); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	st.Status = workflow.StatusWorking
	err := s.Save(st)
	var ite *workflow.InvalidTransitionError
	if !errors.As(err, &ite) || ite.From != workflow.StatusSuccess {
		t.Fatalf("expected InvalidTransitionError from success, got %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != workflow.StatusSuccess {
		t.Errorf("persisted status = %s", got.Status)
	}
}

func TestClear(t *testing.T) {
	s := testStore(t)
	st := New("goal", nil, DefaultOptions(), time.Now())
	if err := s.Initialize(st); err != nil {
		t.Fatal(err)
	}
	s.AppendProgress(st.RunID, time.Now(), "hello")
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Exists() {
		t.Error("state still present")
	}
	if _, err := os.Stat(s.RunDir(st.RunID)); !os.IsNotExist(err) {
		t.Error("run dir still present")
	}
}
