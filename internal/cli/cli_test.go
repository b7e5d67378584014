package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/config"
	"github.com/imkarma/taskpilot/internal/mailbox"
	"github.com/imkarma/taskpilot/internal/orchestrator"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/store"
	"github.com/imkarma/taskpilot/internal/workflow"
)

func TestMain(m *testing.M) {
	colorEnabled = false
	os.Exit(m.Run())
}

// execute runs the command tree against a state directory inside dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--state-dir", filepath.Join(dir, ".taskpilot")))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func workingRun(t *testing.T, states *state.Store) *state.TaskState {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	st := state.New("add retries to the client", []string{"tests pass"}, state.DefaultOptions(), now)
	st.Status = workflow.StatusWorking
	st.Groups = []state.Group{{Title: "Retries", Done: true, PRNumber: 6}, {Title: "Docs"}}
	st.Plan = []state.Task{
		{Description: "add backoff", Group: 0, Done: true},
		{Description: "wire into client", Group: 0, Done: true},
		{Description: "document retries", Kind: "docs", Group: 1},
	}
	st.CurrentTaskIndex = 2
	if err := states.Initialize(st); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return st
}

func TestStartOptions(t *testing.T) {
	cmd := &cobra.Command{Use: "start"}
	addStartFlags(cmd.Flags())
	if err := cmd.ParseFlags([]string{"--max-sessions", "12", "--no-auto-merge", "--pause-on-pr", "--webhook", "https://hooks.test/x"}); err != nil {
		t.Fatal(err)
	}

	opts, err := startOptions(cmd)
	if err != nil {
		t.Fatalf("startOptions: %v", err)
	}
	sessions := 12
	want := state.Options{
		AutoMerge:   false,
		MaxSessions: &sessions,
		PauseOnPR:   true,
		WebhookURL:  "https://hooks.test/x",
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("options (-want +got):\n%s", diff)
	}
}

func TestStartOptions_Defaults(t *testing.T) {
	cmd := &cobra.Command{Use: "start"}
	addStartFlags(cmd.Flags())

	opts, err := startOptions(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if !opts.AutoMerge || opts.MaxSessions != nil || opts.MaxPRs != nil {
		t.Errorf("defaults: %+v", opts)
	}
}

func TestStartOptions_NegativeLimit(t *testing.T) {
	cmd := &cobra.Command{Use: "start"}
	addStartFlags(cmd.Flags())
	if err := cmd.ParseFlags([]string{"--max-prs", "-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := startOptions(cmd); err == nil {
		t.Error("expected an error for a negative limit")
	}
}

func TestOutcome(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		status   workflow.Status
		reason   string
		err      error
		wantCode int
	}{
		{"success", context.Background(), workflow.StatusSuccess, "", nil, ExitOK},
		{"limit pause", context.Background(), workflow.StatusPaused, "max_sessions reached (2/2)", nil, ExitOK},
		{"interrupted", context.Background(), workflow.StatusPaused, orchestrator.ReasonInterrupted, nil, ExitInterrupt},
		{"stopped", context.Background(), workflow.StatusBlocked, orchestrator.ReasonStopped, nil, ExitInterrupt},
		{"cancelled", cancelled, workflow.StatusPaused, "", nil, ExitInterrupt},
		{"blocked", context.Background(), workflow.StatusBlocked, "task #2 blocked: no tests", nil, ExitFailure},
		{"failed", context.Background(), workflow.StatusFailed, "agent crashed", nil, ExitFailure},
		{"invalid transition", context.Background(), workflow.StatusWorking, "",
			&workflow.InvalidTransitionError{From: workflow.StatusSuccess, To: workflow.StatusWorking}, ExitFailure},
		{"other error", context.Background(), workflow.StatusWorking, "", errors.New("disk full"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &state.TaskState{RunID: "20260301-103000", Status: tt.status, StatusReason: tt.reason}
			err := outcome(tt.ctx, st, tt.err)

			code := ExitOK
			if err != nil {
				code = ExitFailure
				var exit *ExitError
				if errors.As(err, &exit) {
					code = exit.Code
				}
			}
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (err %v)", code, tt.wantCode, err)
			}
		})
	}
}

func TestSummarizePayload(t *testing.T) {
	payload := `{"event_id":"e1","event_type":"task.completed","timestamp":"2026-03-01T10:30:00Z","run_id":"r",` +
		`"task_index":2,"task_description":"wire into client\nand more","duration_seconds":42.5}`
	got := summarizePayload(payload)
	want := "duration_seconds=42.5 task_description=wire into client task_index=2"
	if got != want {
		t.Errorf("summarizePayload = %q, want %q", got, want)
	}
	if got := summarizePayload("not json"); got != "not json" {
		t.Errorf("raw payload = %q", got)
	}
}

func TestPrintStatus(t *testing.T) {
	states := state.NewStore(t.TempDir())
	st := workingRun(t, states)
	sessions := 10
	st.Options.MaxSessions = &sessions
	st.SessionCount = 4
	st.PRsCreated, st.PRsMerged = 2, 1
	st.CurrentPR = &state.PRHandle{Number: 7, URL: "https://github.test/pr/7", Group: 1}
	st.WorkflowStage = state.StageWaitingCI

	var buf bytes.Buffer
	printStatus(&buf, st, nil)
	out := buf.String()
	for _, want := range []string{
		"Run 20260301-103000  working",
		"2/3 done, current #3 document retries",
		"4/10",
		"2 created, 1 merged",
		"#7 https://github.test/pr/7 [waiting_ci]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestEnsureStateDir(t *testing.T) {
	states := state.NewStore(filepath.Join(t.TempDir(), ".taskpilot"))

	created, err := ensureStateDir(states)
	if err != nil || !created {
		t.Fatalf("first ensureStateDir = %v, %v", created, err)
	}
	cfg, err := config.Load(states.Path(config.FileName))
	if err != nil {
		t.Fatalf("default config unreadable: %v", err)
	}
	if cfg.Hosting.Provider != "github" {
		t.Errorf("provider = %q", cfg.Hosting.Provider)
	}

	created, err = ensureStateDir(states)
	if err != nil || created {
		t.Errorf("second ensureStateDir = %v, %v", created, err)
	}
}

func TestMailboxSendAndList(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, dir, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}

	out, err := execute(t, dir, "mailbox", "send", "--priority", "urgent", "--sender", "alice",
		"--meta", "ticket=OPS-7", "stop touching the migrations")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "urgent, from alice") {
		t.Errorf("send output: %q", out)
	}

	db, err := store.New(filepath.Join(dir, ".taskpilot", dbFile))
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := db.UnconsumedMessages()
	db.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Sender != "alice" || m.Priority != 3 || m.Content != "stop touching the migrations" || m.Metadata["ticket"] != "OPS-7" {
		t.Errorf("stored message: %+v", m)
	}

	out, err = execute(t, dir, "mailbox", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "queued") || !strings.Contains(out, "alice") || !strings.Contains(out, "stop touching the migrations") {
		t.Errorf("list output: %q", out)
	}
}

func TestMailboxSend_BadPriority(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, dir, "init"); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, dir, "mailbox", "send", "--priority", "asap", "hello"); err == nil {
		t.Error("expected an error for an unknown priority")
	}
}

func TestMailbox_NotInitialized(t *testing.T) {
	_, err := execute(t, t.TempDir(), "mailbox", "list")
	if err == nil || !strings.Contains(err.Error(), "taskpilot init") {
		t.Errorf("err = %v, want init hint", err)
	}
}

func TestStart_RefusesExistingRun(t *testing.T) {
	dir := t.TempDir()
	workingRun(t, state.NewStore(filepath.Join(dir, ".taskpilot")))

	_, err := execute(t, dir, "start", "another goal")
	if err == nil || !strings.Contains(err.Error(), "resume") {
		t.Errorf("err = %v, want resume hint", err)
	}
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, ".taskpilot")
	states := state.NewStore(stateDir)
	if _, err := ensureStateDir(states); err != nil {
		t.Fatal(err)
	}
	st := workingRun(t, states)

	db, err := store.New(states.Path(dbFile))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AddEvent(store.Event{RunID: st.RunID, Type: "run.started"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := execute(t, dir, "clean"); err == nil {
		t.Fatal("clean of a resumable run should need --force")
	}
	if !states.Exists() {
		t.Fatal("run removed without --force")
	}

	if _, err := execute(t, dir, "clean", "--force"); err != nil {
		t.Fatalf("clean --force: %v", err)
	}
	if states.Exists() {
		t.Error("run still present after clean --force")
	}

	db, err = store.New(states.Path(dbFile))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	events, err := db.ListEvents(st.RunID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("events left after clean: %d", len(events))
	}
}

func TestPlan_NoRun(t *testing.T) {
	_, err := execute(t, t.TempDir(), "plan")
	if err == nil || !strings.Contains(err.Error(), "taskpilot start") {
		t.Errorf("err = %v, want start hint", err)
	}
}

func TestQueueResumeMessage(t *testing.T) {
	states := state.NewStore(filepath.Join(t.TempDir(), ".taskpilot"))
	if _, err := ensureStateDir(states); err != nil {
		t.Fatal(err)
	}
	st := workingRun(t, states)

	msg, err := queueResumeMessage(states, st, "  use the v2 endpoint\n")
	if err != nil {
		t.Fatalf("queueResumeMessage: %v", err)
	}
	if msg.Sender != "resume" || mailbox.Priority(msg.Priority) != mailbox.PriorityHigh {
		t.Errorf("queued message: %+v", msg)
	}

	db, err := store.New(states.Path(dbFile))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	msgs, err := db.UnconsumedMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "use the v2 endpoint" || msgs[0].Metadata["run_id"] != st.RunID {
		t.Errorf("stored messages: %+v", msgs)
	}
}

func TestQueueResumeMessage_Rejected(t *testing.T) {
	states := state.NewStore(filepath.Join(t.TempDir(), ".taskpilot"))
	st := workingRun(t, states)

	if _, err := queueResumeMessage(states, st, "   "); err == nil {
		t.Error("expected an error for an empty message")
	}
	st.MailboxEnabled = false
	if _, err := queueResumeMessage(states, st, "use v2"); err == nil || !strings.Contains(err.Error(), "--no-mailbox") {
		t.Errorf("err = %v, want --no-mailbox hint", err)
	}
}

func TestSignalCause(t *testing.T) {
	if err := SignalCause(syscall.SIGTERM); !errors.Is(err, orchestrator.ErrStopRequested) {
		t.Errorf("SIGTERM cause = %v", err)
	}
	if err := SignalCause(os.Interrupt); errors.Is(err, orchestrator.ErrStopRequested) {
		t.Errorf("SIGINT must pause, got cause %v", err)
	}
}

func TestPauseAndStop_SignalLockOwner(t *testing.T) {
	tests := []struct {
		cmd  string
		want os.Signal
	}{
		{"pause", os.Interrupt},
		{"stop", syscall.SIGTERM},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			dir := t.TempDir()
			lock, err := state.NewStore(filepath.Join(dir, ".taskpilot")).AcquireLock("20260301-103000")
			if err != nil {
				t.Fatal(err)
			}
			defer lock.Release()

			// This process owns the lock, so the signal comes back here.
			got := make(chan os.Signal, 1)
			signal.Notify(got, tt.want)
			defer signal.Stop(got)

			out, err := execute(t, dir, tt.cmd)
			if err != nil {
				t.Fatalf("%s: %v", tt.cmd, err)
			}
			if !strings.Contains(out, "20260301-103000") {
				t.Errorf("output: %q", out)
			}
			select {
			case sig := <-got:
				if sig != tt.want {
					t.Errorf("received %v, want %v", sig, tt.want)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("%v never arrived", tt.want)
			}
		})
	}
}

func TestStop_NothingRunning(t *testing.T) {
	_, err := execute(t, t.TempDir(), "stop")
	if err == nil || !strings.Contains(err.Error(), "no taskpilot process") {
		t.Errorf("err = %v", err)
	}
}
