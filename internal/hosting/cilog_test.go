package hosting

import (
	"testing"

	"github.com/imkarma/taskpilot/internal/state"
)

func TestFormatCIFailure_Empty(t *testing.T) {
	if got := FormatCIFailure(&state.PRStatus{}); got != "ci_failure:" {
		t.Errorf("got %q", got)
	}
	if got := FormatCIFailure(nil); got != "ci_failure:" {
		t.Errorf("got %q", got)
	}
}

func TestFormatCIFailure_OnlyFailures(t *testing.T) {
	st := &state.PRStatus{Checks: []state.Check{
		{Name: "lint", Conclusion: "SUCCESS", URL: "https://ci/lint"},
		{Name: "test", Conclusion: "FAILURE", URL: "https://ci/test"},
		{Name: "deploy", Conclusion: "error"},
		{Name: "e2e", Conclusion: "PENDING"},
	}}
	want := "ci_failure:\n- test: FAILURE\n  https://ci/test\n- deploy: ERROR"
	if got := FormatCIFailure(st); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatCIFailure_Summary(t *testing.T) {
	st := &state.PRStatus{Checks: []state.Check{
		{Name: "test", Conclusion: "FAILURE", Summary: "FAIL: TestA\nFAIL: TestB"},
	}}
	want := "ci_failure:\n- test: FAILURE\n  FAIL: TestA\n  FAIL: TestB"
	if got := FormatCIFailure(st); got != want {
		t.Errorf("got %q", got)
	}
}

func TestExtractErrors(t *testing.T) {
	log := "Run go test ./...\nok  pkg/a\n--- FAIL: TestX\nError: expected 1\n##[error]Process completed with exit code 1.\nnoise\n"
	got := ExtractErrors(log, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %v", got)
	}
	if capped := ExtractErrors(log, 2); len(capped) != 2 {
		t.Errorf("cap ignored: %v", capped)
	}
}
