package workflow

import (
	"errors"
	"testing"
)

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, s := range All() {
		if s.IsTerminal() && len(Next(s)) != 0 {
			t.Errorf("terminal status %s has transitions %v", s, Next(s))
		}
	}
	if !StatusSuccess.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatal("success and failed must be terminal")
	}
}

func TestNonTerminalCanFail(t *testing.T) {
	for _, s := range All() {
		if s.IsTerminal() {
			continue
		}
		if err := Validate(s, StatusFailed); err != nil {
			t.Errorf("%s -> failed: %v", s, err)
		}
	}
}

func TestResumableCanReachWorking(t *testing.T) {
	for _, s := range All() {
		if !s.Resumable() {
			continue
		}
		if err := Validate(s, StatusWorking); err != nil {
			t.Errorf("%s -> working: %v", s, err)
		}
	}
}

func TestSameStatusIsNoop(t *testing.T) {
	for _, s := range All() {
		if err := Validate(s, s); err != nil {
			t.Errorf("%s -> %s: %v", s, s, err)
		}
	}
}

func TestValidate_Rejected(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusSuccess, StatusWorking},
		{StatusFailed, StatusPaused},
		{StatusPlanning, StatusSuccess},
		{StatusWorking, StatusPlanning},
		{StatusWorking, Status("verifying")},
	}
	for _, c := range cases {
		err := Validate(c.from, c.to)
		var ite *InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Errorf("%s -> %s: expected InvalidTransitionError, got %v", c.from, c.to, err)
			continue
		}
		if ite.From != c.from || ite.To != c.to {
			t.Errorf("error fields: got %s -> %s", ite.From, ite.To)
		}
	}
}

func TestTerminalNotResumable(t *testing.T) {
	if StatusSuccess.Resumable() || StatusFailed.Resumable() {
		t.Error("terminal statuses must not be resumable")
	}
	if !StatusPaused.Resumable() || !StatusBlocked.Resumable() {
		t.Error("paused and blocked must be resumable")
	}
}

func TestLimitExceededError(t *testing.T) {
	err := error(&LimitExceededError{Limit: LimitSessions, Current: 5, Max: 5})
	if err.Error() != "max_sessions reached (5/5)" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
