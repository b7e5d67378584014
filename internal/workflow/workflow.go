// Package workflow holds the run status state machine. Every writer of a
// run's status goes through Validate before committing a new value.
package workflow

import (
	"fmt"
	"sort"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPlanning Status = "planning"
	StatusWorking  Status = "working"
	StatusPaused   Status = "paused"
	StatusBlocked  Status = "blocked"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// transitions maps each status to the statuses it may move to.
// Terminal statuses map to an empty set.
var transitions = map[Status]map[Status]bool{
	StatusPlanning: {
		StatusWorking: true,
		StatusPaused:  true,
		StatusBlocked: true,
		StatusFailed:  true,
	},
	StatusWorking: {
		StatusPaused:  true,
		StatusBlocked: true,
		StatusSuccess: true,
		StatusFailed:  true,
	},
	StatusPaused: {
		StatusPlanning: true,
		StatusWorking:  true,
		StatusBlocked:  true,
		StatusFailed:   true,
	},
	StatusBlocked: {
		StatusPlanning: true,
		StatusWorking:  true,
		StatusPaused:   true,
		StatusFailed:   true,
	},
	StatusSuccess: {},
	StatusFailed:  {},
}

// resumable statuses are the ones a stopped run can be picked up from.
var resumable = map[Status]bool{
	StatusPlanning: true,
	StatusWorking:  true,
	StatusPaused:   true,
	StatusBlocked:  true,
}

// All returns every known status in a stable order.
func All() []Status {
	out := make([]Status, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Resumable reports whether a run in status s can be resumed.
func (s Status) Resumable() bool {
	return resumable[s]
}

// Next returns the statuses reachable from s in a stable order.
func Next(s Status) []Status {
	out := make([]Status, 0, len(transitions[s]))
	for t := range transitions[s] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanTransition reports whether moving from current to target is allowed.
// Staying in the same status is always allowed.
func CanTransition(current, target Status) bool {
	return Validate(current, target) == nil
}

// Validate checks a status change. Same-status is a no-op success.
func Validate(current, target Status) error {
	if !current.Valid() {
		return &InvalidTransitionError{From: current, To: target, Reason: "unknown current status"}
	}
	if !target.Valid() {
		return &InvalidTransitionError{From: current, To: target, Reason: "unknown target status"}
	}
	if current == target {
		return nil
	}
	if current.IsTerminal() {
		return &InvalidTransitionError{From: current, To: target, Reason: "status is terminal"}
	}
	if !transitions[current][target] {
		return &InvalidTransitionError{From: current, To: target}
	}
	return nil
}

// InvalidTransitionError reports a status change outside the allowed graph.
type InvalidTransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Limit names a cap that can stop a run.
type Limit string

const (
	LimitSessions Limit = "max_sessions"
	LimitPRs      Limit = "max_prs"
)

// LimitExceededError signals that a session or PR cap was reached.
// It is a controlled pause, not a failure.
type LimitExceededError struct {
	Limit   Limit
	Current int
	Max     int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s reached (%d/%d)", e.Limit, e.Current, e.Max)
}
