// Package hosting is the git-hosting collaborator: it opens, inspects and
// merges pull requests.
package hosting

import (
	"context"
	"errors"
	"fmt"

	"github.com/imkarma/taskpilot/internal/state"
)

// Host is the contract the PR cycle and state recovery consume.
type Host interface {
	// CreatePR opens a PR for the branch, or returns the open one if it
	// already exists.
	CreatePR(ctx context.Context, req PRRequest) (*state.PRHandle, error)
	// UpdatePR pushes new commits to an existing PR.
	UpdatePR(ctx context.Context, pr *state.PRHandle) error
	GetStatus(ctx context.Context, pr *state.PRHandle) (*state.PRStatus, error)
	Merge(ctx context.Context, pr *state.PRHandle) error
}

// PRRequest describes a PR to open.
type PRRequest struct {
	Branch string
	Base   string
	Title  string
	Body   string
	Group  int
}

// ErrorKind classifies hosting failures.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindAuth     ErrorKind = "auth"
	KindNotFound ErrorKind = "not_found"
	KindMerge    ErrorKind = "merge"
	KindOther    ErrorKind = "other"
)

// Error is a failed hosting call.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hosting %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed.
func (e *Error) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindOther
}

// KindOf returns the kind of a hosting error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return ""
}
