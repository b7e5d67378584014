package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/imkarma/taskpilot/internal/state"
)

// Pusher publishes a local branch.
type Pusher interface {
	Push(ctx context.Context, remote, branch string) error
}

// runFunc executes gh and returns stdout.
type runFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

// GitHub implements Host with the gh CLI.
type GitHub struct {
	workDir string
	remote  string
	pusher  Pusher
	run     runFunc
	now     func() time.Time

	// MaxLogLines caps the CI log lines attached to a failing check.
	MaxLogLines int
}

// NewGitHub creates a GitHub host for the repository in workDir.
func NewGitHub(workDir, remote string, pusher Pusher) *GitHub {
	return &GitHub{
		workDir:     workDir,
		remote:      remote,
		pusher:      pusher,
		run:         runGH,
		now:         time.Now,
		MaxLogLines: 20,
	}
}

func runGH(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, errors.New(msg)
	}
	return stdout.Bytes(), nil
}

// classify maps a gh failure onto an error kind.
func classify(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	msg := strings.ToLower(err.Error())
	kind := KindOther
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		kind = KindTimeout
	case strings.Contains(msg, "http 401"), strings.Contains(msg, "http 403"),
		strings.Contains(msg, "authentication"), strings.Contains(msg, "gh auth login"):
		kind = KindAuth
	case strings.Contains(msg, "http 404"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "no pull requests found"), strings.Contains(msg, "could not resolve"):
		kind = KindNotFound
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

type ghPR struct {
	Number            int             `json:"number"`
	URL               string          `json:"url"`
	State             string          `json:"state"` // OPEN, MERGED, CLOSED
	HeadRefName       string          `json:"headRefName"`
	Mergeable         string          `json:"mergeable"` // MERGEABLE, CONFLICTING, UNKNOWN
	ReviewDecision    string          `json:"reviewDecision"`
	StatusCheckRollup []ghCheckRollup `json:"statusCheckRollup"`
}

type ghCheckRollup struct {
	Typename   string `json:"__typename"` // CheckRun or StatusContext
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	DetailsURL string `json:"detailsUrl"`
	Context    string `json:"context"`
	State      string `json:"state"`
	TargetURL  string `json:"targetUrl"`
}

func (g *GitHub) view(ctx context.Context, ref string) (*ghPR, error) {
	out, err := g.run(ctx, g.workDir, "pr", "view", ref, "--json",
		"number,url,state,headRefName,mergeable,reviewDecision,statusCheckRollup")
	if err != nil {
		return nil, err
	}
	var pr ghPR
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, fmt.Errorf("decode gh pr view: %w", err)
	}
	return &pr, nil
}

// CreatePR pushes the branch and opens a PR, reusing an open PR for the
// same branch.
func (g *GitHub) CreatePR(ctx context.Context, req PRRequest) (*state.PRHandle, error) {
	if g.pusher != nil {
		if err := g.pusher.Push(ctx, g.remote, req.Branch); err != nil {
			return nil, classify("push", err)
		}
	}

	if existing, err := g.view(ctx, req.Branch); err == nil && existing.State == "OPEN" {
		return &state.PRHandle{Number: existing.Number, URL: existing.URL, Branch: req.Branch, Group: req.Group}, nil
	}

	args := []string{"pr", "create", "--head", req.Branch, "--title", req.Title, "--body", req.Body}
	if req.Base != "" {
		args = append(args, "--base", req.Base)
	}
	out, err := g.run(ctx, g.workDir, args...)
	if err != nil {
		return nil, classify("create_pr", err)
	}
	url := strings.TrimSpace(lastLine(string(out)))
	number, err := prNumberFromURL(url)
	if err != nil {
		return nil, classify("create_pr", err)
	}
	return &state.PRHandle{Number: number, URL: url, Branch: req.Branch, Group: req.Group}, nil
}

// UpdatePR pushes the PR branch.
func (g *GitHub) UpdatePR(ctx context.Context, pr *state.PRHandle) error {
	if g.pusher == nil || pr.Branch == "" {
		return nil
	}
	if err := g.pusher.Push(ctx, g.remote, pr.Branch); err != nil {
		return classify("update_pr", err)
	}
	return nil
}

// GetStatus reads PR state, CI checks and unresolved review threads.
func (g *GitHub) GetStatus(ctx context.Context, pr *state.PRHandle) (*state.PRStatus, error) {
	raw, err := g.view(ctx, strconv.Itoa(pr.Number))
	if err != nil {
		return nil, classify("get_status", err)
	}

	st := &state.PRStatus{
		State:       prState(raw.State),
		Mergeable:   raw.Mergeable == "MERGEABLE",
		ReviewState: strings.ToLower(raw.ReviewDecision),
		FetchedAt:   g.now(),
	}
	st.Checks, st.CI = rollup(raw.StatusCheckRollup)

	if st.State == state.PROpen {
		if n, err := g.unresolvedThreads(ctx, pr.Number); err == nil {
			st.UnresolvedThreads = n
		}
		if st.CI == state.CIFailure {
			g.attachLogs(ctx, st.Checks)
		}
	}
	return st, nil
}

// Merge squash-merges the PR.
func (g *GitHub) Merge(ctx context.Context, pr *state.PRHandle) error {
	_, err := g.run(ctx, g.workDir, "pr", "merge", strconv.Itoa(pr.Number), "--squash")
	if err != nil {
		he := classify("merge", err)
		if he.Kind == KindOther {
			he.Kind = KindMerge
		}
		return he
	}
	return nil
}

const threadsQuery = `query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $number) {
      reviewThreads(first: 100) { nodes { isResolved } }
    }
  }
}`

func (g *GitHub) unresolvedThreads(ctx context.Context, number int) (int, error) {
	out, err := g.run(ctx, g.workDir, "api", "graphql",
		"-F", "owner={owner}", "-F", "repo={repo}", "-F", "number="+strconv.Itoa(number),
		"-f", "query="+threadsQuery)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Data struct {
			Repository struct {
				PullRequest struct {
					ReviewThreads struct {
						Nodes []struct {
							IsResolved bool `json:"isResolved"`
						} `json:"nodes"`
					} `json:"reviewThreads"`
				} `json:"pullRequest"`
			} `json:"repository"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return 0, fmt.Errorf("decode review threads: %w", err)
	}
	n := 0
	for _, t := range resp.Data.Repository.PullRequest.ReviewThreads.Nodes {
		if !t.IsResolved {
			n++
		}
	}
	return n, nil
}

var jobURLRe = regexp.MustCompile(`/actions/runs/\d+/job/(\d+)`)

// attachLogs adds the error lines of failed GitHub Actions jobs to checks.
func (g *GitHub) attachLogs(ctx context.Context, checks []state.Check) {
	for i := range checks {
		if !failed(checks[i].Conclusion) {
			continue
		}
		m := jobURLRe.FindStringSubmatch(checks[i].URL)
		if m == nil {
			continue
		}
		out, err := g.run(ctx, g.workDir, "run", "view", "--job", m[1], "--log-failed")
		if err != nil {
			continue
		}
		if lines := ExtractErrors(string(out), g.MaxLogLines); len(lines) > 0 {
			checks[i].Summary = strings.Join(lines, "\n")
		}
	}
}

// rollup converts gh check entries and aggregates them into one CI state.
// No checks at all counts as success.
func rollup(entries []ghCheckRollup) ([]state.Check, state.CIState) {
	var checks []state.Check
	ci := state.CISuccess
	pending, errored, failing := false, false, false

	for _, e := range entries {
		c := state.Check{Name: e.Name, URL: e.DetailsURL}
		if e.Typename == "StatusContext" {
			c.Name, c.URL = e.Context, e.TargetURL
			switch e.State {
			case "SUCCESS":
				c.Conclusion = "SUCCESS"
			case "PENDING", "EXPECTED":
				c.Conclusion = "PENDING"
				pending = true
			case "ERROR":
				c.Conclusion = "ERROR"
				errored = true
			default:
				c.Conclusion = "FAILURE"
				failing = true
			}
		} else {
			if e.Status != "COMPLETED" {
				c.Conclusion = "PENDING"
				pending = true
			} else {
				switch e.Conclusion {
				case "SUCCESS", "NEUTRAL", "SKIPPED":
					c.Conclusion = e.Conclusion
				case "STARTUP_FAILURE", "STALE":
					c.Conclusion = "ERROR"
					errored = true
				default: // FAILURE, TIMED_OUT, CANCELLED, ACTION_REQUIRED
					c.Conclusion = "FAILURE"
					failing = true
				}
			}
		}
		checks = append(checks, c)
	}

	switch {
	case failing:
		ci = state.CIFailure
	case errored:
		ci = state.CIError
	case pending:
		ci = state.CIPending
	}
	return checks, ci
}

func prState(s string) state.PRState {
	switch s {
	case "MERGED":
		return state.PRMerged
	case "CLOSED":
		return state.PRClosed
	default:
		return state.PROpen
	}
}

var prURLRe = regexp.MustCompile(`/pull/(\d+)`)

func prNumberFromURL(url string) (int, error) {
	m := prURLRe.FindStringSubmatch(url)
	if m == nil {
		return 0, fmt.Errorf("unexpected gh pr create output %q", url)
	}
	return strconv.Atoi(m[1])
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
