package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/imkarma/taskpilot/internal/state"
)

var (
	groupRe     = regexp.MustCompile(`(?i)^#{2,4}\s*PR\s*(\d+)\s*[:\-.]\s*(.+)$`)
	checkboxRe  = regexp.MustCompile("^[-*]\\s*\\[( |x|X)\\]\\s*(?:`?\\[([A-Za-z_-]+)\\]`?\\s*)?(.+)$")
	numberedRe  = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)
	criterionRe = regexp.MustCompile(`(?i)^\s+[-*]\s*(?:criterion|criteria|success|check):\s*(.+)$`)
)

// ParsePlan extracts task groups from planner output.
// Expected format:
//
//	### PR 1: Add retry support
//	- [ ] `[coding]` Add exponential backoff helper
//	  - criterion: unit tests cover max retries
//	- [ ] `[tests]` Cover the client retry path
//
//	### PR 2: Documentation
//	- [ ] `[docs]` Document retry settings
//
// Tasks listed before any PR header go into a group titled "Main".
// When no checkbox tasks are found, a plain numbered list is accepted.
func ParsePlan(output string) ([]state.Group, []state.Task, error) {
	var groups []state.Group
	var tasks []state.Task
	current := -1

	ensureGroup := func() {
		if current < 0 {
			groups = append(groups, state.Group{Title: "Main"})
			current = len(groups) - 1
		}
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := groupRe.FindStringSubmatch(trimmed); m != nil {
			groups = append(groups, state.Group{Title: cleanText(m[2])})
			current = len(groups) - 1
			continue
		}

		if m := criterionRe.FindStringSubmatch(line); m != nil && len(tasks) > 0 {
			last := &tasks[len(tasks)-1]
			last.SuccessCriteria = append(last.SuccessCriteria, cleanText(m[1]))
			continue
		}

		if m := checkboxRe.FindStringSubmatch(trimmed); m != nil {
			desc := cleanText(m[3])
			if desc == "" {
				continue
			}
			ensureGroup()
			tasks = append(tasks, state.Task{
				Description: desc,
				Kind:        strings.ToLower(m[2]),
				Group:       current,
				Done:        strings.EqualFold(m[1], "x"),
			})
		}
	}

	if len(tasks) == 0 {
		groups, tasks = parseNumbered(output)
	}
	if len(tasks) == 0 {
		return nil, nil, fmt.Errorf("no tasks found in plan output")
	}

	groups, tasks = dropEmptyGroups(groups, tasks)
	return groups, tasks, nil
}

// parseNumbered accepts "1. do x" lines as a single group.
func parseNumbered(output string) ([]state.Group, []state.Task) {
	var tasks []state.Task
	for _, line := range strings.Split(output, "\n") {
		m := numberedRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if desc := cleanText(m[1]); desc != "" {
			tasks = append(tasks, state.Task{Description: desc})
		}
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return []state.Group{{Title: "Main"}}, tasks
}

// dropEmptyGroups removes headers without tasks and renumbers the rest.
func dropEmptyGroups(groups []state.Group, tasks []state.Task) ([]state.Group, []state.Task) {
	used := make([]bool, len(groups))
	for _, t := range tasks {
		used[t.Group] = true
	}
	remap := make([]int, len(groups))
	var kept []state.Group
	for i, g := range groups {
		if used[i] {
			remap[i] = len(kept)
			kept = append(kept, g)
		}
	}
	for i := range tasks {
		tasks[i].Group = remap[tasks[i].Group]
	}
	return kept, tasks
}

func cleanText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*")
	return strings.TrimSpace(s)
}

// Verdict is a verification verdict extracted from agent output.
type Verdict struct {
	Found    bool
	Passed   bool
	Comments []string
}

// ParseVerdict extracts the verdict and comments from verifier output.
// Expected format:
//
//	VERDICT: PASS
//	COMMENTS:
//	- criterion: observation
//
// APPROVE and REJECT are accepted as synonyms of PASS and FAIL.
func ParseVerdict(output string) Verdict {
	result := Verdict{}
	lines := strings.Split(output, "\n")

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)

		if strings.HasPrefix(upper, "VERDICT:") {
			rest := strings.ToUpper(strings.TrimSpace(trimmed[8:]))
			switch {
			case strings.Contains(rest, "PASS"), strings.Contains(rest, "APPROVE"):
				result.Found, result.Passed = true, true
			case strings.Contains(rest, "FAIL"), strings.Contains(rest, "REJECT"):
				result.Found, result.Passed = true, false
			}
			continue
		}

		if strings.HasPrefix(upper, "COMMENTS:") {
			for j := i + 1; j < len(lines); j++ {
				cl := strings.TrimSpace(lines[j])
				if cl == "" {
					continue
				}
				if strings.HasPrefix(cl, "-") || strings.HasPrefix(cl, "*") {
					if comment := strings.TrimSpace(cl[1:]); comment != "" {
						result.Comments = append(result.Comments, comment)
					}
				} else if strings.HasSuffix(cl, ":") {
					break
				}
			}
		}
	}

	return result
}

// ParseBlocked extracts a BLOCKED reason from agent output.
func ParseBlocked(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(trimmed), "BLOCKED:") {
			return strings.TrimSpace(trimmed[8:])
		}
	}
	return ""
}

// ParseNotes returns the text after a "NOTES:" line, or "" if absent.
func ParseNotes(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(trimmed), "NOTES:") {
			first := strings.TrimSpace(trimmed[6:])
			rest := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			return strings.TrimSpace(first + "\n" + rest)
		}
	}
	return ""
}
