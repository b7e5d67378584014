package state

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	goalFile     = "goal.txt"
	criteriaFile = "criteria.txt"
	runsDir      = "runs"
)

// RunDir returns the directory holding the documents of one run.
func (s *Store) RunDir(runID string) string {
	return s.Path(runsDir, runID)
}

// ReadGoal returns the goal as written at start.
func (s *Store) ReadGoal() (string, error) {
	data, err := os.ReadFile(s.Path(goalFile))
	if err != nil {
		return "", fmt.Errorf("read goal: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteCriteria writes one criterion per line.
func (s *Store) WriteCriteria(criteria []string) error {
	body := strings.Join(criteria, "\n")
	if body != "" {
		body += "\n"
	}
	if err := writeFileAtomic(s.Path(criteriaFile), []byte(body), 0644); err != nil {
		return fmt.Errorf("write criteria: %w", err)
	}
	return nil
}

// ReadCriteria returns the non-empty lines of criteria.txt.
func (s *Store) ReadCriteria() ([]string, error) {
	data, err := os.ReadFile(s.Path(criteriaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read criteria: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// RenderPlan formats the plan as markdown. Groups become "### PR n: title"
// sections and done tasks are checked.
func RenderPlan(st *TaskState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", st.Goal)
	for gi, g := range st.Groups {
		fmt.Fprintf(&b, "\n### PR %d: %s\n\n", gi+1, g.Title)
		for _, idx := range st.GroupTasks(gi) {
			t := st.Plan[idx]
			box := " "
			if t.Done {
				box = "x"
			}
			if t.Kind != "" {
				fmt.Fprintf(&b, "- [%s] `[%s]` %s\n", box, t.Kind, t.Description)
			} else {
				fmt.Fprintf(&b, "- [%s] %s\n", box, t.Description)
			}
			for _, c := range t.SuccessCriteria {
				fmt.Fprintf(&b, "  - criterion: %s\n", c)
			}
		}
	}
	return b.String()
}

// SavePlan rewrites plan.md for the run.
func (s *Store) SavePlan(st *TaskState) error {
	if err := os.MkdirAll(s.RunDir(st.RunID), 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	if err := writeFileAtomic(s.Path(runsDir, st.RunID, "plan.md"), []byte(RenderPlan(st)), 0644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// ReadPlan returns plan.md for the run.
func (s *Store) ReadPlan(runID string) (string, error) {
	return s.readDoc(runID, "plan.md")
}

// AppendProgress adds a timestamped line to progress.md.
func (s *Store) AppendProgress(runID string, at time.Time, line string) error {
	return s.appendDoc(runID, "progress.md", fmt.Sprintf("- [%s] %s\n", at.Format("2006-01-02 15:04:05"), line))
}

// ReadProgress returns progress.md for the run.
func (s *Store) ReadProgress(runID string) (string, error) {
	return s.readDoc(runID, "progress.md")
}

// AppendContext adds notes the agent should see in later sessions.
func (s *Store) AppendContext(runID, heading, notes string) error {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil
	}
	return s.appendDoc(runID, "context.md", fmt.Sprintf("## %s\n\n%s\n\n", heading, notes))
}

// ReadContext returns context.md for the run, or "" when absent.
func (s *Store) ReadContext(runID string) (string, error) {
	text, err := s.readDoc(runID, "context.md")
	if err != nil && os.IsNotExist(err) {
		return "", nil
	}
	return text, err
}

func (s *Store) readDoc(runID, name string) (string, error) {
	data, err := os.ReadFile(s.Path(runsDir, runID, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) appendDoc(runID, name, text string) error {
	if err := os.MkdirAll(s.RunDir(runID), 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	f, err := os.OpenFile(s.Path(runsDir, runID, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append %s: %w", name, err)
	}
	return nil
}
