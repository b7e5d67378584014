package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/imkarma/taskpilot/internal/state"
)

// maxDiff limits how much diff goes into a verification prompt.
const maxDiff = 8000

// DiffSource supplies the changes a verifier should look at.
type DiffSource interface {
	Diff(ctx context.Context, base string, maxLen int) (string, error)
}

// Builder constructs the prompt for each kind of session. Think of it as
// the ticket the agent reads before starting work.
type Builder struct {
	diff DiffSource
	base string
}

// NewBuilder creates a prompt builder. diff may be nil.
func NewBuilder(diff DiffSource, baseBranch string) *Builder {
	return &Builder{diff: diff, base: baseBranch}
}

// PlanPrompt asks for a plan grouped into PRs.
func (b *Builder) PlanPrompt(goal string, criteria []string) string {
	parts := []string{
		roleHeader("planner"),
		"## Goal\n" + goal,
	}
	if c := criteriaSection("Success Criteria", criteria); c != "" {
		parts = append(parts, c)
	}
	parts = append(parts, instructions("planner"))
	return strings.Join(parts, "\n\n")
}

// WorkPrompt asks the agent to carry out one task.
func (b *Builder) WorkPrompt(task state.Task, wc WorkContext) string {
	parts := []string{
		roleHeader("coder"),
		"## Goal\n" + wc.Goal,
		taskSection(task, wc),
	}
	if c := criteriaSection("Acceptance Criteria", task.SuccessCriteria); c != "" {
		parts = append(parts, c)
	}
	if n := notesSection(wc.Notes); n != "" {
		parts = append(parts, n)
	}
	parts = append(parts, instructions("coder"))
	return strings.Join(parts, "\n\n")
}

// VerifyPrompt asks the agent to judge the current changes against criteria.
func (b *Builder) VerifyPrompt(ctx context.Context, subject string, criteria []string) string {
	parts := []string{
		roleHeader("verifier"),
		"## Subject\n" + subject,
	}
	if c := criteriaSection("Criteria", criteria); c != "" {
		parts = append(parts, c)
	}
	if b.diff != nil {
		if diff, err := b.diff.Diff(ctx, b.base, maxDiff); err == nil && diff != "" {
			parts = append(parts, "## Changes (git diff)\n```diff\n"+diff+"\n```")
		}
	}
	parts = append(parts, instructions("verifier"))
	return strings.Join(parts, "\n\n")
}

// FixPrompt hands a CI or review failure back to the agent.
func (b *Builder) FixPrompt(detail string, wc WorkContext) string {
	parts := []string{
		roleHeader("fixer"),
		"## Goal\n" + wc.Goal,
	}
	if wc.GroupTitle != "" {
		parts = append(parts, "## Pull Request\n"+wc.GroupTitle)
	}
	parts = append(parts, "## Failure\n```\n"+detail+"\n```")
	if n := notesSection(wc.Notes); n != "" {
		parts = append(parts, n)
	}
	parts = append(parts, instructions("fixer"))
	return strings.Join(parts, "\n\n")
}

func roleHeader(role string) string {
	switch role {
	case "planner":
		return "# You are a Technical Lead\nBreak the goal into small, reviewable tasks grouped into pull requests."
	case "coder":
		return "# You are a Software Developer\nImplement the task below in this repository. Write clean, tested code."
	case "verifier":
		return "# You are a QA Engineer\nCheck whether the changes meet every criterion. Run the tests if you can."
	case "fixer":
		return "# You are a Software Developer on call\nThe pull request below is failing. Make the smallest change that fixes it."
	default:
		return fmt.Sprintf("# You are working as: %s", role)
	}
}

func taskSection(task state.Task, wc WorkContext) string {
	var sb strings.Builder
	sb.WriteString("## Task\n")
	if wc.TotalTasks > 0 {
		sb.WriteString(fmt.Sprintf("**Task %d of %d**", wc.TaskNumber, wc.TotalTasks))
		if task.Kind != "" {
			sb.WriteString(fmt.Sprintf(" `[%s]`", task.Kind))
		}
		sb.WriteString("\n")
	}
	if wc.GroupTitle != "" {
		sb.WriteString(fmt.Sprintf("Pull request: %s\n", wc.GroupTitle))
	}
	sb.WriteString("\n" + task.Description + "\n")
	return sb.String()
}

func criteriaSection(title string, criteria []string) string {
	if len(criteria) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## " + title + "\n")
	for _, c := range criteria {
		sb.WriteString("- " + c + "\n")
	}
	return sb.String()
}

func notesSection(notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return ""
	}
	const maxNotes = 6000
	if len(notes) > maxNotes {
		// Keep the most recent notes.
		notes = "...\n" + notes[len(notes)-maxNotes:]
	}
	return "## Notes From Earlier Sessions\n" + notes
}

func instructions(role string) string {
	switch role {
	case "planner":
		return "## Response Format\n" +
			"Group tasks into pull requests. Use exactly this format:\n\n" +
			"### PR 1: <title>\n" +
			"- [ ] `[coding]` <task description>\n" +
			"  - criterion: <how to tell it is done>\n" +
			"- [ ] `[tests]` <task description>\n\n" +
			"### PR 2: <title>\n" +
			"- [ ] `[docs]` <task description>\n\n" +
			"Keep each pull request small enough to review on its own.\n" +
			"If you need clarification, say: BLOCKED: [your question]"

	case "coder":
		return `## Instructions
- Make the changes needed to complete this task, then stop
- Do not commit; the changes are committed for you
- Focus on the specific task, don't refactor unrelated code
- If you need information from the user, say: BLOCKED: [your question]
- End with a NOTES: section listing anything later tasks should know`

	case "verifier":
		return `## Response Format
Respond in this exact format:

VERDICT: PASS or FAIL

COMMENTS:
- criterion: what you observed`

	case "fixer":
		return `## Instructions
- Read the failure carefully and fix the root cause
- Do not disable or skip failing tests
- If the failure is outside this repository's control, say: BLOCKED: [reason]
- End with a NOTES: section describing the fix`

	default:
		return ""
	}
}
