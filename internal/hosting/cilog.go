package hosting

import (
	"strings"

	"github.com/imkarma/taskpilot/internal/state"
)

// errorIndicators mark log lines worth showing to a fix session.
var errorIndicators = []string{
	"##[error]",
	"Exit status",
	"Error:",
	"error:",
	"ERROR:",
	"FAIL",
	"Failed",
	"AssertionError",
}

// ExtractErrors returns up to max log lines that look like failures.
func ExtractErrors(log string, max int) []string {
	var out []string
	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, ind := range errorIndicators {
			if strings.Contains(line, ind) {
				out = append(out, line)
				break
			}
		}
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// failed reports whether a check conclusion counts as a failure.
func failed(conclusion string) bool {
	switch strings.ToUpper(conclusion) {
	case "FAILURE", "ERROR":
		return true
	}
	return false
}

// FormatCIFailure renders failing checks for a fix session. Only FAILURE
// and ERROR checks are listed; with none the result is exactly "ci_failure:".
func FormatCIFailure(st *state.PRStatus) string {
	var b strings.Builder
	b.WriteString("ci_failure:")
	if st == nil {
		return b.String()
	}
	for _, c := range st.Checks {
		if !failed(c.Conclusion) {
			continue
		}
		b.WriteString("\n- " + c.Name + ": " + strings.ToUpper(c.Conclusion))
		if c.URL != "" {
			b.WriteString("\n  " + c.URL)
		}
		if c.Summary != "" {
			for _, line := range strings.Split(c.Summary, "\n") {
				b.WriteString("\n  " + line)
			}
		}
	}
	return b.String()
}
