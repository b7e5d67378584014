// Package mailbox folds externally queued change requests into an
// in-flight plan.
package mailbox

import (
	"fmt"
	"strings"
)

// Priority orders queued messages. Higher values are merged first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// label is the tag shown next to a request in merged output. Normal
// requests carry none.
func (p Priority) label() string {
	switch {
	case p >= PriorityUrgent:
		return " [URGENT]"
	case p == PriorityHigh:
		return " [HIGH]"
	case p <= PriorityLow:
		return " [LOW]"
	default:
		return ""
	}
}

// ParsePriority accepts a name (low, normal, high, urgent) or its number.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "0":
		return PriorityLow, nil
	case "", "normal", "1":
		return PriorityNormal, nil
	case "high", "2":
		return PriorityHigh, nil
	case "urgent", "3":
		return PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q (use low, normal, high or urgent)", s)
	}
}
