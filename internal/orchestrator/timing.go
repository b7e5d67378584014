package orchestrator

import (
	"fmt"
	"time"
)

// TaskDuration returns the seconds a task took. It measures from the
// recorded task start when there is one, otherwise it falls back to the
// duration of the session that finished the task.
func TaskDuration(taskStart *time.Time, now time.Time, sessionSeconds float64) float64 {
	if taskStart != nil {
		return now.Sub(*taskStart).Seconds()
	}
	return sessionSeconds
}

// FormatDuration renders seconds as "42.5s" or "2m 0.0s".
func FormatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	minutes := int(seconds / 60)
	return fmt.Sprintf("%dm %.1fs", minutes, seconds-float64(minutes*60))
}

// GroupRemaining is the number of tasks left in a group of size n after the
// task at zero-based in-group index i. Zero means i is the last task.
func GroupRemaining(n, i int) int {
	return n - i - 1
}
