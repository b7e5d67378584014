package store

import "time"

// Message is an externally submitted change request waiting to be folded
// into a run's plan. Messages are never deleted; Consumed marks the ones
// already merged.
type Message struct {
	Seq        int64             `json:"seq"` // arrival order
	ID         string            `json:"id"`
	Sender     string            `json:"sender"`
	Content    string            `json:"content"`
	Priority   int               `json:"priority"` // 0 low, 1 normal, 2 high, 3 urgent
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	Consumed   bool              `json:"consumed"`
	ConsumedAt *time.Time        `json:"consumed_at,omitempty"`
}

// Event is one lifecycle event of a run, kept as an audit log.
type Event struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"event_type"` // task.started, pr.merged, ...
	Payload   string    `json:"payload"`    // JSON object
	Timestamp time.Time `json:"timestamp"`
}
