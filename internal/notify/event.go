// Package notify delivers run lifecycle events to webhooks and the local
// event log. Delivery is best-effort and never fails a run.
package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle event.
type EventType string

const (
	RunStarted       EventType = "run.started"
	RunCompleted     EventType = "run.completed"
	SessionStarted   EventType = "session.started"
	SessionCompleted EventType = "session.completed"
	TaskStarted      EventType = "task.started"
	TaskCompleted    EventType = "task.completed"
	TaskFailed       EventType = "task.failed"
	PRCreated        EventType = "pr.created"
	PRMerged         EventType = "pr.merged"
	CIPassed         EventType = "ci.passed"
	CIFailed         EventType = "ci.failed"
	PlanUpdated      EventType = "plan.updated"
	StatusChanged    EventType = "status.changed"
)

// Event is one notification. Data keys are flattened into the payload next
// to the envelope fields.
type Event struct {
	ID        string
	Type      EventType
	RunID     string
	Timestamp time.Time
	Data      map[string]any
}

// NewEvent builds an event with a fresh ID.
func NewEvent(typ EventType, runID string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// MarshalJSON renders the webhook payload.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		payload[k] = v
	}
	payload["event_id"] = e.ID
	payload["event_type"] = string(e.Type)
	payload["timestamp"] = e.Timestamp.Format(time.RFC3339)
	payload["run_id"] = e.RunID
	return json.Marshal(payload)
}
