package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imkarma/taskpilot/internal/store"
)

// EventRecorder persists events.
type EventRecorder interface {
	AddEvent(e store.Event) error
}

// EventLog writes every event to the local database.
type EventLog struct {
	rec EventRecorder
}

// NewEventLog creates an emitter backed by rec.
func NewEventLog(rec EventRecorder) *EventLog {
	return &EventLog{rec: rec}
}

func (l *EventLog) Emit(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return &DeliveryError{Kind: DeliveryOther, Target: "event log", Err: err}
	}
	err = l.rec.AddEvent(store.Event{
		EventID:   e.ID,
		RunID:     e.RunID,
		Type:      string(e.Type),
		Payload:   string(payload),
		Timestamp: e.Timestamp,
	})
	if err != nil {
		return &DeliveryError{Kind: DeliveryOther, Target: "event log", Err: fmt.Errorf("record event: %w", err)}
	}
	return nil
}
