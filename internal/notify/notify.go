package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/imkarma/taskpilot/internal/logging"
)

// Emitter delivers an event somewhere.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// DeliveryKind classifies delivery failures.
type DeliveryKind string

const (
	DeliveryTimeout DeliveryKind = "timeout"
	DeliveryOther   DeliveryKind = "other"
)

// DeliveryError is a failed delivery.
type DeliveryError struct {
	Kind   DeliveryKind
	Target string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s (%s): %v", e.Target, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Multi fans an event out to several emitters concurrently and joins
// their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, e Event) error {
	var (
		wg   conc.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, em := range m {
		em := em
		wg.Go(func() {
			if err := em.Emit(ctx, e); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// DefaultTimeout bounds how long a single Send may block the run.
const DefaultTimeout = 15 * time.Second

// Dispatcher sends events fire-and-forget: failures are logged, never
// returned. A nil Dispatcher drops events.
type Dispatcher struct {
	emitter Emitter
	logger  *logging.Logger
	timeout time.Duration
}

// NewDispatcher wraps an emitter. logger may be nil.
func NewDispatcher(emitter Emitter, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Dispatcher{emitter: emitter, logger: logger, timeout: DefaultTimeout}
}

// Send builds and delivers an event. Delivery outlives cancellation of ctx
// so the final events of an interrupted run still go out, bounded by the
// dispatcher timeout.
func (d *Dispatcher) Send(ctx context.Context, typ EventType, runID string, data map[string]any) {
	if d == nil || d.emitter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	e := NewEvent(typ, runID, data)
	if err := d.emitter.Emit(ctx, e); err != nil {
		d.logger.Warn("event delivery failed",
			"event_type", string(typ),
			"event_id", e.ID,
			"error", err.Error(),
		)
	}
}
