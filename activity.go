package paymentauth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStatusChanged     ActivityEventType = "authentication.status.changed"
	ActivityEventConnectorAttached ActivityEventType = "authentication.connector.attached"
	ActivityEventRecordSuperseded  ActivityEventType = "authentication.superseded"
)

// ActivityEvent captures audit-friendly information about a mutation.
type ActivityEvent struct {
	EventType        ActivityEventType
	Actor            ActorRef
	AuthenticationID string
	FromStatus       AuthenticationStatus
	ToStatus         AuthenticationStatus
	Metadata         map[string]any
	OccurredAt       time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes. Sinks
// run best-effort: errors are logged, never surfaced to the mutating caller.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
