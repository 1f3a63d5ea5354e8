package paymentauth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NewAuthenticationEventsRepository builds the append-only audit trail
// repository for lifecycle activity.
func NewAuthenticationEventsRepository(db *bun.DB) repository.Repository[*AuthenticationEvent] {
	handlers := repository.ModelHandlers[*AuthenticationEvent]{
		NewRecord: func() *AuthenticationEvent {
			return &AuthenticationEvent{}
		},
		GetID: func(record *AuthenticationEvent) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *AuthenticationEvent, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "authentication_id"
		},
	}
	return repository.NewRepository(db, handlers)
}

// BunActivitySink persists activity events through the events repository so
// terminal and superseded records keep a queryable audit trail.
type BunActivitySink struct {
	events repository.Repository[*AuthenticationEvent]
	now    func() time.Time
}

var _ ActivitySink = (*BunActivitySink)(nil)

// BunActivitySinkOption customizes sink construction.
type BunActivitySinkOption func(*BunActivitySink)

// WithActivitySinkClock injects a custom clock (useful for tests).
func WithActivitySinkClock(clock func() time.Time) BunActivitySinkOption {
	return func(s *BunActivitySink) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewBunActivitySink creates a sink writing to authentication_events.
func NewBunActivitySink(events repository.Repository[*AuthenticationEvent], opts ...BunActivitySinkOption) *BunActivitySink {
	sink := &BunActivitySink{
		events: events,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sink)
		}
	}
	return sink
}

// Record implements ActivitySink.
func (s *BunActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	model := &AuthenticationEvent{
		ID:               uuid.New(),
		AuthenticationID: event.AuthenticationID,
		EventType:        string(event.EventType),
		ActorID:          event.Actor.ID,
		ActorType:        event.Actor.Type,
		FromStatus:       event.FromStatus,
		ToStatus:         event.ToStatus,
		Metadata:         event.Metadata,
		OccurredAt:       occurredAt,
	}

	_, err := s.events.Create(ctx, model)
	return err
}
