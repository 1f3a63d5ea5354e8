package paymentauth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Connector names an external authentication provider (e.g. "stripe",
// "threedsecureio"). The set of connectors is owned by the orchestrator,
// so the type stays open.
type Connector = string

// AuthenticationType is the method the connector used to authenticate.
type AuthenticationType string

const (
	// AuthenticationTypeChallenge requires cardholder interaction.
	AuthenticationTypeChallenge AuthenticationType = "challenge"
	// AuthenticationTypeFrictionless completes without cardholder interaction.
	AuthenticationTypeFrictionless AuthenticationType = "frictionless"
)

// IsValid checks that the type is one of the predefined values.
func (t AuthenticationType) IsValid() bool {
	switch t {
	case AuthenticationTypeChallenge, AuthenticationTypeFrictionless:
		return true
	default:
		return false
	}
}

// AuthenticationStatus is the state of an authentication attempt.
type AuthenticationStatus string

const (
	// AuthenticationStatusStarted is the initial state: the attempt exists but
	// the connector has not acknowledged it yet.
	AuthenticationStatusStarted AuthenticationStatus = "started"
	// AuthenticationStatusPending means the connector acknowledged the attempt
	// and authentication is in progress (e.g. a challenge is outstanding).
	AuthenticationStatusPending AuthenticationStatus = "pending"
	// AuthenticationStatusSuccess is terminal: the connector confirmed success.
	AuthenticationStatusSuccess AuthenticationStatus = "success"
	// AuthenticationStatusFailed is terminal: the connector confirmed failure.
	AuthenticationStatusFailed AuthenticationStatus = "failed"
	// AuthenticationStatusError is terminal: an unrecoverable processing error
	// occurred outside normal connector semantics.
	AuthenticationStatusError AuthenticationStatus = "error"
)

// IsValid checks that the status is one of the predefined states.
func (s AuthenticationStatus) IsValid() bool {
	switch s {
	case AuthenticationStatusStarted,
		AuthenticationStatusPending,
		AuthenticationStatusSuccess,
		AuthenticationStatusFailed,
		AuthenticationStatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no outgoing transition.
func (s AuthenticationStatus) IsTerminal() bool {
	switch s {
	case AuthenticationStatusSuccess, AuthenticationStatusFailed, AuthenticationStatusError:
		return true
	default:
		return false
	}
}

// LifecycleStatus tracks whether a record is the authoritative attempt for its
// (merchant, payment method) pair. It is orthogonal to AuthenticationStatus and
// one-way: a record never returns to active.
type LifecycleStatus string

const (
	// LifecycleStatusActive marks the current authoritative attempt.
	LifecycleStatusActive LifecycleStatus = "active"
	// LifecycleStatusSuperseded marks a record replaced by a newer attempt.
	LifecycleStatusSuperseded LifecycleStatus = "superseded"
	// LifecycleStatusExpired marks a record that aged out.
	LifecycleStatusExpired LifecycleStatus = "expired"
)

// IsValid checks that the lifecycle status is one of the predefined states.
func (s LifecycleStatus) IsValid() bool {
	switch s {
	case LifecycleStatusActive, LifecycleStatusSuperseded, LifecycleStatusExpired:
		return true
	default:
		return false
	}
}

// IsActive reports whether the record is still the authoritative attempt.
func (s LifecycleStatus) IsActive() bool {
	return s == LifecycleStatusActive
}

// Authentication is the authentication attempt model, one row per attempt.
type Authentication struct {
	bun.BaseModel `bun:"table:authentications,alias:pauth"`

	AuthenticationID          string               `bun:"authentication_id,pk" json:"authentication_id,omitempty"`
	MerchantID                string               `bun:"merchant_id,notnull" json:"merchant_id,omitempty"`
	Connector                 Connector            `bun:"connector,notnull" json:"connector,omitempty"`
	ConnectorAuthenticationID string               `bun:"connector_authentication_id,nullzero" json:"connector_authentication_id,omitempty"`
	AuthenticationData        map[string]any       `bun:"authentication_data,type:jsonb" json:"authentication_data,omitempty"`
	PaymentMethodID           string               `bun:"payment_method_id,notnull" json:"payment_method_id,omitempty"`
	AuthenticationType        AuthenticationType   `bun:"authentication_type,nullzero" json:"authentication_type,omitempty"`
	AuthenticationStatus      AuthenticationStatus `bun:"authentication_status,notnull" json:"authentication_status,omitempty"`
	LifecycleStatus           LifecycleStatus      `bun:"lifecycle_status,notnull" json:"lifecycle_status,omitempty"`
	CreatedAt                 time.Time            `bun:"created_at,notnull,default:current_timestamp" json:"created_at,omitempty"`
	ModifiedAt                time.Time            `bun:"modified_at,notnull,default:current_timestamp" json:"modified_at,omitempty"`
}

// EnsureStatus backfills the status axes with their initial states.
func (a *Authentication) EnsureStatus() {
	if a == nil {
		return
	}
	if a.AuthenticationStatus == "" {
		a.AuthenticationStatus = AuthenticationStatusStarted
	}
	if a.LifecycleStatus == "" {
		a.LifecycleStatus = LifecycleStatusActive
	}
}

// IsTerminal reports whether the attempt reached a terminal status.
func (a *Authentication) IsTerminal() bool {
	return a != nil && a.AuthenticationStatus.IsTerminal()
}

// IsActive reports whether the record is the authoritative attempt for its
// payment method.
func (a *Authentication) IsActive() bool {
	return a != nil && a.LifecycleStatus.IsActive()
}

// HasConnectorAuthenticationID reports whether the write-once connector id is set.
func (a *Authentication) HasConnectorAuthenticationID() bool {
	return a != nil && a.ConnectorAuthenticationID != ""
}

// AddAuthenticationData appends a key to the connector-specific payload. The
// payload is opaque to this package and persisted unchanged.
func (a *Authentication) AddAuthenticationData(key string, val any) *Authentication {
	if a.AuthenticationData == nil {
		a.AuthenticationData = make(map[string]any)
	}
	a.AuthenticationData[key] = val
	return a
}

// AuthenticationEvent is the audit trail model for lifecycle activity. Rows are
// append-only; nothing in this package updates or deletes them.
type AuthenticationEvent struct {
	bun.BaseModel `bun:"table:authentication_events,alias:pevt"`

	ID               uuid.UUID            `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AuthenticationID string               `bun:"authentication_id,notnull" json:"authentication_id,omitempty"`
	EventType        string               `bun:"event_type,notnull" json:"event_type,omitempty"`
	ActorID          string               `bun:"actor_id" json:"actor_id,omitempty"`
	ActorType        string               `bun:"actor_type" json:"actor_type,omitempty"`
	FromStatus       AuthenticationStatus `bun:"from_status,nullzero" json:"from_status,omitempty"`
	ToStatus         AuthenticationStatus `bun:"to_status,nullzero" json:"to_status,omitempty"`
	Metadata         map[string]any       `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	OccurredAt       time.Time            `bun:"occurred_at,notnull,default:current_timestamp" json:"occurred_at,omitempty"`
}
