package paymentauth

import (
	"context"
	"fmt"
	"time"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor  ActorRef
	Record *Authentication
	From   AuthenticationStatus
	To     AuthenticationStatus
	Meta   TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes state machine behavior.
type TransitionOption func(*transitionOptions)

// AuthenticationStateMachine validates and applies status transitions on
// authentication records. All persistence goes through the backing store, so a
// transition either lands atomically or leaves the record untouched.
type AuthenticationStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, record *Authentication, target AuthenticationStatus, opts ...TransitionOption) (*Authentication, error)
	CurrentStatus(record *Authentication) AuthenticationStatus
	CanTransition(from, to AuthenticationStatus) bool
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*authStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *authStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *authStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// Provide a handler to convert hook errors into domain-specific responses,
// otherwise the default handler panics with guidance for developers.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *authStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *authStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// WithTransitionRecordOptions forwards StatusUpdateOptions to the persist call,
// e.g. to land the connector's result payload in the same write as the status.
func WithTransitionRecordOptions(options ...StatusUpdateOption) TransitionOption {
	return func(opts *transitionOptions) {
		opts.recordOptions = append(opts.recordOptions, options...)
	}
}

// StatusApplier is the slice of the store the state machine persists through.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, id string, from, to AuthenticationStatus, opts ...StatusUpdateOption) (*Authentication, error)
}

// authenticationTransitions is the fixed transition topology. The terminal
// states have no outgoing edges.
var authenticationTransitions = map[AuthenticationStatus]map[AuthenticationStatus]struct{}{
	AuthenticationStatusStarted: {
		AuthenticationStatusPending: {},
		AuthenticationStatusSuccess: {},
		AuthenticationStatusFailed:  {},
		AuthenticationStatusError:   {},
	},
	AuthenticationStatusPending: {
		AuthenticationStatusSuccess: {},
		AuthenticationStatusFailed:  {},
		AuthenticationStatusError:   {},
	},
}

func isTransitionEdge(from, to AuthenticationStatus) bool {
	if allowed, ok := authenticationTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// NewAuthenticationStateMachine returns the default implementation backed by
// the provided store. The transition topology is fixed:
//
//	started → pending | success | failed | error
//	pending → success | failed | error
//
// success, failed and error are terminal. There is no bypass: a terminal
// record can never transition again.
func NewAuthenticationStateMachine(store StatusApplier, opts ...StateMachineOption) AuthenticationStateMachine {
	sm := &authStateMachine{
		store:        store,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		hookErrorHandler: func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return defaultHookErrorHandler(ctx, phase, err, tc)
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type authStateMachine struct {
	store            StatusApplier
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata      TransitionMetadata
	beforeHooks   []TransitionHook
	afterHooks    []TransitionHook
	recordOptions []StatusUpdateOption
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *authStateMachine) Transition(ctx context.Context, actor ActorRef, record *Authentication, target AuthenticationStatus, opts ...TransitionOption) (*Authentication, error) {
	if record == nil {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"target": target,
			"reason": "record is nil",
		})
	}

	record.EnsureStatus()
	from := record.AuthenticationStatus
	if !target.IsValid() {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"to":     target,
			"reason": "target status is not a known state",
		})
	}

	if from.IsTerminal() {
		return nil, ErrTerminalState.WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if !sm.CanTransition(from, target) {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	options := sm.buildTransitionOptions(opts...)

	ctxData := TransitionContext{
		Actor:  actor,
		Record: record,
		From:   from,
		To:     target,
		Meta:   options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return nil, err
	}

	updated, err := sm.store.ApplyStatus(ctx, record.AuthenticationID, from, target, options.recordOptions...)
	if err != nil {
		return nil, err
	}

	sm.applyUpdates(record, updated, target)

	// The status change is persisted at this point, so the audit event goes
	// out even if an after-hook rejects.
	sm.recordActivity(ctx, ActivityEvent{
		EventType:        ActivityEventStatusChanged,
		Actor:            actor,
		AuthenticationID: record.AuthenticationID,
		FromStatus:       from,
		ToStatus:         target,
		Metadata:         sm.transitionMetadata(ctxData.Meta),
	})

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return nil, err
	}

	return record, nil
}

func (sm *authStateMachine) CurrentStatus(record *Authentication) AuthenticationStatus {
	if record == nil {
		return ""
	}
	record.EnsureStatus()
	return record.AuthenticationStatus
}

// CanTransition reports whether from → to is an edge of the transition table.
func (sm *authStateMachine) CanTransition(from, to AuthenticationStatus) bool {
	return isTransitionEdge(from, to)
}

func (sm *authStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *authStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	panic(fmt.Sprintf(
		"go-payment-auth: %s transition hook failed: %v\nAuthenticationID: %s from=%s to=%s reason=%s\nProvide paymentauth.WithStateMachineHookErrorHandler to customize error handling in production.",
		phase,
		err,
		tc.Record.AuthenticationID,
		tc.From,
		tc.To,
		tc.Meta.Reason,
	))
}

func (sm *authStateMachine) applyUpdates(record, updated *Authentication, target AuthenticationStatus) {
	if updated != nil {
		if updated.AuthenticationStatus != "" {
			record.AuthenticationStatus = updated.AuthenticationStatus
		} else {
			record.AuthenticationStatus = target
		}
		record.AuthenticationType = updated.AuthenticationType
		record.AuthenticationData = updated.AuthenticationData
		record.ModifiedAt = updated.ModifiedAt
		return
	}

	record.AuthenticationStatus = target
}

func (sm *authStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *authStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
