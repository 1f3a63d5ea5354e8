package paymentauth_test

import (
	"context"
	"testing"
	"time"

	paymentauth "github.com/goliatone/go-payment-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStateMachineAppliesValidTransition(t *testing.T) {
	store := &MockStatusApplier{}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusStarted,
	}

	expected := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusPending,
		ModifiedAt:           now,
	}

	store.On("ApplyStatus", mock.Anything, "auth_1", paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusPending, mock.Anything).
		Return(expected, nil).Once()

	sm := paymentauth.NewAuthenticationStateMachine(store, paymentauth.WithStateMachineClock(func() time.Time { return now }))

	result, err := sm.Transition(context.Background(), paymentauth.ActorRef{ID: "orchestrator"}, record, paymentauth.AuthenticationStatusPending)
	require.NoError(t, err)
	assert.Equal(t, paymentauth.AuthenticationStatusPending, result.AuthenticationStatus)
	assert.Equal(t, now, result.ModifiedAt)
	store.AssertExpectations(t)
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	store := &MockStatusApplier{}
	record := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusPending,
	}

	sm := paymentauth.NewAuthenticationStateMachine(store)

	_, err := sm.Transition(context.Background(), paymentauth.ActorRef{}, record, paymentauth.AuthenticationStatusStarted)
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentauth.ErrInvalidTransition)
	assert.True(t, paymentauth.IsInvalidTransition(err))
	assert.Equal(t, paymentauth.AuthenticationStatusPending, record.AuthenticationStatus)
	store.AssertNotCalled(t, "ApplyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachineRejectsSelfTransition(t *testing.T) {
	store := &MockStatusApplier{}
	record := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusPending,
	}

	sm := paymentauth.NewAuthenticationStateMachine(store)

	_, err := sm.Transition(context.Background(), paymentauth.ActorRef{}, record, paymentauth.AuthenticationStatusPending)
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentauth.ErrInvalidTransition)
	store.AssertNotCalled(t, "ApplyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachineRejectsUnknownTarget(t *testing.T) {
	store := &MockStatusApplier{}
	record := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusStarted,
	}

	sm := paymentauth.NewAuthenticationStateMachine(store)

	_, err := sm.Transition(context.Background(), paymentauth.ActorRef{}, record, paymentauth.AuthenticationStatus("bogus"))
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentauth.ErrInvalidTransition)
}

func TestStateMachineRejectsTransitionFromTerminal(t *testing.T) {
	terminal := []paymentauth.AuthenticationStatus{
		paymentauth.AuthenticationStatusSuccess,
		paymentauth.AuthenticationStatusFailed,
		paymentauth.AuthenticationStatusError,
	}

	for _, from := range terminal {
		t.Run(string(from), func(t *testing.T) {
			store := &MockStatusApplier{}
			record := &paymentauth.Authentication{
				AuthenticationID:     "auth_1",
				AuthenticationStatus: from,
			}

			sm := paymentauth.NewAuthenticationStateMachine(store)

			_, err := sm.Transition(context.Background(), paymentauth.ActorRef{}, record, paymentauth.AuthenticationStatusPending)
			require.Error(t, err)
			assert.ErrorIs(t, err, paymentauth.ErrTerminalState)
			assert.True(t, paymentauth.IsInvalidTransition(err))
			assert.Equal(t, from, record.AuthenticationStatus)
			store.AssertNotCalled(t, "ApplyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestStateMachineTransitionTable(t *testing.T) {
	sm := paymentauth.NewAuthenticationStateMachine(&MockStatusApplier{})

	tests := []struct {
		from, to paymentauth.AuthenticationStatus
		allowed  bool
	}{
		{paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusPending, true},
		{paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusSuccess, true},
		{paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusFailed, true},
		{paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusError, true},
		{paymentauth.AuthenticationStatusPending, paymentauth.AuthenticationStatusSuccess, true},
		{paymentauth.AuthenticationStatusPending, paymentauth.AuthenticationStatusFailed, true},
		{paymentauth.AuthenticationStatusPending, paymentauth.AuthenticationStatusError, true},
		{paymentauth.AuthenticationStatusPending, paymentauth.AuthenticationStatusStarted, false},
		{paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusStarted, false},
		{paymentauth.AuthenticationStatusPending, paymentauth.AuthenticationStatusPending, false},
		{paymentauth.AuthenticationStatusSuccess, paymentauth.AuthenticationStatusPending, false},
		{paymentauth.AuthenticationStatusSuccess, paymentauth.AuthenticationStatusFailed, false},
		{paymentauth.AuthenticationStatusFailed, paymentauth.AuthenticationStatusSuccess, false},
		{paymentauth.AuthenticationStatusError, paymentauth.AuthenticationStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, sm.CanTransition(tt.from, tt.to))
		})
	}
}

func TestStateMachineRunsHooksWithMetadata(t *testing.T) {
	store := &MockStatusApplier{}
	record := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusStarted,
	}

	ts := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

	store.On("ApplyStatus", mock.Anything, "auth_1", paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusPending, mock.Anything).
		Return(&paymentauth.Authentication{
			AuthenticationID:     "auth_1",
			AuthenticationStatus: paymentauth.AuthenticationStatusPending,
			ModifiedAt:           ts,
		}, nil).Once()

	var beforeCalled, afterCalled bool
	var reasonSeen string
	var metadataSeen map[string]any

	before := func(ctx context.Context, tc paymentauth.TransitionContext) error {
		beforeCalled = true
		reasonSeen = tc.Meta.Reason
		metadataSeen = tc.Meta.Metadata
		return nil
	}
	after := func(ctx context.Context, tc paymentauth.TransitionContext) error {
		afterCalled = true
		return nil
	}

	sm := paymentauth.NewAuthenticationStateMachine(store, paymentauth.WithStateMachineClock(func() time.Time { return ts }))

	metadata := map[string]any{"callback_id": "cb_123"}

	_, err := sm.Transition(
		context.Background(),
		paymentauth.ActorRef{ID: "orchestrator"},
		record,
		paymentauth.AuthenticationStatusPending,
		paymentauth.WithTransitionReason("connector acknowledged"),
		paymentauth.WithTransitionMetadata(metadata),
		paymentauth.WithBeforeTransitionHook(before),
		paymentauth.WithAfterTransitionHook(after),
	)
	require.NoError(t, err)
	assert.True(t, beforeCalled)
	assert.True(t, afterCalled)
	assert.Equal(t, "connector acknowledged", reasonSeen)
	require.NotNil(t, metadataSeen)
	assert.Equal(t, "cb_123", metadataSeen["callback_id"])
	store.AssertExpectations(t)
}

func TestStateMachineBeforeHookErrorAbortsPersist(t *testing.T) {
	store := &MockStatusApplier{}
	record := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusStarted,
	}

	hookErr := assert.AnError
	handled := false

	sm := paymentauth.NewAuthenticationStateMachine(store,
		paymentauth.WithStateMachineHookErrorHandler(func(ctx context.Context, phase paymentauth.TransitionHookPhase, err error, tc paymentauth.TransitionContext) error {
			handled = true
			assert.Equal(t, paymentauth.HookPhaseBefore, phase)
			return err
		}),
	)

	_, err := sm.Transition(
		context.Background(),
		paymentauth.ActorRef{},
		record,
		paymentauth.AuthenticationStatusPending,
		paymentauth.WithBeforeTransitionHook(func(ctx context.Context, tc paymentauth.TransitionContext) error {
			return hookErr
		}),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, hookErr)
	assert.True(t, handled)
	store.AssertNotCalled(t, "ApplyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachinePublishesActivityEvent(t *testing.T) {
	store := &MockStatusApplier{}
	sink := &capturingSink{}
	record := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusStarted,
	}

	now := time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC)

	store.On("ApplyStatus", mock.Anything, "auth_1", paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusSuccess, mock.Anything).
		Return(&paymentauth.Authentication{
			AuthenticationID:     "auth_1",
			AuthenticationStatus: paymentauth.AuthenticationStatusSuccess,
			ModifiedAt:           now,
		}, nil).Once()

	sm := paymentauth.NewAuthenticationStateMachine(store,
		paymentauth.WithStateMachineActivitySink(sink),
		paymentauth.WithStateMachineClock(func() time.Time { return now }),
	)

	_, err := sm.Transition(context.Background(), paymentauth.ActorRef{ID: "webhook", Type: "connector"}, record, paymentauth.AuthenticationStatusSuccess)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	evt := sink.events[0]
	assert.Equal(t, paymentauth.ActivityEventStatusChanged, evt.EventType)
	assert.Equal(t, "auth_1", evt.AuthenticationID)
	assert.Equal(t, paymentauth.AuthenticationStatusStarted, evt.FromStatus)
	assert.Equal(t, paymentauth.AuthenticationStatusSuccess, evt.ToStatus)
	assert.Equal(t, "webhook", evt.Actor.ID)
	assert.Equal(t, now, evt.OccurredAt)
}

func TestStateMachinePublishesActivityWhenAfterHookFails(t *testing.T) {
	store := &MockStatusApplier{}
	sink := &capturingSink{}
	record := &paymentauth.Authentication{
		AuthenticationID:     "auth_1",
		AuthenticationStatus: paymentauth.AuthenticationStatusStarted,
	}

	store.On("ApplyStatus", mock.Anything, "auth_1", paymentauth.AuthenticationStatusStarted, paymentauth.AuthenticationStatusPending, mock.Anything).
		Return(&paymentauth.Authentication{
			AuthenticationID:     "auth_1",
			AuthenticationStatus: paymentauth.AuthenticationStatusPending,
		}, nil).Once()

	hookErr := assert.AnError
	sm := paymentauth.NewAuthenticationStateMachine(store,
		paymentauth.WithStateMachineActivitySink(sink),
		paymentauth.WithStateMachineHookErrorHandler(func(ctx context.Context, phase paymentauth.TransitionHookPhase, err error, tc paymentauth.TransitionContext) error {
			return err
		}),
	)

	_, err := sm.Transition(
		context.Background(),
		paymentauth.ActorRef{ID: "webhook"},
		record,
		paymentauth.AuthenticationStatusPending,
		paymentauth.WithAfterTransitionHook(func(ctx context.Context, tc paymentauth.TransitionContext) error {
			return hookErr
		}),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, hookErr)

	// the status change persisted, so the audit trail must still report it
	require.Len(t, sink.events, 1)
	assert.Equal(t, paymentauth.ActivityEventStatusChanged, sink.events[0].EventType)
	assert.Equal(t, paymentauth.AuthenticationStatusStarted, sink.events[0].FromStatus)
	assert.Equal(t, paymentauth.AuthenticationStatusPending, sink.events[0].ToStatus)
	store.AssertExpectations(t)
}

func TestStateMachineCurrentStatusDefaultsToStarted(t *testing.T) {
	sm := paymentauth.NewAuthenticationStateMachine(&MockStatusApplier{})

	assert.Equal(t, paymentauth.AuthenticationStatus(""), sm.CurrentStatus(nil))
	assert.Equal(t, paymentauth.AuthenticationStatusStarted, sm.CurrentStatus(&paymentauth.Authentication{}))
}
