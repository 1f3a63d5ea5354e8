package paymentauth_test

import (
	"context"

	paymentauth "github.com/goliatone/go-payment-auth"
	"github.com/stretchr/testify/mock"
)

// MockStatusApplier implements the persistence hook the state machine writes
// through.
type MockStatusApplier struct {
	mock.Mock
}

func (m *MockStatusApplier) ApplyStatus(ctx context.Context, id string, from, to paymentauth.AuthenticationStatus, opts ...paymentauth.StatusUpdateOption) (*paymentauth.Authentication, error) {
	args := m.Called(ctx, id, from, to, opts)
	var record *paymentauth.Authentication
	if v := args.Get(0); v != nil {
		record = v.(*paymentauth.Authentication)
	}
	return record, args.Error(1)
}

type capturingSink struct {
	events []paymentauth.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt paymentauth.ActivityEvent) error {
	c.events = append(c.events, evt)
	return nil
}
