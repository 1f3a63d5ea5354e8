package paymentauth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Authentications() Authentications
	Events() repository.Repository[*AuthenticationEvent]
}

type mngr struct {
	db              *bun.DB
	authentications Authentications
	events          repository.Repository[*AuthenticationEvent]
}

// ManagerOption customizes manager construction.
type ManagerOption func(*mngr)

// WithManagerAuthenticationsOptions forwards options to the authentications
// store built by the manager.
func WithManagerAuthenticationsOptions(options ...AuthenticationsOption) ManagerOption {
	return func(m *mngr) {
		m.authentications = NewAuthenticationsRepository(m.db, options...)
	}
}

func NewRepositoryManager(db *bun.DB, opts ...ManagerOption) RepositoryManager {
	events := NewAuthenticationEventsRepository(db)
	m := &mngr{
		db:     db,
		events: events,
		authentications: NewAuthenticationsRepository(db,
			WithAuthenticationsActivitySink(NewBunActivitySink(events)),
		),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *mngr) Validate() error {
	if m.authentications == nil {
		return errors.New("repository authentications should be initialized")
	}

	if m.events == nil {
		return errors.New("repository events should be initialized")
	}

	return nil
}

func (m *mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *mngr) Authentications() Authentications {
	return m.authentications
}

func (m *mngr) Events() repository.Repository[*AuthenticationEvent] {
	return m.events
}
