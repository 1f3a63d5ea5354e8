package paymentauth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Authentications is the sole access path to authentication records. Every
// mutation is all-or-nothing: on any failure the stored record is unchanged.
type Authentications interface {
	Create(ctx context.Context, record *Authentication) (*Authentication, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Authentication) (*Authentication, error)

	GetByID(ctx context.Context, id string) (*Authentication, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*Authentication, error)
	GetActiveByPaymentMethod(ctx context.Context, merchantID, paymentMethodID string) (*Authentication, error)
	GetActiveByPaymentMethodTx(ctx context.Context, tx bun.IDB, merchantID, paymentMethodID string) (*Authentication, error)

	UpdateStatus(ctx context.Context, actor ActorRef, id string, status AuthenticationStatus, opts ...TransitionOption) (*Authentication, error)

	AttachConnectorID(ctx context.Context, id, connectorAuthenticationID string) (*Authentication, error)
	AttachConnectorIDTx(ctx context.Context, tx bun.IDB, id, connectorAuthenticationID string) (*Authentication, error)

	Supersede(ctx context.Context, id string) (*Authentication, error)
	SupersedeTx(ctx context.Context, tx bun.IDB, id string) (*Authentication, error)

	// ApplyStatus persists a from → to edge with compare-and-swap semantics,
	// after checking the edge against the transition topology. It is the state
	// machine's persistence hook; UpdateStatus adds hooks and actor context on
	// top of it.
	ApplyStatus(ctx context.Context, id string, from, to AuthenticationStatus, opts ...StatusUpdateOption) (*Authentication, error)
	ApplyStatusTx(ctx context.Context, tx bun.IDB, id string, from, to AuthenticationStatus, opts ...StatusUpdateOption) (*Authentication, error)
}

type authentications struct {
	db                  *bun.DB
	now                 func() time.Time
	activitySink        ActivitySink
	logger              Logger
	stateMachine        AuthenticationStateMachine
	stateMachineOptions []StateMachineOption
}

var _ Authentications = (*authentications)(nil)

// AuthenticationsOption customizes store construction.
type AuthenticationsOption func(*authentications)

// NewAuthenticationsRepository creates the bun-backed store.
func NewAuthenticationsRepository(db *bun.DB, opts ...AuthenticationsOption) Authentications {
	repo := &authentications{
		db:           db,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	// Built eagerly so concurrent UpdateStatus calls never race on the field.
	if repo.stateMachine == nil {
		options := append([]StateMachineOption{
			WithStateMachineClock(repo.now),
			WithStateMachineActivitySink(repo.activitySink),
			WithStateMachineLogger(repo.logger),
		}, repo.stateMachineOptions...)
		repo.stateMachine = NewAuthenticationStateMachine(repo, options...)
	}

	return repo
}

// WithAuthenticationsClock injects a custom clock (useful for tests).
func WithAuthenticationsClock(clock func() time.Time) AuthenticationsOption {
	return func(a *authentications) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithAuthenticationsActivitySink publishes store mutations to the given sink.
func WithAuthenticationsActivitySink(sink ActivitySink) AuthenticationsOption {
	return func(a *authentications) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

// WithAuthenticationsLogger overrides the logger used for sink failures.
func WithAuthenticationsLogger(logger Logger) AuthenticationsOption {
	return func(a *authentications) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAuthenticationsStateMachine replaces the default state machine.
func WithAuthenticationsStateMachine(sm AuthenticationStateMachine) AuthenticationsOption {
	return func(a *authentications) {
		a.stateMachine = sm
	}
}

// WithAuthenticationsStateMachineOptions forwards options to the default
// state machine built by NewAuthenticationsRepository.
func WithAuthenticationsStateMachineOptions(options ...StateMachineOption) AuthenticationsOption {
	return func(a *authentications) {
		if len(options) == 0 {
			return
		}
		a.stateMachineOptions = append(a.stateMachineOptions, options...)
	}
}

func (a *authentications) Create(ctx context.Context, record *Authentication) (*Authentication, error) {
	var created *Authentication
	err := a.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = a.CreateTx(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (a *authentications) CreateTx(ctx context.Context, tx bun.IDB, record *Authentication) (*Authentication, error) {
	if err := prepareNewAuthentication(record, a.now()); err != nil {
		return nil, err
	}

	// Serialized check-then-insert; the partial unique index on
	// (merchant_id, payment_method_id) WHERE lifecycle_status = 'active'
	// backs the same invariant at the database level.
	if record.LifecycleStatus.IsActive() {
		exists, err := tx.NewSelect().
			Model((*Authentication)(nil)).
			Where("merchant_id = ?", record.MerchantID).
			Where("payment_method_id = ?", record.PaymentMethodID).
			Where("lifecycle_status = ?", LifecycleStatusActive).
			Exists(ctx)
		if err != nil {
			return nil, wrapStorageErr(err, "create")
		}
		if exists {
			return nil, ErrAlreadyExists.WithMetadata(map[string]any{
				"merchant_id":       record.MerchantID,
				"payment_method_id": record.PaymentMethodID,
				"reason":            "an active authentication already exists for this payment method",
			})
		}
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists.WithMetadata(map[string]any{
				"authentication_id": record.AuthenticationID,
			})
		}
		return nil, wrapStorageErr(err, "create")
	}

	return record, nil
}

func (a *authentications) GetByID(ctx context.Context, id string) (*Authentication, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *authentications) GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*Authentication, error) {
	record := &Authentication{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.authentication_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound.WithMetadata(map[string]any{
				"authentication_id": id,
			})
		}
		return nil, wrapStorageErr(err, "get_by_id")
	}
	return record, nil
}

func (a *authentications) GetActiveByPaymentMethod(ctx context.Context, merchantID, paymentMethodID string) (*Authentication, error) {
	return a.GetActiveByPaymentMethodTx(ctx, a.db, merchantID, paymentMethodID)
}

func (a *authentications) GetActiveByPaymentMethodTx(ctx context.Context, tx bun.IDB, merchantID, paymentMethodID string) (*Authentication, error) {
	record := &Authentication{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.merchant_id = ?", merchantID).
		Where("?TableAlias.payment_method_id = ?", paymentMethodID).
		Where("?TableAlias.lifecycle_status = ?", LifecycleStatusActive).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound.WithMetadata(map[string]any{
				"merchant_id":       merchantID,
				"payment_method_id": paymentMethodID,
			})
		}
		return nil, wrapStorageErr(err, "get_active_by_payment_method")
	}
	return record, nil
}

func (a *authentications) UpdateStatus(ctx context.Context, actor ActorRef, id string, status AuthenticationStatus, opts ...TransitionOption) (*Authentication, error) {
	record, err := a.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.stateMachine.Transition(ctx, actor, record, status, opts...)
}

func (a *authentications) ApplyStatus(ctx context.Context, id string, from, to AuthenticationStatus, opts ...StatusUpdateOption) (*Authentication, error) {
	return a.ApplyStatusTx(ctx, a.db, id, from, to, opts...)
}

func (a *authentications) ApplyStatusTx(ctx context.Context, tx bun.IDB, id string, from, to AuthenticationStatus, opts ...StatusUpdateOption) (*Authentication, error) {
	if !to.IsValid() {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"to":     to,
			"reason": "target status is not a known state",
		})
	}
	if from.IsTerminal() {
		return nil, ErrTerminalState.WithMetadata(map[string]any{
			"from": from,
			"to":   to,
		})
	}
	if !isTransitionEdge(from, to) {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   to,
		})
	}

	record := &Authentication{
		AuthenticationID:     id,
		AuthenticationStatus: to,
		ModifiedAt:           a.now(),
	}

	columns := []string{"authentication_status", "modified_at"}
	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}
	if record.AuthenticationType != "" {
		if !record.AuthenticationType.IsValid() {
			return nil, goerrors.New("authentication type is not a known value", goerrors.CategoryValidation).
				WithTextCode(textCodeInvalidRecord).
				WithMetadata(map[string]any{"authentication_type": record.AuthenticationType})
		}
		columns = append(columns, "authentication_type")
	}
	if record.AuthenticationData != nil {
		columns = append(columns, "authentication_data")
	}

	// Compare-and-swap on the current status: a concurrent writer that moved
	// the record first leaves this update with zero affected rows.
	res, err := tx.NewUpdate().
		Model(record).
		Column(columns...).
		Where("authentication_id = ?", id).
		Where("authentication_status = ?", from).
		Exec(ctx)
	if err != nil {
		return nil, wrapStorageErr(err, "apply_status")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, wrapStorageErr(err, "apply_status")
	}

	if affected == 0 {
		current, err := a.GetByIDTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return nil, ErrConflict.WithMetadata(map[string]any{
			"authentication_id": id,
			"expected_status":   from,
			"current_status":    current.AuthenticationStatus,
		})
	}

	return a.GetByIDTx(ctx, tx, id)
}

func (a *authentications) AttachConnectorID(ctx context.Context, id, connectorAuthenticationID string) (*Authentication, error) {
	return a.AttachConnectorIDTx(ctx, a.db, id, connectorAuthenticationID)
}

func (a *authentications) AttachConnectorIDTx(ctx context.Context, tx bun.IDB, id, connectorAuthenticationID string) (*Authentication, error) {
	if strings.TrimSpace(connectorAuthenticationID) == "" {
		return nil, goerrors.New("connector authentication id is required", goerrors.CategoryValidation).
			WithTextCode(textCodeInvalidRecord)
	}

	record := &Authentication{
		AuthenticationID:          id,
		ConnectorAuthenticationID: connectorAuthenticationID,
		ModifiedAt:                a.now(),
	}

	// The IS NULL guard makes the field write-once at the storage level.
	res, err := tx.NewUpdate().
		Model(record).
		Column("connector_authentication_id", "modified_at").
		Where("authentication_id = ?", id).
		Where("connector_authentication_id IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, wrapStorageErr(err, "attach_connector_id")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, wrapStorageErr(err, "attach_connector_id")
	}

	if affected == 0 {
		current, err := a.GetByIDTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return nil, ErrAlreadySet.WithMetadata(map[string]any{
			"authentication_id":           id,
			"connector_authentication_id": current.ConnectorAuthenticationID,
		})
	}

	current, err := a.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	a.recordActivity(ctx, ActivityEvent{
		EventType:        ActivityEventConnectorAttached,
		AuthenticationID: id,
		Metadata: map[string]any{
			"connector_authentication_id": connectorAuthenticationID,
		},
	})

	return current, nil
}

func (a *authentications) Supersede(ctx context.Context, id string) (*Authentication, error) {
	return a.SupersedeTx(ctx, a.db, id)
}

func (a *authentications) SupersedeTx(ctx context.Context, tx bun.IDB, id string) (*Authentication, error) {
	record := &Authentication{
		AuthenticationID: id,
		LifecycleStatus:  LifecycleStatusSuperseded,
		ModifiedAt:       a.now(),
	}

	// Only an active record transitions; superseded and expired stay as they
	// are, which makes the operation idempotent and the axis one-way.
	res, err := tx.NewUpdate().
		Model(record).
		Column("lifecycle_status", "modified_at").
		Where("authentication_id = ?", id).
		Where("lifecycle_status = ?", LifecycleStatusActive).
		Exec(ctx)
	if err != nil {
		return nil, wrapStorageErr(err, "supersede")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, wrapStorageErr(err, "supersede")
	}

	current, err := a.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if affected > 0 {
		a.recordActivity(ctx, ActivityEvent{
			EventType:        ActivityEventRecordSuperseded,
			AuthenticationID: id,
			Metadata: map[string]any{
				"lifecycle_status": current.LifecycleStatus,
			},
		})
	}

	return current, nil
}

func (a *authentications) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}

	sink := normalizeActivitySink(a.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		a.logger.Warn("authentications activity sink error: %v", err)
	}
}

// StatusUpdateOption mutates the record a status transition persists, so extra
// fields land in the same compare-and-swap write.
type StatusUpdateOption func(*Authentication)

// WithAuthenticationData sets the connector-specific payload during a status
// transition. The payload is stored unchanged.
func WithAuthenticationData(data map[string]any) StatusUpdateOption {
	return func(a *Authentication) {
		a.AuthenticationData = data
	}
}

// WithAuthenticationType records the resolved authentication method (challenge
// vs frictionless) during a status transition.
func WithAuthenticationType(t AuthenticationType) StatusUpdateOption {
	return func(a *Authentication) {
		a.AuthenticationType = t
	}
}

func prepareNewAuthentication(record *Authentication, now time.Time) error {
	if record == nil {
		return goerrors.New("authentication record is required", goerrors.CategoryValidation).
			WithTextCode(textCodeInvalidRecord)
	}

	record.EnsureStatus()

	if record.AuthenticationID == "" {
		record.AuthenticationID = "auth_" + uuid.NewString()
	}

	missing := []string{}
	if record.MerchantID == "" {
		missing = append(missing, "merchant_id")
	}
	if record.Connector == "" {
		missing = append(missing, "connector")
	}
	if record.PaymentMethodID == "" {
		missing = append(missing, "payment_method_id")
	}
	if len(missing) > 0 {
		return goerrors.New("authentication record is missing required fields", goerrors.CategoryValidation).
			WithTextCode(textCodeInvalidRecord).
			WithMetadata(map[string]any{"fields": missing})
	}

	if !record.AuthenticationStatus.IsValid() {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"to":     record.AuthenticationStatus,
			"reason": "initial status is not a known state",
		})
	}
	if !record.LifecycleStatus.IsValid() {
		return goerrors.New("lifecycle status is not a known state", goerrors.CategoryValidation).
			WithTextCode(textCodeInvalidRecord).
			WithMetadata(map[string]any{"lifecycle_status": record.LifecycleStatus})
	}
	if record.AuthenticationType != "" && !record.AuthenticationType.IsValid() {
		return goerrors.New("authentication type is not a known value", goerrors.CategoryValidation).
			WithTextCode(textCodeInvalidRecord).
			WithMetadata(map[string]any{"authentication_type": record.AuthenticationType})
	}

	record.CreatedAt = now
	record.ModifiedAt = now

	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
