// Package paymentauth tracks the state of payment-authentication attempts
// (3-D Secure / SCA style flows) performed against external connectors on
// behalf of merchants. Each attempt is one durable record whose status moves
// through a constrained lifecycle as the connector reports progress.
//
// Authentication lifecycle:
//   - Records carry an AuthenticationStatus that is persisted via Bun. The
//     attempt starts in started, moves to pending once the connector
//     acknowledges it, and settles in one of the terminal states success,
//     failed, or error. No edge leaves a terminal state.
//   - AuthenticationStateMachine centralizes the transition graph, hooks, and
//     persistence. The Authentications store delegates every status change to
//     it, so invalid edges are rejected before anything is written.
//   - LifecycleStatus is an orthogonal one-way axis marking whether a record is
//     the authoritative attempt for its (merchant, payment method) pair. The
//     store guarantees at most one active record per pair, and Supersede is
//     idempotent.
//
// Concurrency:
//   - Status writes are compare-and-swap on the current status. The loser of a
//     concurrent race observes ErrConflict and the record holds the winner's
//     state; nothing is ever silently overwritten.
//   - The connector-assigned id is write-once at the storage level; a second
//     AttachConnectorID observes ErrAlreadySet.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the store and the
//     state machine to describe status changes, connector attachment, and
//     supersession. Sinks run best-effort (errors are logged) so you can
//     forward to a database or queue without blocking mutations.
//     BunActivitySink persists events to the authentication_events table.
//
// This package is storage-only: it never talks to a connector. The
// orchestrator owns connector I/O and translates connector callbacks into
// store calls.
package paymentauth
