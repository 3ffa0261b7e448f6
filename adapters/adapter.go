// Package adapters defines the storage adapter interfaces for ledgerkit.
// Implementations persist the append-only event log, snapshots, and
// projection checkpoints to a specific backend.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrSequenceConflict is returned when a concurrent writer already
	// claimed the event number being appended.
	ErrSequenceConflict = errors.New("adapters: sequence conflict")

	// ErrAccountNotFound is returned when an account has no events in the log.
	ErrAccountNotFound = errors.New("adapters: account not found")

	// ErrEmptyAccountID is returned when an empty account ID is provided.
	ErrEmptyAccountID = errors.New("adapters: account ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("adapters: no events to append")

	// ErrInvalidEventNumber is returned when an event number is not positive.
	ErrInvalidEventNumber = errors.New("adapters: event number must be positive")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("adapters: adapter is closed")
)

// EventRecord represents an event to be appended to the log.
type EventRecord struct {
	// Type identifies the event type (e.g. "AccountCreated").
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata is optional serialized metadata (may be nil).
	Metadata []byte
}

// StoredEvent represents an event read back from the log.
type StoredEvent struct {
	// ID is the unique identifier assigned by the adapter.
	ID string

	// AccountID identifies the account (aggregate) the event belongs to.
	AccountID string

	// Type identifies the event type.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata is optional serialized metadata (may be nil).
	Metadata []byte

	// EventNumber is the position within the account's stream, starting
	// at 1 and strictly contiguous.
	EventNumber int64

	// GlobalPosition is the position within the whole log, starting at 1.
	GlobalPosition int64

	// Timestamp is when the event was appended.
	Timestamp time.Time
}

// SequenceConflictError provides detailed information about an append that
// lost a race for an event number.
type SequenceConflictError struct {
	AccountID   string
	EventNumber int64
}

// Error returns the error message.
func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("adapters: sequence conflict on account %q: event number %d already taken",
		e.AccountID, e.EventNumber)
}

// Is reports whether this error matches the target error.
func (e *SequenceConflictError) Is(target error) bool {
	return target == ErrSequenceConflict
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *SequenceConflictError) Unwrap() error {
	return ErrSequenceConflict
}

// EventLogAdapter is the interface for append-only event log backends.
//
// An account's stream is numbered from 1 with no gaps. The log as a whole
// is numbered by a monotonically increasing global position.
type EventLogAdapter interface {
	// Append atomically appends events to an account's stream. The first
	// event is written at firstEventNumber and successive events at
	// consecutive numbers. If any of those numbers is already taken the
	// whole append fails with a *SequenceConflictError and nothing is
	// written.
	Append(ctx context.Context, accountID string, firstEventNumber int64, events []EventRecord) ([]StoredEvent, error)

	// NextEventNumber returns the event number the next append should use
	// (1 for an account with no events).
	NextEventNumber(ctx context.Context, accountID string) (int64, error)

	// Events returns an account's events with event numbers strictly
	// greater than afterEventNumber, in event number order. Pass 0 to
	// read the whole stream. Returns ErrAccountNotFound if the account
	// has no events at all.
	Events(ctx context.Context, accountID string, afterEventNumber int64) ([]StoredEvent, error)

	// EventsUntil returns an account's events with timestamps at or
	// before the given instant, in event number order.
	EventsUntil(ctx context.Context, accountID string, until time.Time) ([]StoredEvent, error)

	// AllEvents returns events from the whole log with global positions
	// strictly greater than afterPosition, ordered by (timestamp, global
	// position). Pass 0 for the whole log.
	AllEvents(ctx context.Context, afterPosition int64) ([]StoredEvent, error)

	// TotalEvents returns the number of events in the log.
	TotalEvents(ctx context.Context) (int64, error)

	// LastPosition returns the highest global position in the log, or 0
	// for an empty log.
	LastPosition(ctx context.Context) (int64, error)

	// Close releases any resources held by the adapter.
	Close() error
}

// SnapshotRecord represents a persisted snapshot of account state.
type SnapshotRecord struct {
	// AccountID identifies the account.
	AccountID string

	// Data is the serialized snapshot state.
	Data []byte

	// LastEventNumber is the event number of the last event folded into
	// this snapshot.
	LastEventNumber int64

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time
}

// SnapshotAdapter is the interface for snapshot storage backends.
// At most one snapshot is kept per account; saving replaces any prior one.
type SnapshotAdapter interface {
	// SaveSnapshot upserts the snapshot for an account.
	SaveSnapshot(ctx context.Context, snapshot SnapshotRecord) error

	// LoadSnapshot returns the snapshot for an account, or nil if none
	// exists.
	LoadSnapshot(ctx context.Context, accountID string) (*SnapshotRecord, error)

	// DeleteSnapshot removes the snapshot for an account, if any.
	DeleteSnapshot(ctx context.Context, accountID string) error
}

// Checkpoint records a projection's progress through the global log and
// when it last moved.
type Checkpoint struct {
	Position  int64
	UpdatedAt time.Time
}

// CheckpointAdapter tracks per-projection progress through the global log.
type CheckpointAdapter interface {
	// GetCheckpoint returns the last global position a projection has
	// processed, or 0 if the projection has no checkpoint yet.
	GetCheckpoint(ctx context.Context, projection string) (int64, error)

	// SaveCheckpoint upserts a projection's checkpoint and stamps its
	// update time.
	SaveCheckpoint(ctx context.Context, projection string, position int64) error

	// ResetCheckpoint sets a projection's checkpoint back to 0.
	ResetCheckpoint(ctx context.Context, projection string) error

	// Checkpoints returns all known projection checkpoints keyed by
	// projection name.
	Checkpoints(ctx context.Context) (map[string]Checkpoint, error)
}

// HealthChecker is an optional interface adapters can implement to report
// backend connectivity.
type HealthChecker interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// Migrator is an optional interface adapters can implement to create their
// schema.
type Migrator interface {
	// Migrate creates or updates the backend schema.
	Migrate(ctx context.Context) error
}
