// Package ledgerkit provides an event-sourced ledger core for bank
// accounts. It offers an append-only event log with optimistic sequence
// control, a pure fold engine for rebuilding account state, snapshotting,
// and read-model projections with support for full rebuilds.
package ledgerkit

import (
	"errors"
	"fmt"

	"github.com/ledgerkit/ledgerkit/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Storage-level sentinels are aliases to the adapters package errors.
var (
	// ErrSequenceConflict indicates two writers raced for the same event number.
	ErrSequenceConflict = adapters.ErrSequenceConflict

	// ErrAccountNotFound indicates the requested account has no events.
	ErrAccountNotFound = adapters.ErrAccountNotFound

	// ErrEmptyAccountID indicates an empty account ID was provided.
	ErrEmptyAccountID = adapters.ErrEmptyAccountID

	// ErrAdapterClosed indicates the storage adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrSerializationFailed indicates event serialization/deserialization failed.
	ErrSerializationFailed = errors.New("ledgerkit: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("ledgerkit: event type not registered")

	// ErrValidationFailed indicates command input validation failed.
	ErrValidationFailed = errors.New("ledgerkit: validation failed")

	// Business rule errors raised by the command layer, never by the fold.

	// ErrAccountExists indicates an account with the given ID already exists.
	ErrAccountExists = errors.New("ledgerkit: account already exists")

	// ErrAccountClosed indicates the account is closed and rejects operations.
	ErrAccountClosed = errors.New("ledgerkit: account is closed")

	// ErrInsufficientFunds indicates a withdrawal exceeds the balance.
	ErrInsufficientFunds = errors.New("ledgerkit: insufficient funds")

	// ErrBalanceNotZero indicates an account with a balance cannot be closed.
	ErrBalanceNotZero = errors.New("ledgerkit: balance must be zero to close account")

	// ErrRebuildRunning indicates a projection rebuild is already in progress.
	ErrRebuildRunning = errors.New("ledgerkit: rebuild already running")

	// ErrRebuildJobNotFound indicates no rebuild job exists with the given ID.
	ErrRebuildJobNotFound = errors.New("ledgerkit: rebuild job not found")

	// ErrRetriesExhausted indicates a command gave up after repeated sequence conflicts.
	ErrRetriesExhausted = errors.New("ledgerkit: retries exhausted")
)

// SequenceConflictError provides detailed information about a sequence conflict.
type SequenceConflictError struct {
	AccountID   string
	EventNumber int64
}

// Error returns the error message.
func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("ledgerkit: sequence conflict on account %q: event number %d already taken",
		e.AccountID, e.EventNumber)
}

// Is reports whether this error matches the target error.
func (e *SequenceConflictError) Is(target error) bool {
	return target == ErrSequenceConflict || target == adapters.ErrSequenceConflict
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *SequenceConflictError) Unwrap() error {
	return ErrSequenceConflict
}

// NewSequenceConflictError creates a new SequenceConflictError.
func NewSequenceConflictError(accountID string, eventNumber int64) *SequenceConflictError {
	return &SequenceConflictError{AccountID: accountID, EventNumber: eventNumber}
}

// AccountNotFoundError provides detailed information about a missing account.
type AccountNotFoundError struct {
	AccountID string
}

// Error returns the error message.
func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("ledgerkit: account %q not found", e.AccountID)
}

// Is reports whether this error matches the target error.
func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound || target == adapters.ErrAccountNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *AccountNotFoundError) Unwrap() error {
	return ErrAccountNotFound
}

// NewAccountNotFoundError creates a new AccountNotFoundError.
func NewAccountNotFoundError(accountID string) *AccountNotFoundError {
	return &AccountNotFoundError{AccountID: accountID}
}

// ValidationError describes a rejected command input.
type ValidationError struct {
	Field  string
	Reason string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledgerkit: validation failed on %q: %s", e.Field, e.Reason)
}

// Is reports whether this error matches the target error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("ledgerkit: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// EventTypeNotRegisteredError provides detailed information about an unregistered event type.
type EventTypeNotRegisteredError struct {
	EventType string
}

// Error returns the error message.
func (e *EventTypeNotRegisteredError) Error() string {
	return fmt.Sprintf("ledgerkit: event type %q not registered", e.EventType)
}

// Is reports whether this error matches the target error.
func (e *EventTypeNotRegisteredError) Is(target error) bool {
	return target == ErrEventTypeNotRegistered
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *EventTypeNotRegisteredError) Unwrap() error {
	return ErrEventTypeNotRegistered
}

// NewEventTypeNotRegisteredError creates a new EventTypeNotRegisteredError.
func NewEventTypeNotRegisteredError(eventType string) *EventTypeNotRegisteredError {
	return &EventTypeNotRegisteredError{EventType: eventType}
}
