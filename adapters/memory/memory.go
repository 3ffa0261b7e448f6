// Package memory provides an in-memory implementation of the ledger
// storage adapters. It is primarily intended for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkit/ledgerkit/adapters"
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.EventLogAdapter   = (*MemoryAdapter)(nil)
	_ adapters.SnapshotAdapter   = (*MemoryAdapter)(nil)
	_ adapters.CheckpointAdapter = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker     = (*MemoryAdapter)(nil)
)

// MemoryAdapter is an in-memory implementation of the event log, snapshot,
// and checkpoint adapters. It is thread-safe and suitable for unit testing.
type MemoryAdapter struct {
	mu             sync.RWMutex
	streams        map[string][]adapters.StoredEvent
	globalEvents   []adapters.StoredEvent
	globalPosition int64
	snapshots      map[string]*adapters.SnapshotRecord
	checkpoints    map[string]adapters.Checkpoint
	closed         bool

	now func() time.Time
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock overrides the adapter's clock. Useful for tests that need
// deterministic event timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) {
		a.now = now
	}
}

// NewAdapter creates a new in-memory adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		streams:      make(map[string][]adapters.StoredEvent),
		globalEvents: make([]adapters.StoredEvent, 0),
		snapshots:    make(map[string]*adapters.SnapshotRecord),
		checkpoints:  make(map[string]adapters.Checkpoint),
		now:          func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Append stores events to an account's stream at contiguous event numbers
// starting at firstEventNumber.
func (a *MemoryAdapter) Append(ctx context.Context, accountID string, firstEventNumber int64, events []adapters.EventRecord) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, adapters.ErrEmptyAccountID
	}
	if len(events) == 0 {
		return nil, adapters.ErrNoEvents
	}
	if firstEventNumber < 1 {
		return nil, adapters.ErrInvalidEventNumber
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stream := a.streams[accountID]
	next := int64(len(stream)) + 1
	if firstEventNumber != next {
		return nil, &adapters.SequenceConflictError{
			AccountID:   accountID,
			EventNumber: firstEventNumber,
		}
	}

	timestamp := a.now()
	stored := make([]adapters.StoredEvent, len(events))
	for i, record := range events {
		a.globalPosition++
		stored[i] = adapters.StoredEvent{
			ID:             uuid.New().String(),
			AccountID:      accountID,
			Type:           record.Type,
			Data:           record.Data,
			Metadata:       record.Metadata,
			EventNumber:    firstEventNumber + int64(i),
			GlobalPosition: a.globalPosition,
			Timestamp:      timestamp,
		}
	}

	a.streams[accountID] = append(stream, stored...)
	a.globalEvents = append(a.globalEvents, stored...)

	return stored, nil
}

// NextEventNumber returns the event number the next append should use.
func (a *MemoryAdapter) NextEventNumber(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if accountID == "" {
		return 0, adapters.ErrEmptyAccountID
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return int64(len(a.streams[accountID])) + 1, nil
}

// Events returns an account's events after the given event number.
func (a *MemoryAdapter) Events(ctx context.Context, accountID string, afterEventNumber int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, adapters.ErrEmptyAccountID
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stream, ok := a.streams[accountID]
	if !ok || len(stream) == 0 {
		return nil, adapters.ErrAccountNotFound
	}

	result := make([]adapters.StoredEvent, 0, len(stream))
	for _, event := range stream {
		if event.EventNumber > afterEventNumber {
			result = append(result, event)
		}
	}
	return result, nil
}

// EventsUntil returns an account's events with timestamps at or before the
// given instant.
func (a *MemoryAdapter) EventsUntil(ctx context.Context, accountID string, until time.Time) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, adapters.ErrEmptyAccountID
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stream, ok := a.streams[accountID]
	if !ok || len(stream) == 0 {
		return nil, adapters.ErrAccountNotFound
	}

	result := make([]adapters.StoredEvent, 0, len(stream))
	for _, event := range stream {
		if !event.Timestamp.After(until) {
			result = append(result, event)
		}
	}
	return result, nil
}

// AllEvents returns events from the whole log after the given global
// position, ordered by (timestamp, global position).
func (a *MemoryAdapter) AllEvents(ctx context.Context, afterPosition int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	result := make([]adapters.StoredEvent, 0, len(a.globalEvents))
	for _, event := range a.globalEvents {
		if event.GlobalPosition > afterPosition {
			result = append(result, event)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].GlobalPosition < result[j].GlobalPosition
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// TotalEvents returns the number of events in the log.
func (a *MemoryAdapter) TotalEvents(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return int64(len(a.globalEvents)), nil
}

// LastPosition returns the highest global position in the log.
func (a *MemoryAdapter) LastPosition(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return a.globalPosition, nil
}

// SaveSnapshot upserts the snapshot for an account.
func (a *MemoryAdapter) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.AccountID == "" {
		return adapters.ErrEmptyAccountID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	record := snapshot
	a.snapshots[snapshot.AccountID] = &record
	return nil
}

// LoadSnapshot returns the snapshot for an account, or nil if none exists.
func (a *MemoryAdapter) LoadSnapshot(ctx context.Context, accountID string) (*adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, adapters.ErrEmptyAccountID
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	record, ok := a.snapshots[accountID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

// DeleteSnapshot removes the snapshot for an account.
func (a *MemoryAdapter) DeleteSnapshot(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if accountID == "" {
		return adapters.ErrEmptyAccountID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	delete(a.snapshots, accountID)
	return nil
}

// GetCheckpoint returns a projection's checkpoint, or 0 if none exists.
func (a *MemoryAdapter) GetCheckpoint(ctx context.Context, projection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return a.checkpoints[projection].Position, nil
}

// SaveCheckpoint upserts a projection's checkpoint.
func (a *MemoryAdapter) SaveCheckpoint(ctx context.Context, projection string, position int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	a.checkpoints[projection] = adapters.Checkpoint{
		Position:  position,
		UpdatedAt: a.now(),
	}
	return nil
}

// ResetCheckpoint sets a projection's checkpoint back to 0.
func (a *MemoryAdapter) ResetCheckpoint(ctx context.Context, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	delete(a.checkpoints, projection)
	return nil
}

// Checkpoints returns all known projection checkpoints.
func (a *MemoryAdapter) Checkpoints(ctx context.Context) (map[string]adapters.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	result := make(map[string]adapters.Checkpoint, len(a.checkpoints))
	for name, checkpoint := range a.checkpoints {
		result[name] = checkpoint
	}
	return result, nil
}

// Ping reports whether the adapter is usable.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Close marks the adapter as closed. Further operations fail with
// ErrAdapterClosed.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	return nil
}

// Reset clears all stored data. Useful for tests.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.streams = make(map[string][]adapters.StoredEvent)
	a.globalEvents = make([]adapters.StoredEvent, 0)
	a.globalPosition = 0
	a.snapshots = make(map[string]*adapters.SnapshotRecord)
	a.checkpoints = make(map[string]adapters.Checkpoint)
}

// EventCount returns the total number of events stored. Useful for tests.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.globalEvents)
}
