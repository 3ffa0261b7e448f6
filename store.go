package ledgerkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerkit/ledgerkit/adapters"
)

// Logger defines the structured logging interface used across the library.
// Implementations accept alternating key/value pairs in args.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// DefaultRetryAttempts is how many times Execute retries a command after a
// sequence conflict before giving up.
const DefaultRetryAttempts = 3

// Ledger is the main entry point for event sourcing operations. It owns
// appending events with optimistic sequence control, rebuilding account
// state by folding the log, and snapshotting.
type Ledger struct {
	log        adapters.EventLogAdapter
	snapshots  adapters.SnapshotAdapter
	registry   *EventRegistry
	serializer Serializer
	logger     Logger
	publisher  Publisher
	projector  EventProjector

	snapshotInterval int64
	retryAttempts    int
}

// EventProjector receives appended events synchronously. Unlike a
// Publisher, a projector's error is returned to the caller: a read model
// that cannot keep up fails the operation instead of silently diverging.
type EventProjector interface {
	ProjectEvents(ctx context.Context, events []Event) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSerializer sets the event payload serializer.
func WithSerializer(s Serializer) Option {
	return func(l *Ledger) {
		l.serializer = s
	}
}

// WithRegistry sets the event registry used for type resolution.
func WithRegistry(r *EventRegistry) Option {
	return func(l *Ledger) {
		l.registry = r
	}
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(logger Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithSnapshots enables snapshotting through the given adapter.
func WithSnapshots(s adapters.SnapshotAdapter) Option {
	return func(l *Ledger) {
		l.snapshots = s
	}
}

// WithSnapshotInterval sets how many events an account accrues between
// snapshots. Zero or negative disables snapshotting.
func WithSnapshotInterval(interval int64) Option {
	return func(l *Ledger) {
		l.snapshotInterval = interval
	}
}

// WithRetryAttempts sets how many times Execute retries after a sequence
// conflict.
func WithRetryAttempts(attempts int) Option {
	return func(l *Ledger) {
		l.retryAttempts = attempts
	}
}

// WithPublisher sets a publisher that receives appended events after they
// are durably stored. Publish failures are logged, never returned.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) {
		l.publisher = p
	}
}

// WithProjector sets a projector that applies appended events to the read
// models before AppendEvent returns. Projection failures are returned, not
// swallowed; the events stay durably appended and the projector retries
// them on the next delivery.
func WithProjector(p EventProjector) Option {
	return func(l *Ledger) {
		l.projector = p
	}
}

// New creates a Ledger on top of an event log adapter. The default
// configuration uses a JSON serializer with the account events registered,
// a snapshot interval of 50, and 3 command retries.
func New(log adapters.EventLogAdapter, opts ...Option) *Ledger {
	l := &Ledger{
		log:              log,
		logger:           &noopLogger{},
		snapshotInterval: DefaultSnapshotInterval,
		retryAttempts:    DefaultRetryAttempts,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.registry == nil {
		l.registry = NewEventRegistry()
		RegisterAccountEvents(l.registry)
	}
	if l.serializer == nil {
		l.serializer = NewJSONSerializer(l.registry)
	}

	return l
}

// LoadResult describes how an account's state was assembled: the snapshot
// baseline the fold resumed from (0 when no snapshot was used) and how
// many events were folded on top of it.
type LoadResult struct {
	State           AccountState
	SnapshotVersion int64
	TailEvents      int
}

// LoadAccount rebuilds an account's current state, resuming from the
// latest snapshot when one exists. Returns an *AccountNotFoundError if the
// account has no events.
func (l *Ledger) LoadAccount(ctx context.Context, accountID string) (AccountState, error) {
	result, err := l.LoadAccountDetail(ctx, accountID)
	if err != nil {
		return AccountState{}, err
	}
	return result.State, nil
}

// LoadAccountDetail is LoadAccount plus how the state was put together:
// the snapshot baseline and the number of events replayed after it.
func (l *Ledger) LoadAccountDetail(ctx context.Context, accountID string) (LoadResult, error) {
	if accountID == "" {
		return LoadResult{}, ErrEmptyAccountID
	}

	state := InitialState(accountID)
	fromEventNumber := int64(0)

	if l.snapshots != nil {
		record, err := l.snapshots.LoadSnapshot(ctx, accountID)
		if err != nil {
			return LoadResult{}, fmt.Errorf("load snapshot: %w", err)
		}
		if record != nil {
			snapshot, err := UnmarshalSnapshot(record.Data)
			if err != nil {
				return LoadResult{}, err
			}
			state = snapshot.State()
			fromEventNumber = snapshot.LastEventNumber
			l.logger.Debug("resumed from snapshot",
				"account_id", accountID,
				"last_event_number", fromEventNumber)
		}
	}

	stored, err := l.log.Events(ctx, accountID, fromEventNumber)
	if err != nil {
		if errors.Is(err, adapters.ErrAccountNotFound) {
			if fromEventNumber > 0 {
				// Snapshot is ahead of the whole log. Treat the snapshot
				// state as current rather than failing the load.
				return LoadResult{State: state, SnapshotVersion: fromEventNumber}, nil
			}
			return LoadResult{}, NewAccountNotFoundError(accountID)
		}
		return LoadResult{}, fmt.Errorf("read events: %w", err)
	}

	events, err := l.decode(stored)
	if err != nil {
		return LoadResult{}, err
	}

	return LoadResult{
		State:           Replay(state, events),
		SnapshotVersion: fromEventNumber,
		TailEvents:      len(events),
	}, nil
}

// AppendEvent appends event payloads to an account's stream at the numbers
// following expectedVersion. It fails with a *SequenceConflictError if
// another writer got there first. Once the events are durably stored they
// are projected (any projection error is returned, with the events kept in
// the log) and then published best-effort.
func (l *Ledger) AppendEvent(ctx context.Context, accountID string, expectedVersion int64, payloads ...interface{}) ([]Event, error) {
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}
	if len(payloads) == 0 {
		return nil, adapters.ErrNoEvents
	}
	if expectedVersion < 0 {
		return nil, adapters.ErrInvalidEventNumber
	}

	records := make([]adapters.EventRecord, len(payloads))
	for i, payload := range payloads {
		data, err := l.serializer.Serialize(payload)
		if err != nil {
			return nil, err
		}
		records[i] = adapters.EventRecord{
			Type: l.registry.GetEventType(payload),
			Data: data,
		}
	}

	stored, err := l.log.Append(ctx, accountID, expectedVersion+1, records)
	if err != nil {
		var conflict *adapters.SequenceConflictError
		if errors.As(err, &conflict) {
			return nil, NewSequenceConflictError(conflict.AccountID, conflict.EventNumber)
		}
		if errors.Is(err, adapters.ErrSequenceConflict) {
			return nil, NewSequenceConflictError(accountID, expectedVersion+1)
		}
		return nil, fmt.Errorf("append events: %w", err)
	}

	events, err := l.decode(stored)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("appended events",
		"account_id", accountID,
		"count", len(events),
		"last_event_number", events[len(events)-1].EventNumber)

	if l.projector != nil {
		if err := l.projector.ProjectEvents(ctx, events); err != nil {
			return nil, fmt.Errorf("project events: %w", err)
		}
	}

	l.publish(ctx, events)

	return events, nil
}

// Execute runs a command against an account with optimistic retry. The
// decide function receives the current state (InitialState for an account
// with no events) and returns the payloads to append, or an error to
// reject the command. Sequence conflicts reload the state and retry up to
// the configured attempts; every other error aborts immediately.
func (l *Ledger) Execute(ctx context.Context, accountID string, decide func(AccountState) ([]interface{}, error)) (AccountState, error) {
	if accountID == "" {
		return AccountState{}, ErrEmptyAccountID
	}

	attempts := l.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		state, err := l.LoadAccount(ctx, accountID)
		if err != nil {
			if !errors.Is(err, ErrAccountNotFound) {
				return AccountState{}, err
			}
			state = InitialState(accountID)
		}

		payloads, err := decide(state)
		if err != nil {
			return AccountState{}, err
		}
		if len(payloads) == 0 {
			return state, nil
		}

		events, err := l.AppendEvent(ctx, accountID, state.Version, payloads...)
		if err != nil {
			if errors.Is(err, ErrSequenceConflict) {
				lastErr = err
				l.logger.Warn("sequence conflict, retrying",
					"account_id", accountID,
					"attempt", attempt)
				continue
			}
			return AccountState{}, err
		}

		state = Replay(state, events)

		if err := l.MaybeSnapshot(ctx, state); err != nil {
			l.logger.Error("snapshot failed",
				"account_id", accountID,
				"error", err)
		}

		return state, nil
	}

	return AccountState{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

// MaybeSnapshot saves a snapshot of the state if it is at least the
// snapshot interval ahead of the last persisted snapshot. It is a no-op
// when snapshotting is disabled.
func (l *Ledger) MaybeSnapshot(ctx context.Context, state AccountState) error {
	if l.snapshots == nil || l.snapshotInterval <= 0 {
		return nil
	}

	lastVersion := int64(0)
	record, err := l.snapshots.LoadSnapshot(ctx, state.AccountID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if record != nil {
		lastVersion = record.LastEventNumber
	}

	if !ShouldSnapshot(state.Version, lastVersion, l.snapshotInterval) {
		return nil
	}

	snapshot := SnapshotFromState(state)
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	if err := l.snapshots.SaveSnapshot(ctx, adapters.SnapshotRecord{
		AccountID:       state.AccountID,
		Data:            data,
		LastEventNumber: snapshot.LastEventNumber,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	l.logger.Info("snapshot saved",
		"account_id", state.AccountID,
		"last_event_number", snapshot.LastEventNumber)

	return nil
}

// StateAt rebuilds an account's state as of a point in time by folding
// only the events with timestamps at or before that instant. Snapshots are
// bypassed so the fold starts from the beginning of the stream.
func (l *Ledger) StateAt(ctx context.Context, accountID string, at time.Time) (AccountState, error) {
	if accountID == "" {
		return AccountState{}, ErrEmptyAccountID
	}

	stored, err := l.log.EventsUntil(ctx, accountID, at)
	if err != nil {
		if errors.Is(err, adapters.ErrAccountNotFound) {
			return AccountState{}, NewAccountNotFoundError(accountID)
		}
		return AccountState{}, fmt.Errorf("read events: %w", err)
	}

	events, err := l.decode(stored)
	if err != nil {
		return AccountState{}, err
	}

	return Replay(InitialState(accountID), events), nil
}

// History returns an account's full event stream in order.
func (l *Ledger) History(ctx context.Context, accountID string) ([]Event, error) {
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}

	stored, err := l.log.Events(ctx, accountID, 0)
	if err != nil {
		if errors.Is(err, adapters.ErrAccountNotFound) {
			return nil, NewAccountNotFoundError(accountID)
		}
		return nil, fmt.Errorf("read events: %w", err)
	}

	return l.decode(stored)
}

// TotalEvents returns the number of events in the whole log.
func (l *Ledger) TotalEvents(ctx context.Context) (int64, error) {
	return l.log.TotalEvents(ctx)
}

// Registry returns the event registry the ledger resolves types with.
func (l *Ledger) Registry() *EventRegistry {
	return l.registry
}

// Serializer returns the configured payload serializer.
func (l *Ledger) Serializer() Serializer {
	return l.serializer
}

func (l *Ledger) publish(ctx context.Context, events []Event) {
	if l.publisher == nil {
		return
	}

	envelopes := make([]*Envelope, len(events))
	for i, event := range events {
		envelopes[i] = &Envelope{
			EventID:        event.ID,
			AccountID:      event.AccountID,
			Type:           event.Type,
			Payload:        event.Payload,
			EventNumber:    event.EventNumber,
			GlobalPosition: event.GlobalPosition,
			Timestamp:      event.Timestamp,
		}
	}

	if err := l.publisher.Publish(ctx, envelopes); err != nil {
		l.logger.Error("publish failed",
			"destination", l.publisher.Destination(),
			"count", len(envelopes),
			"error", err)
	}
}

func (l *Ledger) decode(stored []adapters.StoredEvent) ([]Event, error) {
	events := make([]Event, len(stored))
	for i, record := range stored {
		payload, err := l.serializer.Deserialize(record.Data, record.Type)
		if err != nil {
			return nil, err
		}
		events[i] = Event{
			ID:             record.ID,
			AccountID:      record.AccountID,
			Type:           record.Type,
			Payload:        payload,
			EventNumber:    record.EventNumber,
			GlobalPosition: record.GlobalPosition,
			Timestamp:      record.Timestamp,
		}
	}
	return events, nil
}
