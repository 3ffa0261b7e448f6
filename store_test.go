package ledgerkit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/adapters"
	"github.com/ledgerkit/ledgerkit/adapters/memory"
)

// conflictingLog wraps an event log adapter and fails the first N appends
// with a sequence conflict.
type conflictingLog struct {
	adapters.EventLogAdapter
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingLog) Append(ctx context.Context, accountID string, firstEventNumber int64, events []adapters.EventRecord) ([]adapters.StoredEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conflicts > 0 {
		c.conflicts--
		return nil, &adapters.SequenceConflictError{AccountID: accountID, EventNumber: firstEventNumber}
	}
	return c.EventLogAdapter.Append(ctx, accountID, firstEventNumber, events)
}

// capturePublisher records every envelope it receives.
type capturePublisher struct {
	mu        sync.Mutex
	envelopes []*ledgerkit.Envelope
}

func (p *capturePublisher) Destination() string { return "capture" }

func (p *capturePublisher) Publish(ctx context.Context, envelopes []*ledgerkit.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, envelopes...)
	return nil
}

func (p *capturePublisher) received() []*ledgerkit.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*ledgerkit.Envelope(nil), p.envelopes...)
}

// stubProjector records projected events and can be primed to fail.
type stubProjector struct {
	err    error
	events []ledgerkit.Event
}

func (p *stubProjector) ProjectEvents(ctx context.Context, events []ledgerkit.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func TestNew(t *testing.T) {
	t.Run("registers account events by default", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		require.NotNil(t, ledger.Registry())
		_, ok := ledger.Registry().Lookup(ledgerkit.EventTypeAccountCreated)
		assert.True(t, ok)
		assert.IsType(t, &ledgerkit.JSONSerializer{}, ledger.Serializer())
	})

	t.Run("honors a custom registry", func(t *testing.T) {
		registry := ledgerkit.NewEventRegistry()
		registry.Register("Custom", &ledgerkit.AccountCreated{})

		ledger := ledgerkit.New(memory.NewAdapter(), ledgerkit.WithRegistry(registry))

		assert.Same(t, registry, ledger.Registry())
		_, ok := ledger.Registry().Lookup(ledgerkit.EventTypeMoneyDeposited)
		assert.False(t, ok)
	})
}

func TestLedger_AppendEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("appends events after the expected version", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		events, err := ledger.AppendEvent(ctx, "A1", 0,
			&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 10000, Currency: "USD"},
			&ledgerkit.MoneyDeposited{Amount: 5000, TransactionID: "T1"},
		)

		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(1), events[0].EventNumber)
		assert.Equal(t, int64(2), events[1].EventNumber)
		assert.Equal(t, ledgerkit.EventTypeAccountCreated, events[0].Type)
		assert.IsType(t, &ledgerkit.MoneyDeposited{}, events[1].Payload)
	})

	t.Run("stale expected version fails with a sequence conflict", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		_, err := ledger.AppendEvent(ctx, "A1", 0, &ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"})
		require.NoError(t, err)

		_, err = ledger.AppendEvent(ctx, "A1", 0, &ledgerkit.MoneyDeposited{Amount: 100, TransactionID: "T1"})

		require.Error(t, err)
		assert.ErrorIs(t, err, ledgerkit.ErrSequenceConflict)

		var conflict *ledgerkit.SequenceConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "A1", conflict.AccountID)
		assert.Equal(t, int64(1), conflict.EventNumber)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		_, err := ledger.AppendEvent(ctx, "", 0, &ledgerkit.AccountClosed{})
		assert.ErrorIs(t, err, ledgerkit.ErrEmptyAccountID)

		_, err = ledger.AppendEvent(ctx, "A1", 0)
		assert.ErrorIs(t, err, adapters.ErrNoEvents)

		_, err = ledger.AppendEvent(ctx, "A1", -1, &ledgerkit.AccountClosed{})
		assert.ErrorIs(t, err, adapters.ErrInvalidEventNumber)
	})

	t.Run("publishes stored events", func(t *testing.T) {
		publisher := &capturePublisher{}
		ledger := ledgerkit.New(memory.NewAdapter(), ledgerkit.WithPublisher(publisher))

		_, err := ledger.AppendEvent(ctx, "A1", 0,
			&ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"},
			&ledgerkit.MoneyDeposited{Amount: 100, TransactionID: "T1"},
		)
		require.NoError(t, err)

		envelopes := publisher.received()
		require.Len(t, envelopes, 2)
		assert.Equal(t, "A1", envelopes[0].AccountID)
		assert.Equal(t, int64(2), envelopes[1].EventNumber)
	})

	t.Run("projects stored events before returning", func(t *testing.T) {
		projector := &stubProjector{}
		ledger := ledgerkit.New(memory.NewAdapter(), ledgerkit.WithProjector(projector))

		_, err := ledger.AppendEvent(ctx, "A1", 0,
			&ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"},
			&ledgerkit.MoneyDeposited{Amount: 100, TransactionID: "T1"},
		)
		require.NoError(t, err)

		require.Len(t, projector.events, 2)
		assert.Equal(t, int64(2), projector.events[1].EventNumber)
	})

	t.Run("projection failures are returned, not swallowed", func(t *testing.T) {
		projector := &stubProjector{err: errors.New("read model store down")}
		ledger := ledgerkit.New(memory.NewAdapter(), ledgerkit.WithProjector(projector))

		_, err := ledger.AppendEvent(ctx, "A1", 0, &ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read model store down")

		// The event is durably appended regardless.
		total, err := ledger.TotalEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})
}

func TestLedger_LoadAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown account is not found", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		_, err := ledger.LoadAccount(ctx, "missing")

		require.Error(t, err)
		assert.ErrorIs(t, err, ledgerkit.ErrAccountNotFound)

		var notFound *ledgerkit.AccountNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "missing", notFound.AccountID)
	})

	t.Run("replays the full stream", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		_, err := ledger.AppendEvent(ctx, "A1", 0,
			&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 10000, Currency: "USD"},
			&ledgerkit.MoneyDeposited{Amount: 5000, TransactionID: "T1"},
		)
		require.NoError(t, err)

		state, err := ledger.LoadAccount(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(15000), state.Balance)
		assert.Equal(t, int64(2), state.Version)
		assert.True(t, state.HasProcessed("T1"))
	})

	t.Run("resumes from a snapshot", func(t *testing.T) {
		adapter := memory.NewAdapter()
		ledger := ledgerkit.New(adapter, ledgerkit.WithSnapshots(adapter), ledgerkit.WithSnapshotInterval(2))

		state, err := ledger.Execute(ctx, "A1", func(ledgerkit.AccountState) ([]interface{}, error) {
			return []interface{}{
				&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 10000, Currency: "USD"},
				&ledgerkit.MoneyDeposited{Amount: 5000, TransactionID: "T1"},
			}, nil
		})
		require.NoError(t, err)
		require.Equal(t, int64(2), state.Version)

		record, err := adapter.LoadSnapshot(ctx, "A1")
		require.NoError(t, err)
		require.NotNil(t, record, "expected a snapshot at the interval")
		require.Equal(t, int64(2), record.LastEventNumber)

		_, err = ledger.AppendEvent(ctx, "A1", 2, &ledgerkit.MoneyWithdrawn{Amount: 3000, TransactionID: "T2"})
		require.NoError(t, err)

		loaded, err := ledger.LoadAccount(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(12000), loaded.Balance)
		assert.Equal(t, int64(3), loaded.Version)

		// The snapshot drops the processed set, so only post-snapshot
		// transactions are remembered.
		assert.False(t, loaded.HasProcessed("T1"))
		assert.True(t, loaded.HasProcessed("T2"))
	})

	t.Run("snapshot ahead of an empty log is returned as current", func(t *testing.T) {
		adapter := memory.NewAdapter()
		ledger := ledgerkit.New(adapter, ledgerkit.WithSnapshots(adapter))

		snapshot := ledgerkit.Snapshot{
			AccountID:       "A1",
			OwnerName:       "Alice",
			Balance:         500,
			Currency:        "USD",
			Status:          ledgerkit.StatusOpen,
			LastEventNumber: 50,
		}
		data, err := snapshot.Marshal()
		require.NoError(t, err)
		require.NoError(t, adapter.SaveSnapshot(ctx, adapters.SnapshotRecord{
			AccountID:       "A1",
			Data:            data,
			LastEventNumber: 50,
			CreatedAt:       time.Now().UTC(),
		}))

		state, err := ledger.LoadAccount(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(500), state.Balance)
		assert.Equal(t, int64(50), state.Version)
	})
}

func TestLedger_LoadAccountDetail(t *testing.T) {
	ctx := context.Background()

	t.Run("without a snapshot the whole stream is the tail", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		_, err := ledger.AppendEvent(ctx, "A1", 0,
			&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 100, Currency: "USD"},
			&ledgerkit.MoneyDeposited{Amount: 50, TransactionID: "T1"},
		)
		require.NoError(t, err)

		result, err := ledger.LoadAccountDetail(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(150), result.State.Balance)
		assert.Equal(t, int64(0), result.SnapshotVersion)
		assert.Equal(t, 2, result.TailEvents)
	})

	t.Run("reports the snapshot baseline and tail length", func(t *testing.T) {
		adapter := memory.NewAdapter()
		ledger := ledgerkit.New(adapter, ledgerkit.WithSnapshots(adapter), ledgerkit.WithSnapshotInterval(2))

		_, err := ledger.Execute(ctx, "A1", func(ledgerkit.AccountState) ([]interface{}, error) {
			return []interface{}{
				&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 100, Currency: "USD"},
				&ledgerkit.MoneyDeposited{Amount: 50, TransactionID: "T1"},
			}, nil
		})
		require.NoError(t, err)

		_, err = ledger.AppendEvent(ctx, "A1", 2, &ledgerkit.MoneyDeposited{Amount: 25, TransactionID: "T2"})
		require.NoError(t, err)

		result, err := ledger.LoadAccountDetail(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(175), result.State.Balance)
		assert.Equal(t, int64(2), result.SnapshotVersion)
		assert.Equal(t, 1, result.TailEvents)
	})
}

func TestLedger_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("appends the decided payloads", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		state, err := ledger.Execute(ctx, "A1", func(current ledgerkit.AccountState) ([]interface{}, error) {
			require.Equal(t, ledgerkit.StatusNone, current.Status)
			return []interface{}{&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 100, Currency: "USD"}}, nil
		})

		require.NoError(t, err)
		assert.Equal(t, ledgerkit.StatusOpen, state.Status)
		assert.Equal(t, int64(1), state.Version)
	})

	t.Run("no payloads is a no-op", func(t *testing.T) {
		adapter := memory.NewAdapter()
		ledger := ledgerkit.New(adapter)

		_, err := ledger.AppendEvent(ctx, "A1", 0, &ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"})
		require.NoError(t, err)

		state, err := ledger.Execute(ctx, "A1", func(ledgerkit.AccountState) ([]interface{}, error) {
			return nil, nil
		})

		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Version)
		assert.Equal(t, 1, adapter.EventCount())
	})

	t.Run("decide errors abort without retrying", func(t *testing.T) {
		calls := 0
		ledger := ledgerkit.New(memory.NewAdapter())

		_, err := ledger.Execute(ctx, "A1", func(ledgerkit.AccountState) ([]interface{}, error) {
			calls++
			return nil, ledgerkit.ErrInsufficientFunds
		})

		assert.ErrorIs(t, err, ledgerkit.ErrInsufficientFunds)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries after a sequence conflict", func(t *testing.T) {
		log := &conflictingLog{EventLogAdapter: memory.NewAdapter(), conflicts: 2}
		ledger := ledgerkit.New(log, ledgerkit.WithRetryAttempts(3))

		state, err := ledger.Execute(ctx, "A1", func(ledgerkit.AccountState) ([]interface{}, error) {
			return []interface{}{&ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"}}, nil
		})

		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Version)
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		log := &conflictingLog{EventLogAdapter: memory.NewAdapter(), conflicts: 10}
		ledger := ledgerkit.New(log, ledgerkit.WithRetryAttempts(2))

		_, err := ledger.Execute(ctx, "A1", func(ledgerkit.AccountState) ([]interface{}, error) {
			return []interface{}{&ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"}}, nil
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ledgerkit.ErrRetriesExhausted)
		assert.ErrorIs(t, err, ledgerkit.ErrSequenceConflict)
	})
}

func TestLedger_MaybeSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("below the interval nothing is saved", func(t *testing.T) {
		adapter := memory.NewAdapter()
		ledger := ledgerkit.New(adapter, ledgerkit.WithSnapshots(adapter), ledgerkit.WithSnapshotInterval(50))

		_, err := ledger.AppendEvent(ctx, "A1", 0, &ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"})
		require.NoError(t, err)
		state, err := ledger.LoadAccount(ctx, "A1")
		require.NoError(t, err)

		require.NoError(t, ledger.MaybeSnapshot(ctx, state))

		record, err := adapter.LoadSnapshot(ctx, "A1")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("saves once the interval elapses", func(t *testing.T) {
		adapter := memory.NewAdapter()
		ledger := ledgerkit.New(adapter, ledgerkit.WithSnapshots(adapter), ledgerkit.WithSnapshotInterval(2))

		_, err := ledger.AppendEvent(ctx, "A1", 0,
			&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 100, Currency: "USD"},
			&ledgerkit.MoneyDeposited{Amount: 50, TransactionID: "T1"},
		)
		require.NoError(t, err)
		state, err := ledger.LoadAccount(ctx, "A1")
		require.NoError(t, err)

		require.NoError(t, ledger.MaybeSnapshot(ctx, state))

		record, err := adapter.LoadSnapshot(ctx, "A1")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, int64(2), record.LastEventNumber)

		snapshot, err := ledgerkit.UnmarshalSnapshot(record.Data)
		require.NoError(t, err)
		assert.Equal(t, int64(150), snapshot.Balance)
	})

	t.Run("no-op when snapshots are disabled", func(t *testing.T) {
		ledger := ledgerkit.New(memory.NewAdapter())

		state := ledgerkit.InitialState("A1")
		state.Version = 1000

		assert.NoError(t, ledger.MaybeSnapshot(ctx, state))
	})
}

func TestLedger_StateAt(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	adapter := memory.NewAdapter(memory.WithClock(clock))
	ledger := ledgerkit.New(adapter, ledgerkit.WithSnapshots(adapter), ledgerkit.WithSnapshotInterval(1))

	_, err := ledger.AppendEvent(ctx, "A1", 0, &ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 10000, Currency: "USD"})
	require.NoError(t, err)
	dayOne := now

	now = now.Add(24 * time.Hour)
	_, err = ledger.AppendEvent(ctx, "A1", 1, &ledgerkit.MoneyDeposited{Amount: 5000, TransactionID: "T1"})
	require.NoError(t, err)
	dayTwo := now

	now = now.Add(24 * time.Hour)
	_, err = ledger.AppendEvent(ctx, "A1", 2, &ledgerkit.MoneyWithdrawn{Amount: 15000, TransactionID: "T2"})
	require.NoError(t, err)

	t.Run("folds only events at or before the instant", func(t *testing.T) {
		state, err := ledger.StateAt(ctx, "A1", dayOne)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), state.Balance)
		assert.Equal(t, int64(1), state.Version)

		state, err = ledger.StateAt(ctx, "A1", dayTwo)
		require.NoError(t, err)
		assert.Equal(t, int64(15000), state.Balance)
		assert.Equal(t, int64(2), state.Version)
	})

	t.Run("an instant before the first event yields the initial state", func(t *testing.T) {
		state, err := ledger.StateAt(ctx, "A1", dayOne.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, ledgerkit.StatusNone, state.Status)
		assert.Equal(t, int64(0), state.Version)
	})

	t.Run("unknown account is not found", func(t *testing.T) {
		_, err := ledger.StateAt(ctx, "missing", dayOne)
		assert.ErrorIs(t, err, ledgerkit.ErrAccountNotFound)
	})
}

func TestLedger_History(t *testing.T) {
	ctx := context.Background()
	ledger := ledgerkit.New(memory.NewAdapter())

	_, err := ledger.AppendEvent(ctx, "A1", 0,
		&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 100, Currency: "USD"},
		&ledgerkit.MoneyDeposited{Amount: 50, TransactionID: "T1"},
	)
	require.NoError(t, err)

	t.Run("returns the stream in order", func(t *testing.T) {
		events, err := ledger.History(ctx, "A1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, ledgerkit.EventTypeAccountCreated, events[0].Type)
		assert.Equal(t, ledgerkit.EventTypeMoneyDeposited, events[1].Type)
	})

	t.Run("unknown account is not found", func(t *testing.T) {
		_, err := ledger.History(ctx, "missing")
		assert.ErrorIs(t, err, ledgerkit.ErrAccountNotFound)
	})
}

func TestLedger_TotalEvents(t *testing.T) {
	ctx := context.Background()
	ledger := ledgerkit.New(memory.NewAdapter())

	total, err := ledger.TotalEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	_, err = ledger.AppendEvent(ctx, "A1", 0, &ledgerkit.AccountCreated{OwnerName: "Alice", Currency: "USD"})
	require.NoError(t, err)

	total, err = ledger.TotalEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
