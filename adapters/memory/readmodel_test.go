package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerkit "github.com/ledgerkit/ledgerkit"
)

func summary(accountID, owner string, balance int64) ledgerkit.AccountSummary {
	return ledgerkit.AccountSummary{
		AccountID: accountID,
		OwnerName: owner,
		Balance:   balance,
		Currency:  "USD",
		Status:    ledgerkit.StatusOpen,
		Version:   1,
		UpdatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestReadModelStore_Summaries(t *testing.T) {
	ctx := context.Background()

	t.Run("insert then get", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertSummary(ctx, summary("A1", "Alice", 100)))

		got, err := store.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.OwnerName)
		assert.Equal(t, int64(100), got.Balance)
	})

	t.Run("insert is idempotent", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertSummary(ctx, summary("A1", "Alice", 100)))
		require.NoError(t, store.InsertSummary(ctx, summary("A1", "Impostor", 999)))

		got, err := store.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.OwnerName)
		assert.Equal(t, int64(100), got.Balance)
	})

	t.Run("missing account is not found", func(t *testing.T) {
		store := NewReadModelStore()

		_, err := store.GetSummary(ctx, "missing")
		assert.ErrorIs(t, err, ledgerkit.ErrAccountNotFound)
	})

	t.Run("adjust balance moves it both ways", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertSummary(ctx, summary("A1", "Alice", 100)))
		at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

		require.NoError(t, store.AdjustBalance(ctx, "A1", 50, 2, at))
		require.NoError(t, store.AdjustBalance(ctx, "A1", -30, 3, at))

		got, err := store.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(120), got.Balance)
		assert.Equal(t, int64(3), got.Version)
		assert.Equal(t, at, got.UpdatedAt)
	})

	t.Run("adjusting a missing account is a no-op", func(t *testing.T) {
		store := NewReadModelStore()

		assert.NoError(t, store.AdjustBalance(ctx, "missing", 50, 2, time.Now()))
		assert.NoError(t, store.SetStatus(ctx, "missing", ledgerkit.StatusClosed, 2, time.Now()))
	})

	t.Run("set status", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertSummary(ctx, summary("A1", "Alice", 0)))

		require.NoError(t, store.SetStatus(ctx, "A1", ledgerkit.StatusClosed, 2, time.Now()))

		got, err := store.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, ledgerkit.StatusClosed, got.Status)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("list orders by account id", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertSummary(ctx, summary("B2", "Bob", 200)))
		require.NoError(t, store.InsertSummary(ctx, summary("A1", "Alice", 100)))
		require.NoError(t, store.InsertSummary(ctx, summary("C3", "Carol", 300)))

		all, err := store.ListSummaries(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "A1", all[0].AccountID)
		assert.Equal(t, "B2", all[1].AccountID)
		assert.Equal(t, "C3", all[2].AccountID)
	})

	t.Run("clear removes everything", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertSummary(ctx, summary("A1", "Alice", 100)))

		require.NoError(t, store.ClearSummaries(ctx))

		all, err := store.ListSummaries(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestReadModelStore_Transactions(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	entry := func(eventID string, minutes int) ledgerkit.TransactionEntry {
		return ledgerkit.TransactionEntry{
			EventID:       eventID,
			AccountID:     "A1",
			Kind:          ledgerkit.TransactionKindDeposit,
			Amount:        100,
			TransactionID: "tx-" + eventID,
			Timestamp:     base.Add(time.Duration(minutes) * time.Minute),
		}
	}

	t.Run("insert is idempotent by transaction id", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertTransaction(ctx, entry("e1", 0)))

		// Same transaction projected from a different event, as happens
		// when a duplicate slips past command deduplication.
		duplicate := entry("e2", 1)
		duplicate.TransactionID = "tx-e1"
		require.NoError(t, store.InsertTransaction(ctx, duplicate))

		count, err := store.CountTransactions(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		entries, err := store.ListTransactions(ctx, "A1", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e1", entries[0].EventID, "the first insert wins")
	})

	t.Run("list is newest first", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertTransaction(ctx, entry("e1", 0)))
		require.NoError(t, store.InsertTransaction(ctx, entry("e2", 10)))
		require.NoError(t, store.InsertTransaction(ctx, entry("e3", 5)))

		entries, err := store.ListTransactions(ctx, "A1", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "e2", entries[0].EventID)
		assert.Equal(t, "e3", entries[1].EventID)
		assert.Equal(t, "e1", entries[2].EventID)
	})

	t.Run("pagination", func(t *testing.T) {
		store := NewReadModelStore()
		for i := 0; i < 5; i++ {
			require.NoError(t, store.InsertTransaction(ctx, entry(fmt.Sprintf("e%d", i), i)))
		}

		page, err := store.ListTransactions(ctx, "A1", 2, 0)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "e4", page[0].EventID)

		page, err = store.ListTransactions(ctx, "A1", 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "e2", page[0].EventID)

		page, err = store.ListTransactions(ctx, "A1", 2, 10)
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("entries are scoped to the account", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertTransaction(ctx, entry("e1", 0)))
		other := entry("e2", 0)
		other.AccountID = "A2"
		require.NoError(t, store.InsertTransaction(ctx, other))

		count, err := store.CountTransactions(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		entries, err := store.ListTransactions(ctx, "A2", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e2", entries[0].EventID)
	})

	t.Run("clear removes everything", func(t *testing.T) {
		store := NewReadModelStore()
		require.NoError(t, store.InsertTransaction(ctx, entry("e1", 0)))

		require.NoError(t, store.ClearTransactions(ctx))

		count, err := store.CountTransactions(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}
