package ledgerkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotFromState(t *testing.T) {
	state := Replay(InitialState("A1"), []Event{
		foldEvent(1, &AccountCreated{OwnerName: "Alice", InitialBalance: 10000, Currency: "USD"}),
		foldEvent(2, &MoneyDeposited{Amount: 5000, TransactionID: "T1"}),
	})

	snapshot := SnapshotFromState(state)

	assert.Equal(t, "A1", snapshot.AccountID)
	assert.Equal(t, "Alice", snapshot.OwnerName)
	assert.Equal(t, int64(15000), snapshot.Balance)
	assert.Equal(t, "USD", snapshot.Currency)
	assert.Equal(t, StatusOpen, snapshot.Status)
	assert.Equal(t, int64(2), snapshot.LastEventNumber)
}

func TestSnapshot_State(t *testing.T) {
	t.Run("restores the captured fields", func(t *testing.T) {
		snapshot := Snapshot{
			AccountID:       "A1",
			OwnerName:       "Alice",
			Balance:         15000,
			Currency:        "USD",
			Status:          StatusOpen,
			LastEventNumber: 50,
		}

		state := snapshot.State()

		assert.Equal(t, "A1", state.AccountID)
		assert.Equal(t, int64(15000), state.Balance)
		assert.Equal(t, StatusOpen, state.Status)
		assert.Equal(t, int64(50), state.Version)
	})

	t.Run("processed transaction ids start empty", func(t *testing.T) {
		state := Snapshot{AccountID: "A1", Status: StatusOpen, LastEventNumber: 50}.State()

		require.NotNil(t, state.ProcessedTransactionIDs)
		assert.Empty(t, state.ProcessedTransactionIDs)
	})
}

func TestMarshalSnapshot(t *testing.T) {
	original := Snapshot{
		AccountID:       "A1",
		OwnerName:       "Alice",
		Balance:         15000,
		Currency:        "USD",
		Status:          StatusOpen,
		LastEventNumber: 50,
	}

	data, err := original.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	// Transaction dedupe state is deliberately absent from the payload.
	assert.NotContains(t, string(data), "processed")
}

func TestShouldSnapshot(t *testing.T) {
	t.Run("fires on positive multiples of the interval", func(t *testing.T) {
		assert.False(t, ShouldSnapshot(49, 0, 50))
		assert.True(t, ShouldSnapshot(50, 0, 50))
		assert.False(t, ShouldSnapshot(51, 0, 50))
		assert.True(t, ShouldSnapshot(100, 50, 50))
	})

	t.Run("never re-snapshots the same version", func(t *testing.T) {
		assert.False(t, ShouldSnapshot(50, 50, 50))
	})

	t.Run("a batch jumping over a multiple waits for the next one", func(t *testing.T) {
		assert.False(t, ShouldSnapshot(53, 0, 50))
		assert.True(t, ShouldSnapshot(100, 0, 50))
	})

	t.Run("disabled for non-positive intervals", func(t *testing.T) {
		assert.False(t, ShouldSnapshot(1000, 0, 0))
		assert.False(t, ShouldSnapshot(1000, 0, -1))
	})
}
