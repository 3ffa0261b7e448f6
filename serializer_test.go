package ledgerkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRegistry_Register(t *testing.T) {
	t.Run("registers value and pointer examples identically", func(t *testing.T) {
		registry := NewEventRegistry()
		registry.Register("ByValue", AccountCreated{})
		registry.Register("ByPointer", &AccountCreated{})

		byValue, ok := registry.Lookup("ByValue")
		require.True(t, ok)
		byPointer, ok := registry.Lookup("ByPointer")
		require.True(t, ok)

		assert.Equal(t, byValue, byPointer)
	})

	t.Run("lookup of unknown type reports missing", func(t *testing.T) {
		registry := NewEventRegistry()

		_, ok := registry.Lookup("Nope")
		assert.False(t, ok)
	})

	t.Run("types lists all registered names", func(t *testing.T) {
		registry := NewEventRegistry()
		RegisterAccountEvents(registry)

		names := registry.Types()
		assert.Len(t, names, 4)
		assert.Contains(t, names, EventTypeAccountCreated)
		assert.Contains(t, names, EventTypeMoneyDeposited)
		assert.Contains(t, names, EventTypeMoneyWithdrawn)
		assert.Contains(t, names, EventTypeAccountClosed)
	})
}

func TestEventRegistry_GetEventType(t *testing.T) {
	t.Run("returns the registered name", func(t *testing.T) {
		registry := NewEventRegistry()
		registry.Register("account.created.v1", &AccountCreated{})

		assert.Equal(t, "account.created.v1", registry.GetEventType(&AccountCreated{}))
	})

	t.Run("falls back to the struct name when unregistered", func(t *testing.T) {
		registry := NewEventRegistry()

		assert.Equal(t, "MoneyDeposited", registry.GetEventType(&MoneyDeposited{}))
		assert.Equal(t, "MoneyDeposited", registry.GetEventType(MoneyDeposited{}))
	})
}

func TestJSONSerializer(t *testing.T) {
	registry := NewEventRegistry()
	RegisterAccountEvents(registry)
	serializer := NewJSONSerializer(registry)

	t.Run("round trips a registered event", func(t *testing.T) {
		original := &AccountCreated{OwnerName: "Alice", InitialBalance: 10000, Currency: "USD"}

		data, err := serializer.Serialize(original)
		require.NoError(t, err)

		decoded, err := serializer.Deserialize(data, EventTypeAccountCreated)
		require.NoError(t, err)

		created, ok := decoded.(*AccountCreated)
		require.True(t, ok, "expected *AccountCreated, got %T", decoded)
		assert.Equal(t, original, created)
	})

	t.Run("deserialize returns a pointer to the registered type", func(t *testing.T) {
		data, err := serializer.Serialize(&MoneyDeposited{Amount: 5000, TransactionID: "T1"})
		require.NoError(t, err)

		decoded, err := serializer.Deserialize(data, EventTypeMoneyDeposited)
		require.NoError(t, err)
		assert.IsType(t, &MoneyDeposited{}, decoded)
	})

	t.Run("unregistered event type fails", func(t *testing.T) {
		_, err := serializer.Deserialize([]byte(`{}`), "Unknown")

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEventTypeNotRegistered)

		var typeErr *EventTypeNotRegisteredError
		require.ErrorAs(t, err, &typeErr)
		assert.Equal(t, "Unknown", typeErr.EventType)
	})

	t.Run("invalid payload fails with serialization error", func(t *testing.T) {
		_, err := serializer.Deserialize([]byte(`{not json`), EventTypeAccountClosed)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})
}
