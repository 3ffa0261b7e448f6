package ledgerkit

import (
	"time"
)

// Event type names as stored in the log.
const (
	EventTypeAccountCreated = "AccountCreated"
	EventTypeMoneyDeposited = "MoneyDeposited"
	EventTypeMoneyWithdrawn = "MoneyWithdrawn"
	EventTypeAccountClosed  = "AccountClosed"
)

// AccountCreated is recorded when a new account is opened.
type AccountCreated struct {
	OwnerName      string `json:"ownerName"`
	InitialBalance int64  `json:"initialBalance"`
	Currency       string `json:"currency"`
}

// MoneyDeposited is recorded when funds are added to an account.
type MoneyDeposited struct {
	Amount        int64  `json:"amount"`
	Description   string `json:"description,omitempty"`
	TransactionID string `json:"transactionId"`
}

// MoneyWithdrawn is recorded when funds are removed from an account.
type MoneyWithdrawn struct {
	Amount        int64  `json:"amount"`
	Description   string `json:"description,omitempty"`
	TransactionID string `json:"transactionId"`
}

// AccountClosed is recorded when an account is closed.
type AccountClosed struct {
	Reason string `json:"reason,omitempty"`
}

// Event is a deserialized event from the log: the stored envelope plus the
// decoded payload.
type Event struct {
	// ID is the unique identifier assigned by the storage adapter.
	ID string

	// AccountID identifies the account the event belongs to.
	AccountID string

	// Type identifies the event type.
	Type string

	// Payload is the decoded event payload (e.g. *AccountCreated).
	Payload interface{}

	// EventNumber is the position within the account's stream, starting
	// at 1.
	EventNumber int64

	// GlobalPosition is the position within the whole log.
	GlobalPosition int64

	// Timestamp is when the event was appended.
	Timestamp time.Time
}

// RegisterAccountEvents registers the ledger's event types with a registry.
// Call this once before loading or appending account events.
func RegisterAccountEvents(registry *EventRegistry) {
	registry.Register(EventTypeAccountCreated, AccountCreated{})
	registry.Register(EventTypeMoneyDeposited, MoneyDeposited{})
	registry.Register(EventTypeMoneyWithdrawn, MoneyWithdrawn{})
	registry.Register(EventTypeAccountClosed, AccountClosed{})
}
