package ledgerkit

import (
	"context"
	"time"
)

// Names of the built-in projections.
const (
	ProjectionAccountSummaries   = "AccountSummaries"
	ProjectionTransactionHistory = "TransactionHistory"
)

// AccountSummary is the per-account read model row maintained by the
// AccountSummaries projection.
type AccountSummary struct {
	AccountID string        `json:"accountId"`
	OwnerName string        `json:"ownerName"`
	Balance   int64         `json:"balance"`
	Currency  string        `json:"currency"`
	Status    AccountStatus `json:"status"`
	// Version is the account event number of the last event folded into
	// this row.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TransactionEntry is one row of the TransactionHistory read model.
type TransactionEntry struct {
	// EventID is the log ID of the event this entry was projected from.
	EventID     string `json:"eventId"`
	AccountID   string `json:"accountId"`
	Kind        string `json:"kind"` // "deposit" or "withdrawal"
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	// TransactionID is the entry's identity for idempotent inserts: the
	// same transaction never yields two history rows, even when a
	// duplicate event slipped past command-level deduplication.
	TransactionID string    `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
}

// Transaction entry kinds.
const (
	TransactionKindDeposit    = "deposit"
	TransactionKindWithdrawal = "withdrawal"
)

// SummaryStore persists the AccountSummaries read model. All writes must
// be idempotent: re-projecting an already-applied event is a no-op.
type SummaryStore interface {
	// InsertSummary creates a summary row if one does not already exist
	// for the account.
	InsertSummary(ctx context.Context, summary AccountSummary) error

	// AdjustBalance adds delta (which may be negative) to an account's
	// balance and sets Version and UpdatedAt. Missing accounts are a
	// no-op.
	AdjustBalance(ctx context.Context, accountID string, delta, version int64, at time.Time) error

	// SetStatus updates an account's status and sets Version and
	// UpdatedAt. Missing accounts are a no-op.
	SetStatus(ctx context.Context, accountID string, status AccountStatus, version int64, at time.Time) error

	// GetSummary returns an account's summary, or ErrAccountNotFound.
	GetSummary(ctx context.Context, accountID string) (*AccountSummary, error)

	// ListSummaries returns all summaries ordered by account ID.
	ListSummaries(ctx context.Context) ([]AccountSummary, error)

	// ClearSummaries removes all summary rows.
	ClearSummaries(ctx context.Context) error
}

// HistoryStore persists the TransactionHistory read model. Inserts keyed
// by TransactionID must be idempotent.
type HistoryStore interface {
	// InsertTransaction records a transaction entry. Inserting an entry
	// whose TransactionID already exists is a no-op.
	InsertTransaction(ctx context.Context, entry TransactionEntry) error

	// ListTransactions returns an account's entries newest first, with
	// offset/limit pagination.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]TransactionEntry, error)

	// CountTransactions returns the number of entries for an account.
	CountTransactions(ctx context.Context, accountID string) (int64, error)

	// ClearTransactions removes all transaction entries.
	ClearTransactions(ctx context.Context) error
}

// ReadModelStore combines the stores for all built-in read models.
type ReadModelStore interface {
	SummaryStore
	HistoryStore
}
