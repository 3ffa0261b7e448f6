package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	ledgerkit "github.com/ledgerkit/ledgerkit"
)

// Ensure ReadModelStore implements the read model interfaces.
var _ ledgerkit.ReadModelStore = (*ReadModelStore)(nil)

// ReadModelStore is an in-memory implementation of the account summary and
// transaction history read models. It is thread-safe and intended for
// testing and development.
type ReadModelStore struct {
	mu           sync.RWMutex
	summaries    map[string]ledgerkit.AccountSummary
	transactions map[string]ledgerkit.TransactionEntry
}

// NewReadModelStore creates an empty in-memory read model store.
func NewReadModelStore() *ReadModelStore {
	return &ReadModelStore{
		summaries:    make(map[string]ledgerkit.AccountSummary),
		transactions: make(map[string]ledgerkit.TransactionEntry),
	}
}

// InsertSummary creates a summary row if one does not already exist.
func (s *ReadModelStore) InsertSummary(ctx context.Context, summary ledgerkit.AccountSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.summaries[summary.AccountID]; exists {
		return nil
	}
	s.summaries[summary.AccountID] = summary
	return nil
}

// AdjustBalance adds delta to an account's balance.
func (s *ReadModelStore) AdjustBalance(ctx context.Context, accountID string, delta, version int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	summary, exists := s.summaries[accountID]
	if !exists {
		return nil
	}
	summary.Balance += delta
	summary.Version = version
	summary.UpdatedAt = at
	s.summaries[accountID] = summary
	return nil
}

// SetStatus updates an account's status.
func (s *ReadModelStore) SetStatus(ctx context.Context, accountID string, status ledgerkit.AccountStatus, version int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	summary, exists := s.summaries[accountID]
	if !exists {
		return nil
	}
	summary.Status = status
	summary.Version = version
	summary.UpdatedAt = at
	s.summaries[accountID] = summary
	return nil
}

// GetSummary returns an account's summary.
func (s *ReadModelStore) GetSummary(ctx context.Context, accountID string) (*ledgerkit.AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, exists := s.summaries[accountID]
	if !exists {
		return nil, ledgerkit.NewAccountNotFoundError(accountID)
	}
	copied := summary
	return &copied, nil
}

// ListSummaries returns all summaries ordered by account ID.
func (s *ReadModelStore) ListSummaries(ctx context.Context) ([]ledgerkit.AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledgerkit.AccountSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		result = append(result, summary)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AccountID < result[j].AccountID
	})
	return result, nil
}

// ClearSummaries removes all summary rows.
func (s *ReadModelStore) ClearSummaries(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries = make(map[string]ledgerkit.AccountSummary)
	return nil
}

// InsertTransaction records a transaction entry keyed by transaction ID.
// Duplicate transaction IDs are a no-op.
func (s *ReadModelStore) InsertTransaction(ctx context.Context, entry ledgerkit.TransactionEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[entry.TransactionID]; exists {
		return nil
	}
	s.transactions[entry.TransactionID] = entry
	return nil
}

// ListTransactions returns an account's entries newest first, with
// offset/limit pagination.
func (s *ReadModelStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]ledgerkit.TransactionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]ledgerkit.TransactionEntry, 0)
	for _, entry := range s.transactions {
		if entry.AccountID == accountID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].EventID > entries[j].EventID
		}
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if offset >= len(entries) {
		return []ledgerkit.TransactionEntry{}, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// CountTransactions returns the number of entries for an account.
func (s *ReadModelStore) CountTransactions(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, entry := range s.transactions {
		if entry.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

// ClearTransactions removes all transaction entries.
func (s *ReadModelStore) ClearTransactions(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = make(map[string]ledgerkit.TransactionEntry)
	return nil
}
