package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ledgerkit "github.com/ledgerkit/ledgerkit"
)

// Ensure ReadModelStore implements the read model interfaces.
var _ ledgerkit.ReadModelStore = (*ReadModelStore)(nil)

// ReadModelStore is a PostgreSQL implementation of the account summary and
// transaction history read models. All writes are idempotent: inserts use
// ON CONFLICT DO NOTHING so re-projecting an event changes nothing.
type ReadModelStore struct {
	db     *sql.DB
	schema string
}

// ReadModelOption configures a ReadModelStore.
type ReadModelOption func(*ReadModelStore)

// WithReadModelSchema sets the database schema name.
func WithReadModelSchema(schema string) ReadModelOption {
	return func(s *ReadModelStore) {
		s.schema = schema
	}
}

// NewReadModelStore creates a read model store on an existing database
// connection.
func NewReadModelStore(db *sql.DB, opts ...ReadModelOption) *ReadModelStore {
	store := &ReadModelStore{
		db:     db,
		schema: "ledgerkit",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Migrate creates the read model tables.
func (s *ReadModelStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema))
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to create schema: %w", err)
	}

	summariesSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.account_summaries (
			account_id VARCHAR(500) PRIMARY KEY,
			owner_name VARCHAR(500) NOT NULL,
			balance    BIGINT NOT NULL,
			currency   VARCHAR(3) NOT NULL,
			status     VARCHAR(20) NOT NULL,
			version    BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.schema)

	_, err = s.db.ExecContext(ctx, summariesSQL)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to create account_summaries table: %w", err)
	}

	historySQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.transaction_history (
			transaction_id VARCHAR(500) PRIMARY KEY,
			event_id       UUID NOT NULL,
			account_id     VARCHAR(500) NOT NULL,
			kind           VARCHAR(20) NOT NULL,
			amount         BIGINT NOT NULL,
			description    TEXT,
			timestamp      TIMESTAMPTZ NOT NULL
		)`, s.schema)

	_, err = s.db.ExecContext(ctx, historySQL)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to create transaction_history table: %w", err)
	}

	indexSQL := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_history_account
		ON %s.transaction_history(account_id, timestamp DESC)`, s.schema)

	_, err = s.db.ExecContext(ctx, indexSQL)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to create index: %w", err)
	}

	return nil
}

// InsertSummary creates a summary row if one does not already exist.
func (s *ReadModelStore) InsertSummary(ctx context.Context, summary ledgerkit.AccountSummary) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.account_summaries (account_id, owner_name, balance, currency, status, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO NOTHING`, s.schema),
		summary.AccountID, summary.OwnerName, summary.Balance,
		summary.Currency, string(summary.Status), summary.Version, summary.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to insert summary: %w", err)
	}
	return nil
}

// AdjustBalance adds delta to an account's balance.
func (s *ReadModelStore) AdjustBalance(ctx context.Context, accountID string, delta, version int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.account_summaries
		SET balance = balance + $2, version = $3, updated_at = $4
		WHERE account_id = $1`, s.schema),
		accountID, delta, version, at)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to adjust balance: %w", err)
	}
	return nil
}

// SetStatus updates an account's status.
func (s *ReadModelStore) SetStatus(ctx context.Context, accountID string, status ledgerkit.AccountStatus, version int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.account_summaries
		SET status = $2, version = $3, updated_at = $4
		WHERE account_id = $1`, s.schema),
		accountID, string(status), version, at)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to set status: %w", err)
	}
	return nil
}

// GetSummary returns an account's summary.
func (s *ReadModelStore) GetSummary(ctx context.Context, accountID string) (*ledgerkit.AccountSummary, error) {
	var summary ledgerkit.AccountSummary
	var status string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT account_id, owner_name, balance, currency, status, version, updated_at
		FROM %s.account_summaries
		WHERE account_id = $1`, s.schema), accountID).
		Scan(&summary.AccountID, &summary.OwnerName, &summary.Balance,
			&summary.Currency, &status, &summary.Version, &summary.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ledgerkit.NewAccountNotFoundError(accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to get summary: %w", err)
	}
	summary.Status = ledgerkit.AccountStatus(status)
	return &summary, nil
}

// ListSummaries returns all summaries ordered by account ID.
func (s *ReadModelStore) ListSummaries(ctx context.Context) ([]ledgerkit.AccountSummary, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT account_id, owner_name, balance, currency, status, version, updated_at
		FROM %s.account_summaries
		ORDER BY account_id`, s.schema))
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to list summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]ledgerkit.AccountSummary, 0)
	for rows.Next() {
		var summary ledgerkit.AccountSummary
		var status string
		if err := rows.Scan(&summary.AccountID, &summary.OwnerName, &summary.Balance,
			&summary.Currency, &status, &summary.Version, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ledgerkit/postgres: failed to scan summary: %w", err)
		}
		summary.Status = ledgerkit.AccountStatus(status)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// ClearSummaries removes all summary rows.
func (s *ReadModelStore) ClearSummaries(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s.account_summaries`, s.schema))
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to clear summaries: %w", err)
	}
	return nil
}

// InsertTransaction records a transaction entry keyed by transaction ID.
// Duplicate transaction IDs are a no-op.
func (s *ReadModelStore) InsertTransaction(ctx context.Context, entry ledgerkit.TransactionEntry) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.transaction_history (transaction_id, event_id, account_id, kind, amount, description, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING`, s.schema),
		entry.TransactionID, entry.EventID, entry.AccountID, entry.Kind,
		entry.Amount, entry.Description, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to insert transaction: %w", err)
	}
	return nil
}

// ListTransactions returns an account's entries newest first, with
// offset/limit pagination.
func (s *ReadModelStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]ledgerkit.TransactionEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT transaction_id, event_id, account_id, kind, amount, description, timestamp
		FROM %s.transaction_history
		WHERE account_id = $1
		ORDER BY timestamp DESC, event_id
		LIMIT $2 OFFSET $3`, s.schema), accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to list transactions: %w", err)
	}
	defer rows.Close()

	entries := make([]ledgerkit.TransactionEntry, 0)
	for rows.Next() {
		var entry ledgerkit.TransactionEntry
		var description sql.NullString
		if err := rows.Scan(&entry.TransactionID, &entry.EventID, &entry.AccountID, &entry.Kind,
			&entry.Amount, &description, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("ledgerkit/postgres: failed to scan transaction: %w", err)
		}
		entry.Description = description.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountTransactions returns the number of entries for an account.
func (s *ReadModelStore) CountTransactions(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s.transaction_history
		WHERE account_id = $1`, s.schema), accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledgerkit/postgres: failed to count transactions: %w", err)
	}
	return count, nil
}

// ClearTransactions removes all transaction entries.
func (s *ReadModelStore) ClearTransactions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s.transaction_history`, s.schema))
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to clear transactions: %w", err)
	}
	return nil
}
