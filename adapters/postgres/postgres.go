// Package postgres provides a PostgreSQL implementation of the ledger
// storage adapters.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ledgerkit/ledgerkit/adapters"
)

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed      = adapters.ErrAdapterClosed
	ErrEmptyAccountID     = adapters.ErrEmptyAccountID
	ErrNoEvents           = adapters.ErrNoEvents
	ErrSequenceConflict   = adapters.ErrSequenceConflict
	ErrAccountNotFound    = adapters.ErrAccountNotFound
	ErrInvalidEventNumber = adapters.ErrInvalidEventNumber
)

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.EventLogAdapter   = (*PostgresAdapter)(nil)
	_ adapters.SnapshotAdapter   = (*PostgresAdapter)(nil)
	_ adapters.CheckpointAdapter = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker     = (*PostgresAdapter)(nil)
	_ adapters.Migrator          = (*PostgresAdapter)(nil)
)

// PostgresAdapter is a PostgreSQL implementation of the event log,
// snapshot, and checkpoint adapters.
//
// Sequence conflicts are detected through the UNIQUE(account_id,
// event_number) constraint on the events table: a losing writer's insert
// fails with SQLSTATE 23505 and is surfaced as a SequenceConflictError.
type PostgresAdapter struct {
	db     *sql.DB
	schema string
	closed bool
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		a.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter creates a new PostgreSQL adapter from a connection string.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to open database: %w", err)
	}

	adapter := &PostgresAdapter{
		db:     db,
		schema: "ledgerkit",
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter, nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	adapter := &PostgresAdapter{
		db:     db,
		schema: "ledgerkit",
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// DB returns the underlying database handle.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name this adapter operates in.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}

// Migrate creates the schema and tables for the event log, snapshots, and
// checkpoints.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema))
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to create schema: %w", err)
	}

	eventsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.events (
			global_position BIGSERIAL PRIMARY KEY,
			event_id        UUID NOT NULL DEFAULT gen_random_uuid(),
			account_id      VARCHAR(500) NOT NULL,
			event_number    BIGINT NOT NULL,
			event_type      VARCHAR(500) NOT NULL,
			data            JSONB NOT NULL,
			metadata        JSONB,
			timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(account_id, event_number)
		)`, a.schema)

	_, err = a.db.ExecContext(ctx, eventsSQL)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to create events table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_account ON %s.events(account_id, event_number)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON %s.events(timestamp, global_position)`, a.schema),
	}

	for _, idx := range indexes {
		_, err = a.db.ExecContext(ctx, idx)
		if err != nil {
			return fmt.Errorf("ledgerkit/postgres: failed to create index: %w", err)
		}
	}

	snapshotsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.snapshots (
			account_id        VARCHAR(500) PRIMARY KEY,
			data              JSONB NOT NULL,
			last_event_number BIGINT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, a.schema)

	_, err = a.db.ExecContext(ctx, snapshotsSQL)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to create snapshots table: %w", err)
	}

	checkpointsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.checkpoints (
			projection_name VARCHAR(500) PRIMARY KEY,
			position        BIGINT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, a.schema)

	_, err = a.db.ExecContext(ctx, checkpointsSQL)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to create checkpoints table: %w", err)
	}

	return nil
}

// Append stores events to an account's stream at contiguous event numbers
// starting at firstEventNumber.
func (a *PostgresAdapter) Append(ctx context.Context, accountID string, firstEventNumber int64, events []adapters.EventRecord) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	if firstEventNumber < 1 {
		return nil, ErrInvalidEventNumber
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	storedEvents := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		eventNumber := firstEventNumber + int64(i)

		metadata := event.Metadata
		if len(metadata) == 0 {
			metadata = nil
		}

		var globalPosition int64
		var eventID string
		var timestamp time.Time

		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.events (account_id, event_number, event_type, data, metadata)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING global_position, event_id, timestamp`, a.schema),
			accountID, eventNumber, event.Type, event.Data, metadata,
		).Scan(&globalPosition, &eventID, &timestamp)

		if err != nil {
			if isUniqueViolation(err) {
				return nil, &adapters.SequenceConflictError{
					AccountID:   accountID,
					EventNumber: eventNumber,
				}
			}
			return nil, fmt.Errorf("ledgerkit/postgres: failed to insert event: %w", err)
		}

		storedEvents[i] = adapters.StoredEvent{
			ID:             eventID,
			AccountID:      accountID,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			EventNumber:    eventNumber,
			GlobalPosition: globalPosition,
			Timestamp:      timestamp,
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, &adapters.SequenceConflictError{
				AccountID:   accountID,
				EventNumber: firstEventNumber,
			}
		}
		return nil, fmt.Errorf("ledgerkit/postgres: failed to commit transaction: %w", err)
	}

	return storedEvents, nil
}

// NextEventNumber returns the event number the next append should use.
func (a *PostgresAdapter) NextEventNumber(ctx context.Context, accountID string) (int64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}
	if accountID == "" {
		return 0, ErrEmptyAccountID
	}

	var max sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(event_number) FROM %s.events
		WHERE account_id = $1`, a.schema), accountID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("ledgerkit/postgres: failed to query event number: %w", err)
	}

	return max.Int64 + 1, nil
}

// Events returns an account's events after the given event number.
func (a *PostgresAdapter) Events(ctx context.Context, accountID string, afterEventNumber int64) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT global_position, event_id, account_id, event_number, event_type, data, metadata, timestamp
		FROM %s.events
		WHERE account_id = $1 AND event_number > $2
		ORDER BY event_number`, a.schema), accountID, afterEventNumber)
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		exists, err := a.accountExists(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrAccountNotFound
		}
	}

	return events, nil
}

// EventsUntil returns an account's events with timestamps at or before the
// given instant.
func (a *PostgresAdapter) EventsUntil(ctx context.Context, accountID string, until time.Time) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT global_position, event_id, account_id, event_number, event_type, data, metadata, timestamp
		FROM %s.events
		WHERE account_id = $1 AND timestamp <= $2
		ORDER BY event_number`, a.schema), accountID, until)
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		exists, err := a.accountExists(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrAccountNotFound
		}
	}

	return events, nil
}

// AllEvents returns events from the whole log after the given global
// position, ordered by (timestamp, global position).
func (a *PostgresAdapter) AllEvents(ctx context.Context, afterPosition int64) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT global_position, event_id, account_id, event_number, event_type, data, metadata, timestamp
		FROM %s.events
		WHERE global_position > $1
		ORDER BY timestamp, global_position`, a.schema), afterPosition)
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// TotalEvents returns the number of events in the log.
func (a *PostgresAdapter) TotalEvents(ctx context.Context) (int64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}

	var count int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s.events`, a.schema)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledgerkit/postgres: failed to count events: %w", err)
	}
	return count, nil
}

// LastPosition returns the highest global position in the log.
func (a *PostgresAdapter) LastPosition(ctx context.Context) (int64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}

	var position sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(global_position) FROM %s.events`, a.schema)).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("ledgerkit/postgres: failed to query last position: %w", err)
	}
	return position.Int64, nil
}

// SaveSnapshot upserts the snapshot for an account.
func (a *PostgresAdapter) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) error {
	if a.closed {
		return ErrAdapterClosed
	}
	if snapshot.AccountID == "" {
		return ErrEmptyAccountID
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.snapshots (account_id, data, last_event_number, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account_id) DO UPDATE
		SET data = EXCLUDED.data,
			last_event_number = EXCLUDED.last_event_number,
			created_at = NOW()`, a.schema),
		snapshot.AccountID, snapshot.Data, snapshot.LastEventNumber)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for an account, or nil if none exists.
func (a *PostgresAdapter) LoadSnapshot(ctx context.Context, accountID string) (*adapters.SnapshotRecord, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}

	var record adapters.SnapshotRecord
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT account_id, data, last_event_number, created_at
		FROM %s.snapshots
		WHERE account_id = $1`, a.schema), accountID).
		Scan(&record.AccountID, &record.Data, &record.LastEventNumber, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to load snapshot: %w", err)
	}
	return &record, nil
}

// DeleteSnapshot removes the snapshot for an account.
func (a *PostgresAdapter) DeleteSnapshot(ctx context.Context, accountID string) error {
	if a.closed {
		return ErrAdapterClosed
	}
	if accountID == "" {
		return ErrEmptyAccountID
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.snapshots WHERE account_id = $1`, a.schema), accountID)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to delete snapshot: %w", err)
	}
	return nil
}

// GetCheckpoint returns a projection's checkpoint, or 0 if none exists.
func (a *PostgresAdapter) GetCheckpoint(ctx context.Context, projection string) (int64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}

	var position int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT position FROM %s.checkpoints
		WHERE projection_name = $1`, a.schema), projection).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledgerkit/postgres: failed to get checkpoint: %w", err)
	}
	return position, nil
}

// SaveCheckpoint upserts a projection's checkpoint.
func (a *PostgresAdapter) SaveCheckpoint(ctx context.Context, projection string, position int64) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (projection_name, position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE
		SET position = EXCLUDED.position,
			updated_at = NOW()`, a.schema), projection, position)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to save checkpoint: %w", err)
	}
	return nil
}

// ResetCheckpoint sets a projection's checkpoint back to 0.
func (a *PostgresAdapter) ResetCheckpoint(ctx context.Context, projection string) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (projection_name, position, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (projection_name) DO UPDATE
		SET position = 0,
			updated_at = NOW()`, a.schema), projection)
	if err != nil {
		return fmt.Errorf("ledgerkit/postgres: failed to reset checkpoint: %w", err)
	}
	return nil
}

// Checkpoints returns all known projection checkpoints.
func (a *PostgresAdapter) Checkpoints(ctx context.Context) (map[string]adapters.Checkpoint, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT projection_name, position, updated_at FROM %s.checkpoints`, a.schema))
	if err != nil {
		return nil, fmt.Errorf("ledgerkit/postgres: failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	result := make(map[string]adapters.Checkpoint)
	for rows.Next() {
		var name string
		var checkpoint adapters.Checkpoint
		if err := rows.Scan(&name, &checkpoint.Position, &checkpoint.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ledgerkit/postgres: failed to scan checkpoint: %w", err)
		}
		result[name] = checkpoint
	}
	return result, rows.Err()
}

// Ping verifies the database is reachable.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// Close closes the database connection.
func (a *PostgresAdapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}

func (a *PostgresAdapter) accountExists(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s.events WHERE account_id = $1
		)`, a.schema), accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledgerkit/postgres: failed to check account: %w", err)
	}
	return exists, nil
}

func scanEvents(rows *sql.Rows) ([]adapters.StoredEvent, error) {
	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var event adapters.StoredEvent
		var metadata []byte
		if err := rows.Scan(
			&event.GlobalPosition,
			&event.ID,
			&event.AccountID,
			&event.EventNumber,
			&event.Type,
			&event.Data,
			&metadata,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("ledgerkit/postgres: failed to scan event: %w", err)
		}
		event.Metadata = metadata
		events = append(events, event)
	}
	return events, rows.Err()
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
