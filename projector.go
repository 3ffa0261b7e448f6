package ledgerkit

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerkit/ledgerkit/adapters"
)

// Projection transforms events into an optimized read model.
type Projection interface {
	// Name returns the unique identifier for this projection. The name
	// keys the projection's checkpoint.
	Name() string

	// Apply folds a single event into the read model. Apply must be
	// idempotent: re-applying an already-seen event changes nothing.
	Apply(ctx context.Context, event Event) error

	// Clear removes all read model rows so the projection can be rebuilt
	// from scratch.
	Clear(ctx context.Context) error
}

// ProjectionMetrics observes projection activity. The zero-value interface
// via NoopProjectionMetrics records nothing.
type ProjectionMetrics interface {
	// EventProjected records one event applied to a projection.
	EventProjected(projection, eventType string, duration time.Duration)

	// ProjectionLag records a projection's current lag in events.
	ProjectionLag(projection string, lag int64)
}

// NoopProjectionMetrics discards all observations.
type NoopProjectionMetrics struct{}

// EventProjected implements ProjectionMetrics.
func (NoopProjectionMetrics) EventProjected(projection, eventType string, duration time.Duration) {}

// ProjectionLag implements ProjectionMetrics.
func (NoopProjectionMetrics) ProjectionLag(projection string, lag int64) {}

// ProjectionStatus reports one projection's progress through the log.
type ProjectionStatus struct {
	Name       string    `json:"name"`
	Checkpoint int64     `json:"checkpoint"`
	Lag        int64     `json:"lag"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Status is a point-in-time view of all projections.
type Status struct {
	TotalEvents  int64              `json:"totalEvents"`
	LastPosition int64              `json:"lastPosition"`
	Projections  []ProjectionStatus `json:"projections"`
}

// Projector drives a set of projections over the event log, tracking an
// independent checkpoint per projection.
type Projector struct {
	log         adapters.EventLogAdapter
	checkpoints adapters.CheckpointAdapter
	projections []Projection
	serializer  Serializer
	logger      Logger
	metrics     ProjectionMetrics
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithProjectorLogger sets the projector logger.
func WithProjectorLogger(logger Logger) ProjectorOption {
	return func(p *Projector) {
		p.logger = logger
	}
}

// WithProjectionMetrics sets the metrics sink.
func WithProjectionMetrics(metrics ProjectionMetrics) ProjectorOption {
	return func(p *Projector) {
		p.metrics = metrics
	}
}

// WithProjectorSerializer sets the serializer used when the projector
// replays stored events to close a checkpoint gap. It should match the
// ledger's serializer.
func WithProjectorSerializer(s Serializer) ProjectorOption {
	return func(p *Projector) {
		p.serializer = s
	}
}

// NewProjector creates a projector over the given projections. The default
// serializer is JSON with the account events registered.
func NewProjector(log adapters.EventLogAdapter, checkpoints adapters.CheckpointAdapter, projections []Projection, opts ...ProjectorOption) *Projector {
	p := &Projector{
		log:         log,
		checkpoints: checkpoints,
		projections: projections,
		logger:      &noopLogger{},
		metrics:     NoopProjectionMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.serializer == nil {
		registry := NewEventRegistry()
		RegisterAccountEvents(registry)
		p.serializer = NewJSONSerializer(registry)
	}
	return p
}

// Projections returns the projections this projector drives.
func (p *Projector) Projections() []Projection {
	return p.projections
}

// ProjectEvent applies one event to every projection whose checkpoint is
// behind it, then advances those checkpoints. Events at or before a
// projection's checkpoint are skipped, so re-delivery is harmless. When a
// projection's checkpoint trails the event by more than one position, the
// missed stretch of the log is replayed first: a checkpoint never moves
// past an event the projection has not applied, so an event whose apply
// failed is retried on the next delivery instead of being lost.
func (p *Projector) ProjectEvent(ctx context.Context, event Event) error {
	for _, projection := range p.projections {
		checkpoint, err := p.checkpoints.GetCheckpoint(ctx, projection.Name())
		if err != nil {
			return fmt.Errorf("get checkpoint for %s: %w", projection.Name(), err)
		}
		if event.GlobalPosition <= checkpoint {
			continue
		}
		if event.GlobalPosition > checkpoint+1 {
			if err := p.catchUp(ctx, projection, checkpoint, event.GlobalPosition); err != nil {
				return err
			}
		}
		if err := p.apply(ctx, projection, event); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) apply(ctx context.Context, projection Projection, event Event) error {
	started := time.Now()
	if err := projection.Apply(ctx, event); err != nil {
		return fmt.Errorf("apply event %d to %s: %w", event.GlobalPosition, projection.Name(), err)
	}
	p.metrics.EventProjected(projection.Name(), event.Type, time.Since(started))

	if err := p.checkpoints.SaveCheckpoint(ctx, projection.Name(), event.GlobalPosition); err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", projection.Name(), err)
	}
	return nil
}

// catchUp replays stored events after a projection's checkpoint up to, but
// not including, the given position. Positions absent from the log (left by
// aborted appends) are simply not returned and cost nothing.
func (p *Projector) catchUp(ctx context.Context, projection Projection, checkpoint, before int64) error {
	stored, err := p.log.AllEvents(ctx, checkpoint)
	if err != nil {
		return fmt.Errorf("read log after %d: %w", checkpoint, err)
	}

	for _, record := range stored {
		if record.GlobalPosition >= before {
			continue
		}
		payload, err := p.serializer.Deserialize(record.Data, record.Type)
		if err != nil {
			return err
		}
		event := Event{
			ID:             record.ID,
			AccountID:      record.AccountID,
			Type:           record.Type,
			Payload:        payload,
			EventNumber:    record.EventNumber,
			GlobalPosition: record.GlobalPosition,
			Timestamp:      record.Timestamp,
		}
		p.logger.Warn("projection behind, replaying missed event",
			"projection", projection.Name(),
			"global_position", record.GlobalPosition)
		if err := p.apply(ctx, projection, event); err != nil {
			return err
		}
	}
	return nil
}

// ProjectEvents applies a batch of events in order.
func (p *Projector) ProjectEvents(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := p.ProjectEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the total size of the log and each projection's
// checkpoint and lag. Lag is how many positions the projection is behind
// the head of the log.
func (p *Projector) Status(ctx context.Context) (Status, error) {
	total, err := p.log.TotalEvents(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count events: %w", err)
	}
	last, err := p.log.LastPosition(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("last position: %w", err)
	}

	checkpoints, err := p.checkpoints.Checkpoints(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list checkpoints: %w", err)
	}

	status := Status{
		TotalEvents:  total,
		LastPosition: last,
		Projections:  make([]ProjectionStatus, 0, len(p.projections)),
	}

	for _, projection := range p.projections {
		checkpoint := checkpoints[projection.Name()]
		lag := last - checkpoint.Position
		if lag < 0 {
			lag = 0
		}
		p.metrics.ProjectionLag(projection.Name(), lag)
		status.Projections = append(status.Projections, ProjectionStatus{
			Name:       projection.Name(),
			Checkpoint: checkpoint.Position,
			Lag:        lag,
			UpdatedAt:  checkpoint.UpdatedAt,
		})
	}

	return status, nil
}

// SummaryProjection maintains the AccountSummaries read model.
type SummaryProjection struct {
	store SummaryStore
}

// NewSummaryProjection creates the AccountSummaries projection.
func NewSummaryProjection(store SummaryStore) *SummaryProjection {
	return &SummaryProjection{store: store}
}

// Name implements Projection.
func (p *SummaryProjection) Name() string {
	return ProjectionAccountSummaries
}

// Apply implements Projection.
func (p *SummaryProjection) Apply(ctx context.Context, event Event) error {
	switch payload := event.Payload.(type) {
	case *AccountCreated:
		return p.store.InsertSummary(ctx, AccountSummary{
			AccountID: event.AccountID,
			OwnerName: payload.OwnerName,
			Balance:   payload.InitialBalance,
			Currency:  payload.Currency,
			Status:    StatusOpen,
			Version:   event.EventNumber,
			UpdatedAt: event.Timestamp,
		})
	case *MoneyDeposited:
		return p.store.AdjustBalance(ctx, event.AccountID, payload.Amount, event.EventNumber, event.Timestamp)
	case *MoneyWithdrawn:
		return p.store.AdjustBalance(ctx, event.AccountID, -payload.Amount, event.EventNumber, event.Timestamp)
	case *AccountClosed:
		return p.store.SetStatus(ctx, event.AccountID, StatusClosed, event.EventNumber, event.Timestamp)
	}
	return nil
}

// Clear implements Projection.
func (p *SummaryProjection) Clear(ctx context.Context) error {
	return p.store.ClearSummaries(ctx)
}

// HistoryProjection maintains the TransactionHistory read model.
type HistoryProjection struct {
	store HistoryStore
}

// NewHistoryProjection creates the TransactionHistory projection.
func NewHistoryProjection(store HistoryStore) *HistoryProjection {
	return &HistoryProjection{store: store}
}

// Name implements Projection.
func (p *HistoryProjection) Name() string {
	return ProjectionTransactionHistory
}

// Apply implements Projection.
func (p *HistoryProjection) Apply(ctx context.Context, event Event) error {
	switch payload := event.Payload.(type) {
	case *MoneyDeposited:
		return p.store.InsertTransaction(ctx, TransactionEntry{
			EventID:       event.ID,
			AccountID:     event.AccountID,
			Kind:          TransactionKindDeposit,
			Amount:        payload.Amount,
			Description:   payload.Description,
			TransactionID: payload.TransactionID,
			Timestamp:     event.Timestamp,
		})
	case *MoneyWithdrawn:
		return p.store.InsertTransaction(ctx, TransactionEntry{
			EventID:       event.ID,
			AccountID:     event.AccountID,
			Kind:          TransactionKindWithdrawal,
			Amount:        payload.Amount,
			Description:   payload.Description,
			TransactionID: payload.TransactionID,
			Timestamp:     event.Timestamp,
		})
	}
	return nil
}

// Clear implements Projection.
func (p *HistoryProjection) Clear(ctx context.Context) error {
	return p.store.ClearTransactions(ctx)
}

var (
	_ Projection = (*SummaryProjection)(nil)
	_ Projection = (*HistoryProjection)(nil)
)
