// Package tracing provides OpenTelemetry integration for ledgerkit.
//
// This package enables distributed tracing for event log operations and
// projections.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	log := tracing.NewEventLogMiddleware(adapter, tracer)
//
// The tracing middleware captures:
//   - Append and read operations with account and event attributes
//   - Projection apply spans
//   - Success/failure status and error details
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ledgerkit "github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/adapters"
)

const (
	// TracerName is the name of the ledgerkit tracer.
	TracerName = "github.com/ledgerkit/ledgerkit"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "ledgerkit"
)

// Tracer wraps an OpenTelemetry tracer for ledgerkit operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// =============================================================================
// Event Log Middleware
// =============================================================================

// EventLogMiddleware wraps an EventLogAdapter with tracing.
type EventLogMiddleware struct {
	adapter adapters.EventLogAdapter
	tracer  *Tracer
}

// NewEventLogMiddleware wraps an adapter with tracing.
func NewEventLogMiddleware(adapter adapters.EventLogAdapter, tracer *Tracer) *EventLogMiddleware {
	return &EventLogMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

var _ adapters.EventLogAdapter = (*EventLogMiddleware)(nil)

// Append stores events with tracing.
func (m *EventLogMiddleware) Append(ctx context.Context, accountID string, firstEventNumber int64, events []adapters.EventRecord) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.append",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("ledgerkit.service", m.tracer.serviceName),
		attribute.String("ledgerkit.account_id", accountID),
		attribute.Int64("ledgerkit.first_event_number", firstEventNumber),
		attribute.Int("ledgerkit.events.count", len(events)),
	)

	if len(events) > 0 {
		eventTypes := make([]string, len(events))
		for i, e := range events {
			eventTypes[i] = e.Type
		}
		span.SetAttributes(attribute.StringSlice("ledgerkit.events.types", eventTypes))
	}

	stored, err := m.adapter.Append(ctx, accountID, firstEventNumber, events)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		if len(stored) > 0 {
			span.SetAttributes(
				attribute.Int64("ledgerkit.stored.event_number", stored[len(stored)-1].EventNumber),
				attribute.Int64("ledgerkit.stored.global_position", stored[len(stored)-1].GlobalPosition),
			)
		}
	}

	return stored, err
}

// NextEventNumber returns the next event number with tracing.
func (m *EventLogMiddleware) NextEventNumber(ctx context.Context, accountID string) (int64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.next_event_number",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("ledgerkit.service", m.tracer.serviceName),
		attribute.String("ledgerkit.account_id", accountID),
	)

	next, err := m.adapter.NextEventNumber(ctx, accountID)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("ledgerkit.next_event_number", next))
	}

	return next, err
}

// Events reads an account's events with tracing.
func (m *EventLogMiddleware) Events(ctx context.Context, accountID string, afterEventNumber int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.events",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("ledgerkit.service", m.tracer.serviceName),
		attribute.String("ledgerkit.account_id", accountID),
		attribute.Int64("ledgerkit.after_event_number", afterEventNumber),
	)

	events, err := m.adapter.Events(ctx, accountID, afterEventNumber)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("ledgerkit.events.read", len(events)))
	}

	return events, err
}

// EventsUntil reads an account's events up to an instant with tracing.
func (m *EventLogMiddleware) EventsUntil(ctx context.Context, accountID string, until time.Time) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.events_until",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("ledgerkit.service", m.tracer.serviceName),
		attribute.String("ledgerkit.account_id", accountID),
		attribute.String("ledgerkit.until", until.Format(time.RFC3339Nano)),
	)

	events, err := m.adapter.EventsUntil(ctx, accountID, until)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("ledgerkit.events.read", len(events)))
	}

	return events, err
}

// AllEvents reads the whole log with tracing.
func (m *EventLogMiddleware) AllEvents(ctx context.Context, afterPosition int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.all_events",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("ledgerkit.service", m.tracer.serviceName),
		attribute.Int64("ledgerkit.after_position", afterPosition),
	)

	events, err := m.adapter.AllEvents(ctx, afterPosition)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("ledgerkit.events.read", len(events)))
	}

	return events, err
}

// TotalEvents counts the log with tracing.
func (m *EventLogMiddleware) TotalEvents(ctx context.Context) (int64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.total_events",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("ledgerkit.service", m.tracer.serviceName))

	total, err := m.adapter.TotalEvents(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("ledgerkit.total_events", total))
	}

	return total, err
}

// LastPosition reads the head position with tracing.
func (m *EventLogMiddleware) LastPosition(ctx context.Context) (int64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.last_position",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("ledgerkit.service", m.tracer.serviceName))

	position, err := m.adapter.LastPosition(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("ledgerkit.last_position", position))
	}

	return position, err
}

// Close closes the adapter.
func (m *EventLogMiddleware) Close() error {
	return m.adapter.Close()
}

// =============================================================================
// Projection Middleware
// =============================================================================

// ProjectionMiddleware wraps a projection with tracing.
type ProjectionMiddleware struct {
	projection ledgerkit.Projection
	tracer     *Tracer
}

// NewProjectionMiddleware wraps a projection with tracing.
func NewProjectionMiddleware(projection ledgerkit.Projection, tracer *Tracer) *ProjectionMiddleware {
	return &ProjectionMiddleware{
		projection: projection,
		tracer:     tracer,
	}
}

var _ ledgerkit.Projection = (*ProjectionMiddleware)(nil)

// Name returns the projection name.
func (m *ProjectionMiddleware) Name() string {
	return m.projection.Name()
}

// Apply applies an event with tracing.
func (m *ProjectionMiddleware) Apply(ctx context.Context, event ledgerkit.Event) error {
	spanName := fmt.Sprintf("projection.%s.apply", m.projection.Name())

	ctx, span := m.tracer.StartSpan(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("ledgerkit.service", m.tracer.serviceName),
		attribute.String("ledgerkit.projection.name", m.projection.Name()),
		attribute.String("ledgerkit.event.type", event.Type),
		attribute.String("ledgerkit.event.id", event.ID),
		attribute.String("ledgerkit.event.account_id", event.AccountID),
		attribute.Int64("ledgerkit.event.event_number", event.EventNumber),
		attribute.Int64("ledgerkit.event.global_position", event.GlobalPosition),
	)

	err := m.projection.Apply(ctx, event)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// Clear clears the projection's read model with tracing.
func (m *ProjectionMiddleware) Clear(ctx context.Context) error {
	spanName := fmt.Sprintf("projection.%s.clear", m.projection.Name())

	ctx, span := m.tracer.StartSpan(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("ledgerkit.service", m.tracer.serviceName),
		attribute.String("ledgerkit.projection.name", m.projection.Name()),
	)

	err := m.projection.Clear(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
