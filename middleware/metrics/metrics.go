// Package metrics provides Prometheus metrics integration for ledgerkit.
//
// This package enables observability for event log operations, command
// execution, and projections.
//
// Basic usage:
//
//	metrics := metrics.New()
//	metrics.MustRegister()
//
//	// Wrap the event log adapter
//	log := metrics.WrapEventLog(adapter)
//
//	// Feed projection metrics into the projector
//	projector := ledgerkit.NewProjector(log, checkpoints, projections,
//		ledgerkit.WithProjectionMetrics(metrics))
//
// The metrics collected include:
//   - Event log operations (append, read, rebuild scans)
//   - Events appended by type
//   - Projection processing counts, durations, and lag
//   - Error counts by type
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ledgerkit "github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/adapters"
)

// Default metric labels.
const (
	LabelEventType      = "event_type"
	LabelProjectionName = "projection_name"
	LabelOperation      = "operation"
	LabelStatus         = "status"
	LabelErrorType      = "error_type"
	LabelService        = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationAppend     = "append"
	OperationRead       = "read"
	OperationReadAll    = "read_all"
	OperationReadUntil  = "read_until"
	OperationCount      = "count"
	OperationPosition   = "position"
	OperationNextNumber = "next_number"
)

// Metrics holds all Prometheus metrics for ledgerkit.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Event log metrics
	logOperationsTotal   *prometheus.CounterVec
	logOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal  *prometheus.CounterVec
	eventsReadTotal      *prometheus.CounterVec

	// Projection metrics
	projectionsProcessedTotal *prometheus.CounterVec
	projectionDuration        *prometheus.HistogramVec
	projectionLag             *prometheus.GaugeVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "ledgerkit",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.logOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "eventlog_operations_total",
			Help:      "Total number of event log operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.logOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "eventlog_operation_duration_seconds",
			Help:      "Duration of event log operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.eventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to the log.",
		},
		[]string{LabelService, LabelEventType},
	)

	m.eventsReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_read_total",
			Help:      "Total number of events read from the log.",
		},
		[]string{LabelService},
	)

	m.projectionsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projections_processed_total",
			Help:      "Total number of events processed by projections.",
		},
		[]string{LabelService, LabelProjectionName, LabelEventType},
	)

	m.projectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_duration_seconds",
			Help:      "Duration of projection event processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.projectionLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_lag_events",
			Help:      "Number of events behind the head of the log for each projection.",
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.logOperationsTotal,
		m.logOperationDuration,
		m.eventsAppendedTotal,
		m.eventsReadTotal,
		m.projectionsProcessedTotal,
		m.projectionDuration,
		m.projectionLag,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ledgerkit.ErrSequenceConflict):
		return "sequence_conflict"
	case errors.Is(err, ledgerkit.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ledgerkit.ErrAccountExists):
		return "account_exists"
	case errors.Is(err, ledgerkit.ErrAccountClosed):
		return "account_closed"
	case errors.Is(err, ledgerkit.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledgerkit.ErrBalanceNotZero):
		return "balance_not_zero"
	case errors.Is(err, ledgerkit.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ledgerkit.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, ledgerkit.ErrEventTypeNotRegistered):
		return "event_type_not_registered"
	case errors.Is(err, ledgerkit.ErrRebuildRunning):
		return "rebuild_running"
	case errors.Is(err, adapters.ErrEmptyAccountID):
		return "empty_account_id"
	case errors.Is(err, adapters.ErrNoEvents):
		return "no_events"
	case errors.Is(err, adapters.ErrInvalidEventNumber):
		return "invalid_event_number"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	default:
		return "unknown"
	}
}

// =============================================================================
// Event Log Middleware
// =============================================================================

// EventLogMiddleware wraps an EventLogAdapter with metrics.
type EventLogMiddleware struct {
	adapter adapters.EventLogAdapter
	metrics *Metrics
}

// WrapEventLog wraps an adapter with metrics collection.
func (m *Metrics) WrapEventLog(adapter adapters.EventLogAdapter) *EventLogMiddleware {
	return &EventLogMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

var _ adapters.EventLogAdapter = (*EventLogMiddleware)(nil)

// Append stores events with metrics.
func (em *EventLogMiddleware) Append(ctx context.Context, accountID string, firstEventNumber int64, events []adapters.EventRecord) ([]adapters.StoredEvent, error) {
	start := time.Now()
	stored, err := em.adapter.Append(ctx, accountID, firstEventNumber, events)
	em.observe(OperationAppend, start, err)

	if err == nil {
		for _, e := range events {
			em.metrics.eventsAppendedTotal.WithLabelValues(em.metrics.serviceName, e.Type).Inc()
		}
	}

	return stored, err
}

// NextEventNumber returns the next event number with metrics.
func (em *EventLogMiddleware) NextEventNumber(ctx context.Context, accountID string) (int64, error) {
	start := time.Now()
	next, err := em.adapter.NextEventNumber(ctx, accountID)
	em.observe(OperationNextNumber, start, err)
	return next, err
}

// Events reads an account's events with metrics.
func (em *EventLogMiddleware) Events(ctx context.Context, accountID string, afterEventNumber int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.Events(ctx, accountID, afterEventNumber)
	em.observe(OperationRead, start, err)

	if err == nil {
		em.metrics.eventsReadTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}

	return events, err
}

// EventsUntil reads an account's events up to an instant with metrics.
func (em *EventLogMiddleware) EventsUntil(ctx context.Context, accountID string, until time.Time) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.EventsUntil(ctx, accountID, until)
	em.observe(OperationReadUntil, start, err)

	if err == nil {
		em.metrics.eventsReadTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}

	return events, err
}

// AllEvents reads the whole log with metrics.
func (em *EventLogMiddleware) AllEvents(ctx context.Context, afterPosition int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.AllEvents(ctx, afterPosition)
	em.observe(OperationReadAll, start, err)

	if err == nil {
		em.metrics.eventsReadTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}

	return events, err
}

// TotalEvents counts the log with metrics.
func (em *EventLogMiddleware) TotalEvents(ctx context.Context) (int64, error) {
	start := time.Now()
	total, err := em.adapter.TotalEvents(ctx)
	em.observe(OperationCount, start, err)
	return total, err
}

// LastPosition reads the head position with metrics.
func (em *EventLogMiddleware) LastPosition(ctx context.Context) (int64, error) {
	start := time.Now()
	position, err := em.adapter.LastPosition(ctx)
	em.observe(OperationPosition, start, err)
	return position, err
}

// Close closes the underlying adapter.
func (em *EventLogMiddleware) Close() error {
	return em.adapter.Close()
}

func (em *EventLogMiddleware) observe(operation string, start time.Time, err error) {
	em.metrics.logOperationDuration.WithLabelValues(em.metrics.serviceName, operation).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		em.metrics.errorsTotal.WithLabelValues(em.metrics.serviceName, errorTypeName(err)).Inc()
	}
	em.metrics.logOperationsTotal.WithLabelValues(em.metrics.serviceName, operation, status).Inc()
}

// =============================================================================
// Projection Metrics
// =============================================================================

var _ ledgerkit.ProjectionMetrics = (*Metrics)(nil)

// EventProjected records one event applied to a projection.
func (m *Metrics) EventProjected(projection, eventType string, duration time.Duration) {
	m.projectionsProcessedTotal.WithLabelValues(m.serviceName, projection, eventType).Inc()
	m.projectionDuration.WithLabelValues(m.serviceName, projection).Observe(duration.Seconds())
}

// ProjectionLag records a projection's current lag in events.
func (m *Metrics) ProjectionLag(projection string, lag int64) {
	m.projectionLag.WithLabelValues(m.serviceName, projection).Set(float64(lag))
}

// =============================================================================
// Getters for testing
// =============================================================================

// LogOperationsTotal returns the event log operations counter.
func (m *Metrics) LogOperationsTotal() *prometheus.CounterVec {
	return m.logOperationsTotal
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec {
	return m.eventsAppendedTotal
}

// EventsReadTotal returns the events read counter.
func (m *Metrics) EventsReadTotal() *prometheus.CounterVec {
	return m.eventsReadTotal
}

// ProjectionsProcessedTotal returns the projections processed counter.
func (m *Metrics) ProjectionsProcessedTotal() *prometheus.CounterVec {
	return m.projectionsProcessedTotal
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
