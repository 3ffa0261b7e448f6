package ledgerkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkit/ledgerkit/adapters"
)

// RebuildState is the lifecycle state of a rebuild job.
type RebuildState string

// Rebuild job states.
const (
	RebuildRunning   RebuildState = "running"
	RebuildCompleted RebuildState = "completed"
	RebuildFailed    RebuildState = "failed"
)

// RebuildJob is an observable record of a projection rebuild.
type RebuildJob struct {
	ID              string       `json:"id"`
	State           RebuildState `json:"state"`
	EventsProcessed int64        `json:"eventsProcessed"`
	TotalEvents     int64        `json:"totalEvents"`
	StartedAt       time.Time    `json:"startedAt"`
	FinishedAt      *time.Time   `json:"finishedAt,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// Rebuilder replays the whole event log through the projections from
// scratch: read models are cleared, checkpoints reset, and every event
// re-applied in (timestamp, global position) order. Only one rebuild may
// run at a time.
type Rebuilder struct {
	log         adapters.EventLogAdapter
	checkpoints adapters.CheckpointAdapter
	projector   *Projector
	serializer  Serializer
	logger      Logger

	mu      sync.Mutex
	running bool
	jobs    map[string]*RebuildJob
}

// RebuilderOption configures a Rebuilder.
type RebuilderOption func(*Rebuilder)

// WithRebuilderLogger sets the rebuilder logger.
func WithRebuilderLogger(logger Logger) RebuilderOption {
	return func(r *Rebuilder) {
		r.logger = logger
	}
}

// NewRebuilder creates a rebuilder for the projector's projections.
func NewRebuilder(log adapters.EventLogAdapter, checkpoints adapters.CheckpointAdapter, projector *Projector, serializer Serializer, opts ...RebuilderOption) *Rebuilder {
	r := &Rebuilder{
		log:         log,
		checkpoints: checkpoints,
		projector:   projector,
		serializer:  serializer,
		logger:      &noopLogger{},
		jobs:        make(map[string]*RebuildJob),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rebuild runs a full rebuild synchronously and returns the finished job
// record. Returns ErrRebuildRunning if another rebuild is in progress.
func (r *Rebuilder) Rebuild(ctx context.Context) (RebuildJob, error) {
	job, err := r.begin()
	if err != nil {
		return RebuildJob{}, err
	}

	r.run(ctx, job)

	done := r.snapshotJob(job.ID)
	if done.State == RebuildFailed {
		return done, fmt.Errorf("ledgerkit: rebuild failed: %s", done.Error)
	}
	return done, nil
}

// Start launches a rebuild in the background and returns its job ID
// immediately. Poll Job for progress. Returns ErrRebuildRunning if another
// rebuild is in progress.
func (r *Rebuilder) Start(ctx context.Context) (string, error) {
	job, err := r.begin()
	if err != nil {
		return "", err
	}

	go r.run(context.WithoutCancel(ctx), job)

	return job.ID, nil
}

// Job returns a copy of the job record for the given ID, or
// ErrRebuildJobNotFound.
func (r *Rebuilder) Job(id string) (RebuildJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return RebuildJob{}, ErrRebuildJobNotFound
	}
	return *job, nil
}

// Jobs returns copies of all job records, newest first.
func (r *Rebuilder) Jobs() []RebuildJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]RebuildJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, *job)
	}
	for i := 0; i < len(jobs); i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].StartedAt.After(jobs[i].StartedAt) {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}
	return jobs
}

func (r *Rebuilder) begin() (*RebuildJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, ErrRebuildRunning
	}
	r.running = true

	job := &RebuildJob{
		ID:        uuid.New().String(),
		State:     RebuildRunning,
		StartedAt: time.Now().UTC(),
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *Rebuilder) run(ctx context.Context, job *RebuildJob) {
	err := r.rebuild(ctx, job)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	now := time.Now().UTC()
	job.FinishedAt = &now
	if err != nil {
		job.State = RebuildFailed
		job.Error = err.Error()
		r.logger.Error("rebuild failed", "job_id", job.ID, "error", err)
		return
	}
	job.State = RebuildCompleted
	r.logger.Info("rebuild completed",
		"job_id", job.ID,
		"events", job.EventsProcessed)
}

func (r *Rebuilder) rebuild(ctx context.Context, job *RebuildJob) error {
	projections := r.projector.Projections()

	for _, projection := range projections {
		if err := projection.Clear(ctx); err != nil {
			return fmt.Errorf("clear %s: %w", projection.Name(), err)
		}
		if err := r.checkpoints.ResetCheckpoint(ctx, projection.Name()); err != nil {
			return fmt.Errorf("reset checkpoint for %s: %w", projection.Name(), err)
		}
	}

	stored, err := r.log.AllEvents(ctx, 0)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}

	r.setTotal(job, int64(len(stored)))

	lastPosition := int64(0)
	for _, record := range stored {
		payload, err := r.serializer.Deserialize(record.Data, record.Type)
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
		for _, projection := range projections {
			if err := projection.Apply(ctx, event); err != nil {
				return fmt.Errorf("apply event %d to %s: %w", event.GlobalPosition, projection.Name(), err)
			}
		}
		if record.GlobalPosition > lastPosition {
			lastPosition = record.GlobalPosition
		}
		r.incrementProcessed(job)
	}

	for _, projection := range projections {
		if err := r.checkpoints.SaveCheckpoint(ctx, projection.Name(), lastPosition); err != nil {
			return fmt.Errorf("save checkpoint for %s: %w", projection.Name(), err)
		}
	}

	return nil
}

func (r *Rebuilder) setTotal(job *RebuildJob, total int64) {
	r.mu.Lock()
	job.TotalEvents = total
	r.mu.Unlock()
}

func (r *Rebuilder) incrementProcessed(job *RebuildJob) {
	r.mu.Lock()
	job.EventsProcessed++
	r.mu.Unlock()
}

func (r *Rebuilder) snapshotJob(id string) RebuildJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.jobs[id]
}
