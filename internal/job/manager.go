package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for jobs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides current time for testing
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// FileMeta records what is known about the uploaded document when the job
// is created.
type FileMeta struct {
	Name        string
	Size        int64
	TotalPages  int
	ChunksTotal int
}

// Counts carries the aggregator's counters onto a completed job.
type Counts struct {
	Total     int
	Validated int
	Final     int
}

// Manager drives the job state machine: pending → processing → completed
// or failed, with cancelled reachable only through Cancel.
type Manager struct {
	store  Store
	ids    IDGenerator
	clock  TimeSource
	logger *slog.Logger
}

// NewManager creates a manager with default dependencies
func NewManager(store Store) *Manager {
	return NewManagerWithDeps(store, uuidGenerator{}, systemClock{}, nil)
}

// NewManagerWithDeps creates a manager with injected dependencies for testing
func NewManagerWithDeps(store Store, ids IDGenerator, clock TimeSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}
}

// Create persists a new pending job. A caller identity is mandatory; jobs
// are only ever visible through their (id, owner) pair.
func (m *Manager) Create(ctx context.Context, userID string, meta FileMeta) (*Job, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	now := m.clock.Now()
	j := &Job{
		ID:          m.ids.Generate(),
		UserID:      userID,
		Status:      StatusPending,
		FileName:    meta.Name,
		FileSize:    meta.Size,
		TotalPages:  meta.TotalPages,
		ChunksTotal: meta.ChunksTotal,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	m.logger.Info("Created processing job", "job_id", j.ID, "file", meta.Name, "chunks", meta.ChunksTotal)
	return j, nil
}

// Start moves a pending job to processing. A job cancelled before its
// first chunk reads as ErrCancelled so the pipeline can stand down.
func (m *Manager) Start(ctx context.Context, id string) (*Job, error) {
	return m.transition(ctx, id, func(j *Job) error {
		if j.Status == StatusCancelled {
			return ErrCancelled
		}
		if j.Status != StatusPending {
			return fmt.Errorf("cannot start job in status %q", j.Status)
		}
		j.Status = StatusProcessing
		return nil
	})
}

// Progress records one more processed chunk (successful or not) and the
// running transaction count. A concurrent cancellation surfaces here as
// ErrCancelled.
func (m *Manager) Progress(ctx context.Context, id string, chunksProcessed, totalTransactions int) (*Job, error) {
	return m.transition(ctx, id, func(j *Job) error {
		if j.Status == StatusCancelled {
			return ErrCancelled
		}
		if j.Status != StatusProcessing {
			return fmt.Errorf("cannot record progress for job in status %q", j.Status)
		}
		j.ChunksProcessed = chunksProcessed
		j.TotalTransactions = totalTransactions
		j.ProgressPercentage = progress(chunksProcessed, j.ChunksTotal)
		return nil
	})
}

// Complete attaches the aggregated result and final counts.
func (m *Manager) Complete(ctx context.Context, id string, counts Counts, result json.RawMessage) (*Job, error) {
	return m.transition(ctx, id, func(j *Job) error {
		if j.Status != StatusProcessing {
			return fmt.Errorf("cannot complete job in status %q", j.Status)
		}
		j.Status = StatusCompleted
		j.TotalTransactions = counts.Total
		j.ValidatedTransactions = counts.Validated
		j.FinalTransactions = counts.Final
		j.ProgressPercentage = 100
		j.Result = result
		now := m.clock.Now()
		j.CompletedAt = &now
		return nil
	})
}

// Fail stores the pipeline error and halts the job.
func (m *Manager) Fail(ctx context.Context, id, message string) (*Job, error) {
	return m.transition(ctx, id, func(j *Job) error {
		if j.Status != StatusPending && j.Status != StatusProcessing {
			return fmt.Errorf("cannot fail job in status %q", j.Status)
		}
		j.Status = StatusFailed
		j.ErrorMessage = message
		now := m.clock.Now()
		j.CompletedAt = &now
		return nil
	})
}

// Cancel is the externally triggered terminal transition, scoped to the
// job's owner. The pipeline never produces this state and in-flight chunk
// work is not interrupted.
func (m *Manager) Cancel(ctx context.Context, id, userID string) (*Job, error) {
	if _, err := m.store.Get(ctx, id, userID); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, func(j *Job) error {
		if j.Status != StatusPending && j.Status != StatusProcessing {
			return fmt.Errorf("cannot cancel job in status %q", j.Status)
		}
		j.Status = StatusCancelled
		now := m.clock.Now()
		j.CompletedAt = &now
		return nil
	})
}

// Get retrieves a job scoped to its owner.
func (m *Manager) Get(ctx context.Context, id, userID string) (*Job, error) {
	return m.store.Get(ctx, id, userID)
}

// List returns the owner's jobs, newest first.
func (m *Manager) List(ctx context.Context, userID string, f Filter) ([]*Job, error) {
	return m.store.List(ctx, userID, f)
}

func (m *Manager) transition(ctx context.Context, id string, mutate func(*Job) error) (*Job, error) {
	return m.store.Update(ctx, id, func(j *Job) error {
		if err := mutate(j); err != nil {
			return err
		}
		j.UpdatedAt = m.clock.Now()
		return nil
	})
}

// progress is rounded to two decimal places, matching how clients display it.
func progress(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*10000) / 100
}
