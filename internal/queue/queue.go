// Package queue schedules background jobs over a pluggable JobStore
// backend. The same worker loop runs against the in-memory store for
// in-process use and the Postgres store for durable, multi-worker use.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paulcanta/vidlyx/internal/models"
)

const (
	// maxAttempts bounds how many times a job runs before it is
	// irreversibly failed.
	maxAttempts = 3
	// backoffBase is the delay before the second attempt; it doubles per
	// subsequent attempt.
	backoffBase = 5 * time.Second
)

// ErrInvalidTransition is returned for operations not allowed from the
// job's current status.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ValidTransition enforces the one-directional job state machine. The
// only path out of a terminal state is Retry, which creates a new record
// rather than transitioning the old one.
func ValidTransition(from, to models.JobStatus) bool {
	switch from {
	case models.JobStatusPending:
		return to == models.JobStatusProcessing || to == models.JobStatusCancelled || to == models.JobStatusFailed
	case models.JobStatusProcessing:
		return to == models.JobStatusPending || // requeue for another attempt
			to == models.JobStatusCompleted ||
			to == models.JobStatusFailed ||
			to == models.JobStatusCancelled
	default:
		return false
	}
}

// Backoff returns the delay before re-running a job that has already made
// `attempt` attempts: 5s, 10s, 20s, ...
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return backoffBase << (attempt - 1)
}

// Enqueue creates a pending job and nudges the worker.
func (q *Queue) Enqueue(ctx context.Context, subjectID, kind string, payload map[string]any) (*models.Job, error) {
	now := time.Now()
	job := &models.Job{
		ID:          uuid.New().String(),
		SubjectID:   subjectID,
		Kind:        kind,
		Status:      models.JobStatusPending,
		Payload:     payload,
		RunAt:       now,
		HeartbeatAt: now,
		CreatedAt:   now,
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	q.nudge()
	return job, nil
}

// UpdateProgress is an idempotent progress upsert. Percent outside
// [0,100] is rejected; decreases while processing are ignored by the store.
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, percent int, partial map[string]any) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("progress %d outside [0,100]", percent)
	}
	return q.store.UpdateJobProgress(ctx, jobID, percent, partial)
}

// Cancel marks a pending or processing job cancelled. Cancellation is
// best-effort: an in-flight stage is not preempted, and its eventual
// frame writes still land.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !ValidTransition(job.Status, models.JobStatusCancelled) {
		return fmt.Errorf("%w: cannot cancel %s job", ErrInvalidTransition, job.Status)
	}
	return q.store.CancelJob(ctx, jobID)
}

// Retry creates a new job record carrying a failed job's payload. The
// failed record is never mutated, only superseded.
func (q *Queue) Retry(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: can only retry failed jobs, got %s", ErrInvalidTransition, job.Status)
	}
	return q.Enqueue(ctx, job.SubjectID, job.Kind, job.Payload)
}

// Cancelled reports whether a job has been cancelled, for cooperative
// checks at stage boundaries.
func (q *Queue) Cancelled(ctx context.Context, jobID string) bool {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == models.JobStatusCancelled
}

// Health returns per-state counts and an overall liveness flag.
func (q *Queue) Health(ctx context.Context) (models.QueueHealth, error) {
	counts, err := q.store.CountJobsByStatus(ctx)
	if err != nil {
		return models.QueueHealth{}, err
	}
	delayed, err := q.store.CountDelayedJobs(ctx)
	if err != nil {
		return models.QueueHealth{}, err
	}
	return models.QueueHealth{
		Waiting:   counts[models.JobStatusPending] - delayed,
		Active:    counts[models.JobStatusProcessing],
		Completed: counts[models.JobStatusCompleted],
		Failed:    counts[models.JobStatusFailed],
		Delayed:   delayed,
		Healthy:   q.running.Load(),
	}, nil
}

// Job fetches one job record.
func (q *Queue) Job(ctx context.Context, jobID string) (*models.Job, error) {
	return q.store.GetJob(ctx, jobID)
}
