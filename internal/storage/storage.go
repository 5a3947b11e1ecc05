// Package storage defines the persistence interfaces the pipeline runs
// against, plus Postgres and in-memory implementations. All components
// communicate through these stores rather than in-memory handoff, so each
// pipeline stage is independently restartable.
package storage

import (
	"context"
	"errors"

	"github.com/paulcanta/vidlyx/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// FrameStore provides read/write access to per-video frame records.
type FrameStore interface {
	// CreateFrame persists a newly extracted frame. Creation conflicts on
	// (video, timestamp); the stored row's canonical ID is written back
	// into frame, so a re-run targets the rows of the first pass.
	CreateFrame(ctx context.Context, frame *models.Frame) error

	// ListFrames returns all frames for a video ordered by timestamp.
	ListFrames(ctx context.Context, videoID string) ([]models.Frame, error)

	// UpsertFrameFields applies a partial, field-disjoint update to one
	// frame. Nil fields in the update are left untouched.
	UpsertFrameFields(ctx context.Context, frameID string, fields models.FrameFields) error

	// CountFrames returns the number of frames stored for a video.
	CountFrames(ctx context.Context, videoID string) (int, error)
}

// JobStore persists job records and supports the queue's scheduling reads.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// NextPendingJob claims the oldest pending job whose RunAt has passed,
	// atomically moving it to processing. Returns ErrNotFound when none is due.
	NextPendingJob(ctx context.Context) (*models.Job, error)

	// UpdateJobProgress is an idempotent upsert of progress and an optional
	// partial result. Progress never decreases while the job is processing.
	UpdateJobProgress(ctx context.Context, id string, progress int, partial map[string]any) error

	// CompleteJob moves a processing job to completed with its final result.
	CompleteJob(ctx context.Context, id string, result map[string]any) error

	// FailJob moves a job to failed with the triggering error message.
	FailJob(ctx context.Context, id string, errMsg string) error

	// RequeueJob returns a processing job to pending for another attempt,
	// scheduled no earlier than runAt.
	RequeueJob(ctx context.Context, id string, runAt int64) error

	// CancelJob marks a pending or processing job cancelled.
	CancelJob(ctx context.Context, id string) error

	// Heartbeat records liveness for a processing job.
	Heartbeat(ctx context.Context, id string) error

	// StalledJobs returns processing jobs whose heartbeat is older than
	// maxAgeSeconds.
	StalledJobs(ctx context.Context, maxAgeSeconds int) ([]models.Job, error)

	// CountJobsByStatus returns job counts keyed by status.
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error)

	// CountDelayedJobs returns pending jobs scheduled in the future.
	CountDelayedJobs(ctx context.Context) (int, error)
}

// CorrelationStore persists frame/transcript correlations. Re-running the
// correlation stage replaces the video's correlation set wholesale.
type CorrelationStore interface {
	ReplaceCorrelations(ctx context.Context, videoID string, correlations []models.Correlation) error

	// ListCorrelations returns the persisted set for a video. A video with
	// no correlations yet yields an empty slice, not an error.
	ListCorrelations(ctx context.Context, videoID string) ([]models.Correlation, error)
}

// SectionStore persists detected sections, upserted by (videoID, order).
type SectionStore interface {
	UpsertSections(ctx context.Context, videoID string, sections []models.Section) error
	ListSections(ctx context.Context, videoID string) ([]models.Section, error)
}

// TranscriptStore is the external transcript collaborator.
type TranscriptStore interface {
	Segments(ctx context.Context, videoID string) ([]models.TranscriptSegment, error)
}

// VideoStatusReporter is the subject-status collaborator. Implementations
// must be idempotent; the orchestrator may report the same status twice.
type VideoStatusReporter interface {
	SetVideoStatus(ctx context.Context, videoID string, status string) error
}

// FrameSearcher finds frames with similar scene content by embedding
// distance.
type FrameSearcher interface {
	SimilarFrames(ctx context.Context, videoID string, query string, limit int) ([]models.FrameSearchResult, error)
}
