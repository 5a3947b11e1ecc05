package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulcanta/vidlyx/internal/models"
)

func pendingJob(id string, runAt time.Time) *models.Job {
	return &models.Job{
		ID:          id,
		SubjectID:   "video-1",
		Kind:        models.JobKindFrameAnalysis,
		Status:      models.JobStatusPending,
		RunAt:       runAt,
		HeartbeatAt: runAt,
		CreatedAt:   runAt,
	}
}

func TestFramesOrderedByTimestamp(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, ts := range []float64{20, 5, 10} {
		require.NoError(t, store.CreateFrame(ctx, &models.Frame{
			ID:               fmt.Sprintf("frame-%.0f", ts),
			VideoID:          "video-1",
			TimestampSeconds: ts,
		}))
	}

	frames, err := store.ListFrames(ctx, "video-1")
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, 5.0, frames[0].TimestampSeconds)
	assert.Equal(t, 10.0, frames[1].TimestampSeconds)
	assert.Equal(t, 20.0, frames[2].TimestampSeconds)

	count, err := store.CountFrames(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUpsertFrameFieldsIsPartial(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateFrame(ctx, &models.Frame{ID: "frame-a", VideoID: "video-1"}))

	text := "npm install"
	confidence := 93.2
	require.NoError(t, store.UpsertFrameFields(ctx, "frame-a", models.FrameFields{
		OnScreenText:  &text,
		OCRConfidence: &confidence,
		Words:         []string{"npm", "install"},
	}))

	scene := "terminal window"
	require.NoError(t, store.UpsertFrameFields(ctx, "frame-a", models.FrameFields{
		SceneDescription: &scene,
		VisualElements:   []string{"terminal"},
	}))

	frames, err := store.ListFrames(ctx, "video-1")
	require.NoError(t, err)
	frame := frames[0]
	assert.Equal(t, "npm install", frame.OnScreenText, "second upsert left OCR fields alone")
	assert.Equal(t, 93.2, frame.OCRConfidence)
	assert.Equal(t, "terminal window", frame.SceneDescription)

	err = store.UpsertFrameFields(ctx, "missing", models.FrameFields{OnScreenText: &text})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateFrameSecondPassKeepsCanonicalIdentity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, ts := range []float64{0, 5} {
		require.NoError(t, store.CreateFrame(ctx, &models.Frame{
			ID:               fmt.Sprintf("run1-%.0f", ts),
			VideoID:          "video-1",
			TimestampSeconds: ts,
			Path:             "/frames/old.jpg",
		}))
	}

	// A requeued job re-extracts the same timestamps under fresh IDs.
	rerun := models.Frame{
		ID:               "run2-5",
		VideoID:          "video-1",
		TimestampSeconds: 5,
		Path:             "/frames/new.jpg",
		IsKeyframe:       true,
	}
	require.NoError(t, store.CreateFrame(ctx, &rerun))
	assert.Equal(t, "run1-5", rerun.ID, "canonical ID written back to the caller")

	frames, err := store.ListFrames(ctx, "video-1")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].TimestampSeconds, frames[i-1].TimestampSeconds)
	}
	assert.Equal(t, "/frames/new.jpg", frames[1].Path)
	assert.True(t, frames[1].IsKeyframe)

	// Updates addressed by the written-back ID land on the stored row.
	scene := "terminal window"
	require.NoError(t, store.UpsertFrameFields(ctx, rerun.ID, models.FrameFields{
		SceneDescription: &scene,
	}))
	frames, err = store.ListFrames(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, "terminal window", frames[1].SceneDescription)
}

func TestNextPendingJobSkipsFutureRunAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateJob(ctx, pendingJob("job-later", now.Add(time.Hour))))
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-due", now.Add(-time.Minute))))

	claimed, err := store.NextPendingJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-due", claimed.ID)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempt)
	require.NotNil(t, claimed.StartedAt)

	_, err = store.NextPendingJob(ctx)
	require.ErrorIs(t, err, ErrNotFound, "delayed job is not due yet")
}

func TestJobAttemptIncrementsPerClaim(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-1", time.Now().Add(-time.Minute))))

	for want := 1; want <= 3; want++ {
		claimed, err := store.NextPendingJob(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, claimed.Attempt)
		require.NoError(t, store.RequeueJob(ctx, "job-1", time.Now().Add(-time.Second).Unix()))
	}
}

func TestUpdateJobProgressMonotone(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-1", time.Now().Add(-time.Minute))))
	_, err := store.NextPendingJob(ctx)
	require.NoError(t, err)

	require.NoError(t, store.UpdateJobProgress(ctx, "job-1", 40, nil))
	require.NoError(t, store.UpdateJobProgress(ctx, "job-1", 25, nil))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 40, job.Progress)

	require.Error(t, store.UpdateJobProgress(ctx, "job-1", 120, nil))
	require.ErrorIs(t, store.UpdateJobProgress(ctx, "missing", 10, nil), ErrNotFound)
}

func TestStalledJobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	store.SetClock(func() time.Time { return base })
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-1", base.Add(-time.Minute))))
	_, err := store.NextPendingJob(ctx)
	require.NoError(t, err)

	stalled, err := store.StalledJobs(ctx, 120)
	require.NoError(t, err)
	assert.Empty(t, stalled, "fresh heartbeat is not stalled")

	store.SetClock(func() time.Time { return base.Add(5 * time.Minute) })
	stalled, err = store.StalledJobs(ctx, 120)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, "job-1", stalled[0].ID)

	require.NoError(t, store.Heartbeat(ctx, "job-1"))
	stalled, err = store.StalledJobs(ctx, 120)
	require.NoError(t, err)
	assert.Empty(t, stalled)
}

func TestCompleteAndFailRequireLiveJob(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-1", time.Now().Add(-time.Minute))))

	require.ErrorIs(t, store.CompleteJob(ctx, "job-1", nil), ErrNotFound, "pending jobs cannot complete")

	_, err := store.NextPendingJob(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(ctx, "job-1", map[string]any{"frames": 4}))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.CompletedAt)

	require.ErrorIs(t, store.FailJob(ctx, "job-1", "late failure"), ErrNotFound,
		"terminal states never transition")
	require.ErrorIs(t, store.CancelJob(ctx, "job-1"), ErrNotFound)
}

func TestCountJobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateJob(ctx, pendingJob("job-1", now.Add(-time.Minute))))
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-2", now.Add(time.Hour))))
	_, err := store.NextPendingJob(ctx)
	require.NoError(t, err)

	counts, err := store.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.JobStatusPending])
	assert.Equal(t, 1, counts[models.JobStatusProcessing])

	delayed, err := store.CountDelayedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delayed)
}

func TestReplaceCorrelationsDeduplicates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	correlations := []models.Correlation{
		{FrameID: "frame-a", VideoID: "video-1", SegmentStart: 10, SegmentEnd: 15, Score: 80},
		{FrameID: "frame-a", VideoID: "video-1", SegmentStart: 10, SegmentEnd: 15, Score: 60},
		{FrameID: "frame-b", VideoID: "video-1", SegmentStart: 10, SegmentEnd: 15, Score: 55},
	}
	require.NoError(t, store.ReplaceCorrelations(ctx, "video-1", correlations))

	stored, err := store.ListCorrelations(ctx, "video-1")
	require.NoError(t, err)
	require.Len(t, stored, 2, "duplicate (frame, segment) pair keeps the first entry")
	assert.Equal(t, 80.0, stored[0].Score)

	require.NoError(t, store.ReplaceCorrelations(ctx, "video-1", nil))
	stored, err = store.ListCorrelations(ctx, "video-1")
	require.NoError(t, err)
	assert.Empty(t, stored, "replace swaps the whole set")
}

func TestUpsertSectionsOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertSections(ctx, "video-1", []models.Section{
		{VideoID: "video-1", Order: 1, Title: "Middle"},
		{VideoID: "video-1", Order: 0, Title: "Start"},
	}))

	sections, err := store.ListSections(ctx, "video-1")
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "Start", sections[0].Title)
	assert.Equal(t, "Middle", sections[1].Title)
}

func TestSimilarFramesRanksByOverlap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateFrame(ctx, &models.Frame{
		ID: "frame-a", VideoID: "video-1", TimestampSeconds: 5,
		SceneDescription: "terminal running go test",
	}))
	require.NoError(t, store.CreateFrame(ctx, &models.Frame{
		ID: "frame-b", VideoID: "video-1", TimestampSeconds: 10,
		SceneDescription: "browser with documentation",
	}))

	results, err := store.SimilarFrames(ctx, "video-1", "go test terminal", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "frame-a", results[0].FrameID)
	assert.Greater(t, results[0].Similarity, 0.0)
}
