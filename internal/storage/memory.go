package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paulcanta/vidlyx/internal/models"
)

// MemoryStore is an in-process implementation of every store interface.
// It backs the channel queue's fallback mode and the test suites.
type MemoryStore struct {
	mu           sync.RWMutex
	frames       map[string]*models.Frame   // by frame id
	frameOrder   map[string][]string        // video id -> frame ids by timestamp
	jobs         map[string]*models.Job     // by job id
	jobOrder     []string                   // creation order
	correlations map[string][]models.Correlation
	sections     map[string][]models.Section
	transcripts  map[string][]models.TranscriptSegment
	statuses     map[string]string
	statusCalls  []string // "videoID:status" in call order
	now          func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		frames:       make(map[string]*models.Frame),
		frameOrder:   make(map[string][]string),
		jobs:         make(map[string]*models.Job),
		correlations: make(map[string][]models.Correlation),
		sections:     make(map[string][]models.Section),
		transcripts:  make(map[string][]models.TranscriptSegment),
		statuses:     make(map[string]string),
		now:          time.Now,
	}
}

// SetClock overrides the time source, for tests exercising backoff and
// stall detection.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateFrame persists a newly extracted frame. A re-run extracts the
// same timestamps under fresh IDs, so creation conflicts on
// (video, timestamp): the stored row is updated and its canonical ID is
// written back into frame so later per-frame updates land on it.
func (s *MemoryStore) CreateFrame(_ context.Context, frame *models.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.frameOrder[frame.VideoID] {
		existing := s.frames[id]
		if existing.TimestampSeconds == frame.TimestampSeconds {
			existing.Path = frame.Path
			existing.IsKeyframe = frame.IsKeyframe
			frame.ID = existing.ID
			return nil
		}
	}

	cp := *frame
	s.frames[frame.ID] = &cp
	s.frameOrder[frame.VideoID] = append(s.frameOrder[frame.VideoID], frame.ID)

	ids := s.frameOrder[frame.VideoID]
	sort.Slice(ids, func(i, j int) bool {
		return s.frames[ids[i]].TimestampSeconds < s.frames[ids[j]].TimestampSeconds
	})
	return nil
}

// ListFrames returns all frames for a video ordered by timestamp.
func (s *MemoryStore) ListFrames(_ context.Context, videoID string) ([]models.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frames := make([]models.Frame, 0, len(s.frameOrder[videoID]))
	for _, id := range s.frameOrder[videoID] {
		frames = append(frames, *s.frames[id])
	}
	return frames, nil
}

// UpsertFrameFields applies a partial update to one frame.
func (s *MemoryStore) UpsertFrameFields(_ context.Context, frameID string, fields models.FrameFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, ok := s.frames[frameID]
	if !ok {
		return ErrNotFound
	}
	if fields.OnScreenText != nil {
		frame.OnScreenText = *fields.OnScreenText
	}
	if fields.OCRConfidence != nil {
		frame.OCRConfidence = *fields.OCRConfidence
	}
	if fields.Words != nil {
		frame.Words = append([]string(nil), fields.Words...)
	}
	if fields.SceneDescription != nil {
		frame.SceneDescription = *fields.SceneDescription
	}
	if fields.VisualElements != nil {
		frame.VisualElements = append([]string(nil), fields.VisualElements...)
	}
	if fields.ContentType != nil {
		frame.ContentType = *fields.ContentType
	}
	if fields.IsKeyframe != nil {
		frame.IsKeyframe = *fields.IsKeyframe
	}
	return nil
}

// CountFrames returns the number of frames stored for a video.
func (s *MemoryStore) CountFrames(_ context.Context, videoID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frameOrder[videoID]), nil
}

// SimilarFrames does a token-overlap scan over scene descriptions. The
// Postgres store answers the same question with pgvector.
func (s *MemoryStore) SimilarFrames(ctx context.Context, videoID string, query string, limit int) ([]models.FrameSearchResult, error) {
	frames, _ := s.ListFrames(ctx, videoID)

	queryTokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(query)) {
		queryTokens[t] = true
	}

	var results []models.FrameSearchResult
	for _, f := range frames {
		matched := 0
		tokens := strings.Fields(strings.ToLower(f.SceneDescription + " " + f.OnScreenText))
		for _, t := range tokens {
			if queryTokens[t] {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, models.FrameSearchResult{
			FrameID:          f.ID,
			TimestampSeconds: f.TimestampSeconds,
			SceneDescription: f.SceneDescription,
			Similarity:       float64(matched) / float64(len(queryTokens)),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CreateJob persists a new job record.
func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.jobs[job.ID] = &cp
	s.jobOrder = append(s.jobOrder, job.ID)
	return nil
}

// GetJob fetches one job by id.
func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// NextPendingJob claims the oldest due pending job.
func (s *MemoryStore) NextPendingJob(_ context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range s.jobOrder {
		job := s.jobs[id]
		if job.Status != models.JobStatusPending || job.RunAt.After(now) {
			continue
		}
		job.Status = models.JobStatusProcessing
		started := now
		job.StartedAt = &started
		job.HeartbeatAt = now
		job.Attempt++
		cp := *job
		return &cp, nil
	}
	return nil, ErrNotFound
}

// UpdateJobProgress writes progress and an optional partial result,
// keeping progress monotone while the job is processing.
func (s *MemoryStore) UpdateJobProgress(_ context.Context, id string, progress int, partial map[string]any) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d outside [0,100]", progress)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return ErrNotFound
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	if partial != nil {
		job.Result = partial
	}
	job.HeartbeatAt = s.now()
	return nil
}

// CompleteJob moves a processing job to completed.
func (s *MemoryStore) CompleteJob(_ context.Context, id string, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return ErrNotFound
	}
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.Result = result
	done := s.now()
	job.CompletedAt = &done
	return nil
}

// FailJob moves a job to failed with the triggering error message.
func (s *MemoryStore) FailJob(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || (job.Status != models.JobStatusPending && job.Status != models.JobStatusProcessing) {
		return ErrNotFound
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = errMsg
	done := s.now()
	job.CompletedAt = &done
	return nil
}

// RequeueJob returns a processing job to pending for another attempt.
func (s *MemoryStore) RequeueJob(_ context.Context, id string, runAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return ErrNotFound
	}
	job.Status = models.JobStatusPending
	job.RunAt = time.Unix(runAt, 0)
	job.StartedAt = nil
	return nil
}

// CancelJob marks a pending or processing job cancelled.
func (s *MemoryStore) CancelJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || (job.Status != models.JobStatusPending && job.Status != models.JobStatusProcessing) {
		return ErrNotFound
	}
	job.Status = models.JobStatusCancelled
	done := s.now()
	job.CompletedAt = &done
	return nil
}

// Heartbeat records liveness for a processing job.
func (s *MemoryStore) Heartbeat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok && job.Status == models.JobStatusProcessing {
		job.HeartbeatAt = s.now()
	}
	return nil
}

// StalledJobs returns processing jobs whose heartbeat is older than maxAgeSeconds.
func (s *MemoryStore) StalledJobs(_ context.Context, maxAgeSeconds int) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-time.Duration(maxAgeSeconds) * time.Second)
	var stalled []models.Job
	for _, id := range s.jobOrder {
		job := s.jobs[id]
		if job.Status == models.JobStatusProcessing && job.HeartbeatAt.Before(cutoff) {
			stalled = append(stalled, *job)
		}
	}
	return stalled, nil
}

// CountJobsByStatus returns job counts keyed by status.
func (s *MemoryStore) CountJobsByStatus(_ context.Context) (map[models.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// CountDelayedJobs returns pending jobs scheduled in the future.
func (s *MemoryStore) CountDelayedJobs(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	count := 0
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending && job.RunAt.After(now) {
			count++
		}
	}
	return count, nil
}

// ReplaceCorrelations swaps a video's correlation set.
func (s *MemoryStore) ReplaceCorrelations(_ context.Context, videoID string, correlations []models.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[[3]any]bool)
	kept := make([]models.Correlation, 0, len(correlations))
	for _, c := range correlations {
		key := [3]any{c.FrameID, c.SegmentStart, c.SegmentEnd}
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, c)
	}
	s.correlations[videoID] = kept
	return nil
}

// ListCorrelations returns the persisted correlation set for a video.
func (s *MemoryStore) ListCorrelations(_ context.Context, videoID string) ([]models.Correlation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Correlation(nil), s.correlations[videoID]...), nil
}

// UpsertSections overwrites a video's section set.
func (s *MemoryStore) UpsertSections(_ context.Context, videoID string, sections []models.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := append([]models.Section(nil), sections...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Order < cp[j].Order })
	s.sections[videoID] = cp
	return nil
}

// ListSections returns a video's sections ordered by position.
func (s *MemoryStore) ListSections(_ context.Context, videoID string) ([]models.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Section(nil), s.sections[videoID]...), nil
}

// SetTranscript seeds transcript segments for a video.
func (s *MemoryStore) SetTranscript(videoID string, segments []models.TranscriptSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]models.TranscriptSegment(nil), segments...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Start < cp[j].Start })
	s.transcripts[videoID] = cp
}

// Segments returns a video's transcript segments ordered by start time.
func (s *MemoryStore) Segments(_ context.Context, videoID string) ([]models.TranscriptSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TranscriptSegment(nil), s.transcripts[videoID]...), nil
}

// SetVideoStatus records the subject status and logs the call.
func (s *MemoryStore) SetVideoStatus(_ context.Context, videoID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[videoID] = status
	s.statusCalls = append(s.statusCalls, videoID+":"+status)
	return nil
}

// VideoStatus returns the last recorded status for a video.
func (s *MemoryStore) VideoStatus(videoID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[videoID]
}

// StatusCalls returns every SetVideoStatus invocation in order.
func (s *MemoryStore) StatusCalls() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.statusCalls...)
}
