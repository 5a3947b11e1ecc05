package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulcanta/vidlyx/internal/correlation"
	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/ocr"
	"github.com/paulcanta/vidlyx/internal/sections"
	"github.com/paulcanta/vidlyx/internal/storage"
	"github.com/paulcanta/vidlyx/internal/vision"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExtractor synthesizes one frame per interval without touching
// ffmpeg. IDs are minted fresh on every call, like the real extractor.
type fakeExtractor struct {
	count int
	err   error
	runs  int
}

func (f *fakeExtractor) Extract(_ context.Context, video models.Video, intervalSeconds, maxFrames int) ([]models.Frame, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.runs++
	if intervalSeconds <= 0 {
		intervalSeconds = 5
	}
	n := f.count
	if maxFrames > 0 && n > maxFrames {
		n = maxFrames
	}
	frames := make([]models.Frame, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, models.Frame{
			ID:               fmt.Sprintf("frame-%d-%03d", f.runs, i),
			VideoID:          video.ID,
			TimestampSeconds: float64(i * intervalSeconds),
			Path:             fmt.Sprintf("/tmp/frames/frame-%03d.jpg", i),
		})
	}
	return frames, nil
}

// fakeOCREngine returns canned text without a tesseract install.
type fakeOCREngine struct{}

func (fakeOCREngine) Recognize(_ context.Context, _ string) (models.OCRResult, error) {
	return models.OCRResult{Text: "package pipeline", Confidence: 91.5, Words: []string{"package", "pipeline"}}, nil
}

// fakeAnalysis scripts the external model's answers.
type fakeAnalysis struct {
	mu          sync.Mutex
	frameCalls  int
	frameErr    error
	topicChange bool
}

func (f *fakeAnalysis) AnalyzeFrame(_ context.Context, _ string) (models.FrameAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameCalls++
	if f.frameErr != nil {
		return models.FrameAnalysis{}, f.frameErr
	}
	return models.FrameAnalysis{
		SceneDescription: "code editor with terminal",
		VisualElements:   []string{"editor", "terminal"},
		ContentType:      "code",
	}, nil
}

func (f *fakeAnalysis) JudgeTopicChange(_ context.Context, _, _ string) (models.TopicJudgment, error) {
	return models.TopicJudgment{Changed: f.topicChange, Confidence: 0.9}, nil
}

func (f *fakeAnalysis) GenerateSectionMetadata(_ context.Context, _ string) (models.SectionMetadata, error) {
	return models.SectionMetadata{Title: "Editor Walkthrough", Summary: "walkthrough", KeyPoints: []string{"setup"}}, nil
}

// fakeTracker records progress reports and answers cancellation checks.
type fakeTracker struct {
	mu        sync.Mutex
	percents  []int
	cancelled bool
}

func (f *fakeTracker) UpdateProgress(_ context.Context, _ string, percent int, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.percents = append(f.percents, percent)
	return nil
}

func (f *fakeTracker) Cancelled(_ context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeTracker) reported() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.percents...)
}

type fixture struct {
	orch    *Orchestrator
	store   *storage.MemoryStore
	service *fakeAnalysis
	tracker *fakeTracker
}

func newFixture(t *testing.T, ext *fakeExtractor, quota int) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	service := &fakeAnalysis{}
	tracker := &fakeTracker{}
	logger := testLogger()

	orch := NewOrchestrator(
		ext,
		ocr.NewPool(fakeOCREngine{}, store, 2, logger),
		vision.NewClient(service, store, time.Millisecond, quota, logger),
		correlation.NewEngine(store, store, logger),
		sections.NewDetector(service, store, logger),
		store,
		store,
		store,
		tracker,
		logger,
	)
	return &fixture{orch: orch, store: store, service: service, tracker: tracker}
}

func TestRunHappyPath(t *testing.T) {
	fx := newFixture(t, &fakeExtractor{count: 10}, 0)
	ctx := context.Background()

	var steps []string
	result, err := fx.orch.Run(ctx, "job-1", models.Video{ID: "video-1", Duration: 300}, Options{
		FrameInterval:    5,
		OCREnabled:       true,
		VisionEnabled:    true,
		VisionSampleRate: 2,
		OnStepChange:     func(step, _ string) { steps = append(steps, step) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{StepExtraction, StepOCR, StepVision, StepPostProcess}, steps)
	assert.Equal(t, 10, result.Stats.FramesExtracted)
	assert.Equal(t, 10, result.Stats.OCRSucceeded)
	assert.Equal(t, 0, result.Stats.OCRFailed)
	assert.Equal(t, 5, result.Stats.VisionSucceeded, "every second frame sampled")

	count, err := fx.store.CountFrames(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	// OCR and vision fields land on the same records.
	frames, err := fx.store.ListFrames(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, "package pipeline", frames[0].OnScreenText)
	assert.Equal(t, "code editor with terminal", frames[0].SceneDescription)

	assert.Equal(t, []string{
		"video-1:" + models.VideoStatusAnalyzing,
		"video-1:" + models.VideoStatusAnalyzed,
	}, fx.store.StatusCalls())
}

func TestRunProgressIsMonotone(t *testing.T) {
	fx := newFixture(t, &fakeExtractor{count: 8}, 0)

	var percents []int
	_, err := fx.orch.Run(context.Background(), "job-1", models.Video{ID: "video-1", Duration: 300}, Options{
		OCREnabled:    true,
		VisionEnabled: true,
		OnProgress:    func(percent int, _, _ string) { percents = append(percents, percent) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, percents)

	for i := 1; i < len(percents); i++ {
		require.GreaterOrEqual(t, percents[i], percents[i-1],
			"progress went backwards at report %d", i)
	}
	assert.Equal(t, 100, percents[len(percents)-1])

	tracked := fx.tracker.reported()
	for i := 1; i < len(tracked); i++ {
		require.GreaterOrEqual(t, tracked[i], tracked[i-1])
	}
}

func TestRunSkipsDisabledStages(t *testing.T) {
	fx := newFixture(t, &fakeExtractor{count: 4}, 0)

	result, err := fx.orch.Run(context.Background(), "job-1", models.Video{ID: "video-1", Duration: 120}, Options{
		OCREnabled:    false,
		VisionEnabled: false,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"skipped": true}, result.Steps[StepOCR])
	assert.Equal(t, map[string]any{"skipped": true}, result.Steps[StepVision])
	assert.Equal(t, 0, result.Stats.OCRSucceeded)
	assert.Equal(t, 0, result.Stats.VisionSucceeded)
}

func TestRunExtractionFailure(t *testing.T) {
	fx := newFixture(t, &fakeExtractor{err: errors.New("ffmpeg exited 1")}, 0)

	_, err := fx.orch.Run(context.Background(), "job-1", models.Video{ID: "video-1"}, Options{})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StepExtraction, stageErr.Stage)

	// Terminal failure status is the queue's to report, not the pipeline's.
	assert.Equal(t, []string{"video-1:" + models.VideoStatusAnalyzing}, fx.store.StatusCalls())
}

func TestRunQuotaExhaustionFallsBackToLocalSections(t *testing.T) {
	// Quota of 3 dies mid-batch; processed frames keep their results and
	// section detection switches to the interval heuristic.
	fx := newFixture(t, &fakeExtractor{count: 10}, 3)

	result, err := fx.orch.Run(context.Background(), "job-1", models.Video{ID: "video-1", Duration: 600}, Options{
		OCREnabled:    true,
		VisionEnabled: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Stats.VisionSucceeded)
	post, ok := result.Steps[StepPostProcess].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, post["usedLocalSections"])

	sectionSet, err := fx.store.ListSections(context.Background(), "video-1")
	require.NoError(t, err)
	require.Len(t, sectionSet, 5, "600s video gets ceil(600/120) local sections")
	assert.Equal(t, 0.0, sectionSet[0].StartTime)
	assert.Equal(t, 600.0, sectionSet[len(sectionSet)-1].EndTime)
	for i := 1; i < len(sectionSet); i++ {
		assert.Equal(t, sectionSet[i-1].EndTime, sectionSet[i].StartTime, "sections must be contiguous")
	}
}

func TestRunCancellation(t *testing.T) {
	fx := newFixture(t, &fakeExtractor{count: 5}, 0)
	fx.tracker.cancelled = true

	_, err := fx.orch.Run(context.Background(), "job-1", models.Video{ID: "video-1"}, Options{})
	require.ErrorIs(t, err, ErrCancelled)
}

func TestRunPartialFailureKeepsFrames(t *testing.T) {
	// A vision-stage outage after extraction and OCR leaves their results
	// in storage for the retry to reuse.
	fx := newFixture(t, &fakeExtractor{count: 6}, 0)
	fx.service.frameErr = errors.New("model endpoint unreachable")

	result, err := fx.orch.Run(context.Background(), "job-1", models.Video{ID: "video-1", Duration: 300}, Options{
		OCREnabled:    true,
		VisionEnabled: true,
	})
	require.NoError(t, err, "per-frame vision failures are counted, not fatal")
	assert.Equal(t, 6, result.Stats.VisionFailed)

	frames, err := fx.store.ListFrames(context.Background(), "video-1")
	require.NoError(t, err)
	require.Len(t, frames, 6)
	for _, frame := range frames {
		assert.Equal(t, "package pipeline", frame.OnScreenText)
	}
}

func TestRunSecondPassUpdatesFirstPassFrames(t *testing.T) {
	// A requeued job runs the whole pipeline again. Extraction mints
	// fresh frame IDs, but the stored rows keep their first-pass
	// identity and the re-run's OCR and vision output lands on them.
	fx := newFixture(t, &fakeExtractor{count: 6}, 0)
	ctx := context.Background()
	video := models.Video{ID: "video-1", Duration: 300}
	opts := Options{FrameInterval: 5, OCREnabled: true, VisionEnabled: true}

	_, err := fx.orch.Run(ctx, "job-1", video, opts)
	require.NoError(t, err)
	first, err := fx.store.ListFrames(ctx, "video-1")
	require.NoError(t, err)
	require.Len(t, first, 6)

	result, err := fx.orch.Run(ctx, "job-1", video, opts)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Stats.OCRSucceeded)
	assert.Equal(t, 0, result.Stats.OCRFailed)
	assert.Equal(t, 0, result.Stats.VisionFailed)

	second, err := fx.store.ListFrames(ctx, "video-1")
	require.NoError(t, err)
	require.Len(t, second, 6)
	for i := range second {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, "package pipeline", second[i].OnScreenText)
		if i > 0 {
			assert.Greater(t, second[i].TimestampSeconds, second[i-1].TimestampSeconds)
		}
	}
}

func TestStageProgressStaysInSpan(t *testing.T) {
	assert.Equal(t, 0, stageProgress(StepExtraction, 0, 10))
	assert.Equal(t, 40, stageProgress(StepExtraction, 10, 10))
	assert.Equal(t, 50, stageProgress(StepOCR, 5, 10))
	assert.Equal(t, 90, stageProgress(StepVision, 3, 3))
	assert.Equal(t, 40, stageProgress(StepExtraction, 5, 0), "empty stage jumps to its end")
}
