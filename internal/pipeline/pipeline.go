// Package pipeline sequences frame extraction, OCR, vision analysis, and
// post-processing (correlation + section detection) as one resumable job.
//
// Stages run strictly in order and hand off through storage, never
// in-memory, so a requeued job can re-execute any stage safely. Progress
// is a single monotone 0-100 value weighted per stage: extraction 0-40,
// OCR 40-60, vision 60-90, post-process 90-100.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulcanta/vidlyx/internal/correlation"
	"github.com/paulcanta/vidlyx/internal/extractor"
	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/ocr"
	"github.com/paulcanta/vidlyx/internal/sections"
	"github.com/paulcanta/vidlyx/internal/storage"
	"github.com/paulcanta/vidlyx/internal/vision"
)

// Pipeline steps in execution order.
const (
	StepExtraction  = "extraction"
	StepOCR         = "ocr"
	StepVision      = "vision"
	StepPostProcess = "post_process"
)

// Stage progress windows. Each stage fills its own span; skipped stages
// jump straight to their end so progress stays monotone either way.
var stageSpans = map[string][2]int{
	StepExtraction:  {0, 40},
	StepOCR:         {40, 60},
	StepVision:      {60, 90},
	StepPostProcess: {90, 100},
}

// ErrCancelled unwinds a run after a cooperative cancellation check.
var ErrCancelled = errors.New("pipeline cancelled")

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Options controls one pipeline run.
type Options struct {
	FrameInterval    int
	MaxFrames        int // 0 = no cap
	OCREnabled       bool
	VisionEnabled    bool
	VisionSampleRate int

	// OnProgress fires at least once per stage and on each per-frame
	// sub-unit of work. Percent is monotone across the whole run.
	OnProgress func(percent int, step string, message string)

	// OnStepChange fires once at the start of each executed stage.
	OnStepChange func(step string, label string)
}

// Stats aggregates per-frame outcomes across the run.
type Stats struct {
	FramesExtracted int `json:"framesExtracted"`
	OCRSucceeded    int `json:"ocrSucceeded"`
	OCRFailed       int `json:"ocrFailed"`
	VisionSucceeded int `json:"visionSucceeded"`
	VisionFailed    int `json:"visionFailed"`
}

// Result is the aggregate outcome of one run.
type Result struct {
	Steps     map[string]any `json:"steps"`
	Stats     Stats          `json:"stats"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
}

// JobTracker is the queue surface the orchestrator reports through.
type JobTracker interface {
	UpdateProgress(ctx context.Context, jobID string, percent int, partial map[string]any) error
	Cancelled(ctx context.Context, jobID string) bool
}

// Orchestrator wires the stages to their stores and collaborators.
type Orchestrator struct {
	extractor   extractor.Service
	ocrPool     *ocr.Pool
	vision      *vision.Client
	correlator  *correlation.Engine
	detector    *sections.Detector
	frames      storage.FrameStore
	transcripts storage.TranscriptStore
	status      storage.VideoStatusReporter
	tracker     JobTracker
	logger      *slog.Logger
}

// NewOrchestrator builds a pipeline over explicit collaborators; tests
// substitute fakes for any of them.
func NewOrchestrator(
	ext extractor.Service,
	ocrPool *ocr.Pool,
	visionClient *vision.Client,
	correlator *correlation.Engine,
	detector *sections.Detector,
	frames storage.FrameStore,
	transcripts storage.TranscriptStore,
	status storage.VideoStatusReporter,
	tracker JobTracker,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		extractor:   ext,
		ocrPool:     ocrPool,
		vision:      visionClient,
		correlator:  correlator,
		detector:    detector,
		frames:      frames,
		transcripts: transcripts,
		status:      status,
		tracker:     tracker,
		logger:      logger,
	}
}

// Run executes the full pipeline for one video under one job. A stage
// failure aborts the remaining stages without rolling back artifacts the
// earlier stages already persisted.
func (o *Orchestrator) Run(ctx context.Context, jobID string, video models.Video, opts Options) (*Result, error) {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 5
	}
	if opts.VisionSampleRate <= 0 {
		opts.VisionSampleRate = 1
	}

	run := &runState{orch: o, jobID: jobID, opts: opts}
	result := &Result{
		Steps:     make(map[string]any),
		StartTime: time.Now(),
	}

	o.reportStatus(ctx, video.ID, models.VideoStatusAnalyzing)

	frames, err := o.runExtraction(ctx, run, video, result)
	if err != nil {
		return nil, &StageError{Stage: StepExtraction, Err: err}
	}

	if err := o.runOCR(ctx, run, frames, result); err != nil {
		return nil, &StageError{Stage: StepOCR, Err: err}
	}

	quotaExhausted, err := o.runVision(ctx, run, frames, result)
	if err != nil {
		return nil, &StageError{Stage: StepVision, Err: err}
	}

	if err := o.runPostProcess(ctx, run, video, quotaExhausted, result); err != nil {
		return nil, &StageError{Stage: StepPostProcess, Err: err}
	}

	result.EndTime = time.Now()
	run.report(ctx, 100, StepPostProcess, "analysis complete")
	o.reportStatus(ctx, video.ID, models.VideoStatusAnalyzed)
	return result, nil
}

// runExtraction extracts frames and persists each record.
func (o *Orchestrator) runExtraction(ctx context.Context, run *runState, video models.Video, result *Result) ([]models.Frame, error) {
	if err := run.checkpoint(ctx); err != nil {
		return nil, err
	}
	run.stepChange(StepExtraction, "Extracting frames")
	run.report(ctx, 0, StepExtraction, "starting frame extraction")

	started := time.Now()
	frames, err := o.extractor.Extract(ctx, video, run.opts.FrameInterval, run.opts.MaxFrames)
	if err != nil {
		return nil, err
	}

	for i := range frames {
		if err := run.checkpoint(ctx); err != nil {
			return nil, err
		}
		// The store writes the canonical frame ID back into the slice, so
		// an extraction re-run updates the rows of the first pass.
		if err := o.frames.CreateFrame(ctx, &frames[i]); err != nil {
			return nil, err
		}
		run.report(ctx, stageProgress(StepExtraction, i+1, len(frames)),
			StepExtraction, fmt.Sprintf("stored frame %d/%d", i+1, len(frames)))
	}

	result.Stats.FramesExtracted = len(frames)
	result.Steps[StepExtraction] = map[string]any{
		"frames":     len(frames),
		"durationMs": time.Since(started).Milliseconds(),
	}
	run.report(ctx, stageEnd(StepExtraction), StepExtraction,
		fmt.Sprintf("extracted %d frames", len(frames)))
	return frames, nil
}

// runOCR fans the frames across the OCR pool. Per-frame failures are
// counted, never fatal.
func (o *Orchestrator) runOCR(ctx context.Context, run *runState, frames []models.Frame, result *Result) error {
	if !run.opts.OCREnabled {
		run.report(ctx, stageEnd(StepOCR), StepOCR, "ocr disabled, skipping")
		result.Steps[StepOCR] = map[string]any{"skipped": true}
		return nil
	}
	if err := run.checkpoint(ctx); err != nil {
		return err
	}
	run.stepChange(StepOCR, "Reading on-screen text")
	run.report(ctx, stageStart(StepOCR), StepOCR, "starting ocr")

	var done atomic.Int64
	batch := o.ocrPool.ProcessFrames(ctx, frames, func(frame models.Frame, err error) {
		n := int(done.Add(1))
		run.report(ctx, stageProgress(StepOCR, n, len(frames)),
			StepOCR, fmt.Sprintf("ocr %d/%d", n, len(frames)))
	})

	result.Stats.OCRSucceeded = batch.Succeeded
	result.Stats.OCRFailed = batch.Failed
	result.Steps[StepOCR] = batch
	return nil
}

// runVision analyzes sampled frames serially. Quota exhaustion is
// recoverable and reported to the caller, not an error.
func (o *Orchestrator) runVision(ctx context.Context, run *runState, frames []models.Frame, result *Result) (bool, error) {
	if !run.opts.VisionEnabled {
		run.report(ctx, stageEnd(StepVision), StepVision, "vision disabled, skipping")
		result.Steps[StepVision] = map[string]any{"skipped": true}
		return false, nil
	}
	if err := run.checkpoint(ctx); err != nil {
		return false, err
	}
	run.stepChange(StepVision, "Analyzing frames")
	run.report(ctx, stageStart(StepVision), StepVision, "starting vision analysis")

	sampled := vision.SampleFrames(frames, run.opts.VisionSampleRate, run.opts.MaxFrames)

	var done int
	batch := o.vision.ProcessFrames(ctx, sampled, func(frame models.Frame, err error) {
		done++
		run.report(ctx, stageProgress(StepVision, done, len(sampled)),
			StepVision, fmt.Sprintf("vision %d/%d", done, len(sampled)))
	})

	result.Stats.VisionSucceeded = batch.Succeeded
	result.Stats.VisionFailed = batch.Failed
	result.Steps[StepVision] = batch
	return batch.QuotaExhausted, nil
}

// runPostProcess correlates frames to the transcript and detects sections.
func (o *Orchestrator) runPostProcess(ctx context.Context, run *runState, video models.Video, quotaExhausted bool, result *Result) error {
	if err := run.checkpoint(ctx); err != nil {
		return err
	}
	run.stepChange(StepPostProcess, "Correlating transcript and detecting sections")
	run.report(ctx, stageStart(StepPostProcess), StepPostProcess, "starting post-processing")

	segments, err := o.transcripts.Segments(ctx, video.ID)
	if err != nil {
		// Missing transcripts degrade correlation to nothing and force
		// interval-based sections; the job itself still succeeds.
		o.logger.Warn("transcript unavailable", "video", video.ID, "error", err)
		segments = nil
	}

	// Re-read frames so correlation sees the OCR and vision fields the
	// earlier stages committed.
	frames, err := o.frames.ListFrames(ctx, video.ID)
	if err != nil {
		return err
	}

	correlations, err := o.correlator.Correlate(ctx, video.ID, segments)
	if err != nil {
		return err
	}
	run.report(ctx, 95, StepPostProcess,
		fmt.Sprintf("persisted %d correlations", len(correlations)))

	if err := run.checkpoint(ctx); err != nil {
		return err
	}

	var keyframes []float64
	for _, frame := range frames {
		if frame.IsKeyframe {
			keyframes = append(keyframes, frame.TimestampSeconds)
		}
	}

	var sectionSet []models.Section
	if quotaExhausted {
		sectionSet, err = o.detector.DetectLocal(ctx, video.ID, segments, video.Duration)
	} else {
		sectionSet, err = o.detector.Detect(ctx, video.ID, segments, keyframes, video.Duration)
	}
	if err != nil {
		return err
	}

	result.Steps[StepPostProcess] = map[string]any{
		"correlations":      len(correlations),
		"sections":          len(sectionSet),
		"usedLocalSections": quotaExhausted,
	}
	return nil
}

// reportStatus notifies the subject-status collaborator; failures are
// logged, never fatal.
func (o *Orchestrator) reportStatus(ctx context.Context, videoID, status string) {
	if err := o.status.SetVideoStatus(ctx, videoID, status); err != nil {
		o.logger.Warn("failed to report video status",
			"video", videoID, "status", status, "error", err)
	}
}

// runState carries per-run progress bookkeeping. OCR workers report
// concurrently, so the percent guard is locked.
type runState struct {
	orch        *Orchestrator
	jobID       string
	opts        Options
	mu          sync.Mutex
	lastPercent int
}

// report emits a monotone progress update to both the callback and the
// job record. Persistence failures are logged and absorbed.
func (r *runState) report(ctx context.Context, percent int, step, message string) {
	r.mu.Lock()
	if percent < r.lastPercent {
		percent = r.lastPercent
	}
	r.lastPercent = percent
	r.mu.Unlock()

	if r.opts.OnProgress != nil {
		r.opts.OnProgress(percent, step, message)
	}
	if r.jobID == "" {
		return
	}
	if err := r.orch.tracker.UpdateProgress(ctx, r.jobID, percent, nil); err != nil {
		r.orch.logger.Warn("failed to persist job progress",
			"job", r.jobID, "percent", percent, "error", err)
	}
}

func (r *runState) stepChange(step, label string) {
	if r.opts.OnStepChange != nil {
		r.opts.OnStepChange(step, label)
	}
}

// checkpoint is the cooperative cancellation check run at stage and
// sub-step boundaries before committing writes.
func (r *runState) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.jobID != "" && r.orch.tracker.Cancelled(ctx, r.jobID) {
		return ErrCancelled
	}
	return nil
}

func stageStart(step string) int { return stageSpans[step][0] }
func stageEnd(step string) int   { return stageSpans[step][1] }

// stageProgress maps done/total onto the stage's progress window.
func stageProgress(step string, done, total int) int {
	span := stageSpans[step]
	if total <= 0 {
		return span[1]
	}
	return span[0] + (span[1]-span[0])*done/total
}
