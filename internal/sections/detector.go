// Package sections turns topic-change and keyframe signals into an
// ordered, contiguous set of video sections.
package sections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/paulcanta/vidlyx/internal/analysis"
	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/storage"
)

const (
	// chunkSeconds is the fixed transcript grouping for topic judgments.
	chunkSeconds = 30.0
	// minBoundaryGap collapses boundaries closer than this, keeping the
	// earlier one. Keyframes reinforce boundaries within the same range.
	minBoundaryGap = 10.0
	// confidenceFloor rejects weak topic-change judgments.
	confidenceFloor = 0.5
)

// ErrDetectionInProgress is returned when detection is started twice for
// the same video.
var ErrDetectionInProgress = errors.New("section detection already in progress")

// State tracks per-video detection progress.
type State string

const (
	StateNoSections State = "no-sections"
	StateDetecting  State = "detecting"
	StatePersisted  State = "sections-persisted"
)

// Detector merges topic-change and keyframe signals into persisted
// sections, with a fully local path when the external service is out.
type Detector struct {
	service  analysis.Service
	fallback *analysis.Local
	store    storage.SectionStore
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]State
}

// NewDetector builds a detector using service for the primary path. The
// local heuristic path is always available as the fallback.
func NewDetector(service analysis.Service, store storage.SectionStore, logger *slog.Logger) *Detector {
	return &Detector{
		service:  service,
		fallback: analysis.NewLocal(),
		store:    store,
		logger:   logger,
		states:   make(map[string]State),
	}
}

// VideoState reports the detection state for one video.
func (d *Detector) VideoState(videoID string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok := d.states[videoID]; ok {
		return state
	}
	return StateNoSections
}

// Detect runs the full detection state machine for one video and upserts
// the resulting sections keyed by (videoID, order). Quota exhaustion
// mid-detection switches to the local path instead of failing.
func (d *Detector) Detect(ctx context.Context, videoID string, segments []models.TranscriptSegment, keyframes []float64, duration float64) ([]models.Section, error) {
	if err := d.transition(videoID, StateDetecting); err != nil {
		return nil, err
	}
	defer func() {
		// Failed runs return to no-sections so a retry can detect again.
		if d.VideoState(videoID) == StateDetecting {
			d.setState(videoID, StateNoSections)
		}
	}()

	if duration <= 0 {
		duration = lastSegmentEnd(segments)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("cannot detect sections without a video duration")
	}

	sections, err := d.primarySections(ctx, videoID, segments, keyframes, duration)
	if err != nil {
		if !errors.Is(err, analysis.ErrQuotaExceeded) {
			return nil, err
		}
		d.logger.Info("external service out of quota, using local sections", "video", videoID)
		sections = d.localSections(ctx, videoID, segments, duration)
	}

	if err := d.store.UpsertSections(ctx, videoID, sections); err != nil {
		return nil, err
	}
	d.setState(videoID, StatePersisted)
	return sections, nil
}

// DetectLocal runs only the fallback path, for callers that already know
// the external service is unavailable.
func (d *Detector) DetectLocal(ctx context.Context, videoID string, segments []models.TranscriptSegment, duration float64) ([]models.Section, error) {
	if err := d.transition(videoID, StateDetecting); err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = lastSegmentEnd(segments)
	}
	if duration <= 0 {
		d.setState(videoID, StateNoSections)
		return nil, fmt.Errorf("cannot detect sections without a video duration")
	}

	sections := d.localSections(ctx, videoID, segments, duration)
	if err := d.store.UpsertSections(ctx, videoID, sections); err != nil {
		d.setState(videoID, StateNoSections)
		return nil, err
	}
	d.setState(videoID, StatePersisted)
	return sections, nil
}

// primarySections runs the external-service path: chunked topic
// judgments, keyframe reinforcement, boundary merging, and per-interval
// metadata generation.
func (d *Detector) primarySections(ctx context.Context, videoID string, segments []models.TranscriptSegment, keyframes []float64, duration float64) ([]models.Section, error) {
	chunks := chunkTranscript(segments, chunkSeconds)

	var boundaries []float64
	for i := 1; i < len(chunks); i++ {
		judgment, err := d.service.JudgeTopicChange(ctx, chunks[i-1].text, chunks[i].text)
		if err != nil {
			return nil, err
		}
		if judgment.Changed && judgment.Confidence > confidenceFloor {
			boundaries = append(boundaries, chunks[i].start)
		}
	}

	boundaries = reinforceWithKeyframes(boundaries, keyframes, minBoundaryGap)
	boundaries = MergeBoundaries(boundaries, duration, minBoundaryGap)

	sections := make([]models.Section, 0, len(boundaries))
	for i, start := range boundaries {
		end := duration
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}

		text := transcriptBetween(segments, start, end)
		meta, err := d.service.GenerateSectionMetadata(ctx, text)
		if err != nil {
			if errors.Is(err, analysis.ErrQuotaExceeded) {
				return nil, err
			}
			// Non-quota metadata failures degrade to local metadata for
			// this interval only.
			meta, _ = d.fallback.GenerateSectionMetadata(ctx, text)
		}
		sections = append(sections, models.Section{
			VideoID:   videoID,
			Order:     i,
			Title:     meta.Title,
			StartTime: start,
			EndTime:   end,
			Summary:   meta.Summary,
			KeyPoints: meta.KeyPoints,
		})
	}
	return sections, nil
}

// localSections synthesizes equal-length sections with locally derived
// titles: N = max(3, min(10, ceil(duration/120))).
func (d *Detector) localSections(ctx context.Context, videoID string, segments []models.TranscriptSegment, duration float64) []models.Section {
	n := int(math.Ceil(duration / 120))
	if n < 3 {
		n = 3
	}
	if n > 10 {
		n = 10
	}

	length := duration / float64(n)
	sections := make([]models.Section, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * length
		end := start + length
		if i == n-1 {
			end = duration
		}

		text := transcriptBetween(segments, start, end)
		meta, _ := d.fallback.GenerateSectionMetadata(ctx, text)
		sections = append(sections, models.Section{
			VideoID:   videoID,
			Order:     i,
			Title:     meta.Title,
			StartTime: start,
			EndTime:   end,
			Summary:   meta.Summary,
			KeyPoints: []string{},
		})
	}
	return sections
}

func (d *Detector) transition(videoID string, to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	from, ok := d.states[videoID]
	if !ok {
		from = StateNoSections
	}
	if to == StateDetecting && from == StateDetecting {
		return ErrDetectionInProgress
	}
	d.states[videoID] = to
	return nil
}

func (d *Detector) setState(videoID string, state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[videoID] = state
}

// chunk is a fixed-width transcript window.
type chunk struct {
	start float64
	text  string
}

// chunkTranscript groups segments into fixed-width windows by start time.
func chunkTranscript(segments []models.TranscriptSegment, width float64) []chunk {
	if len(segments) == 0 {
		return nil
	}

	byIndex := make(map[int][]string)
	maxIndex := 0
	for _, segment := range segments {
		idx := int(segment.Start / width)
		byIndex[idx] = append(byIndex[idx], segment.Text)
		if idx > maxIndex {
			maxIndex = idx
		}
	}

	chunks := make([]chunk, 0, maxIndex+1)
	for i := 0; i <= maxIndex; i++ {
		chunks = append(chunks, chunk{
			start: float64(i) * width,
			text:  strings.Join(byIndex[i], " "),
		})
	}
	return chunks
}

// reinforceWithKeyframes snaps each boundary to the nearest keyframe
// within tolerance, anchoring topic changes to visual cuts.
func reinforceWithKeyframes(boundaries, keyframes []float64, tolerance float64) []float64 {
	if len(keyframes) == 0 {
		return boundaries
	}
	out := make([]float64, len(boundaries))
	for i, b := range boundaries {
		best := b
		bestDist := tolerance
		for _, kf := range keyframes {
			if d := math.Abs(kf - b); d <= bestDist {
				best = kf
				bestDist = d
			}
		}
		out[i] = best
	}
	return out
}

// MergeBoundaries produces the final sorted boundary list: zero is always
// present, duplicates and out-of-range values drop, and boundaries closer
// than minGap collapse keeping the earlier one.
func MergeBoundaries(boundaries []float64, duration, minGap float64) []float64 {
	candidates := append([]float64{0}, boundaries...)
	sort.Float64s(candidates)

	merged := []float64{0}
	for _, b := range candidates {
		if b <= 0 || b >= duration {
			continue
		}
		if b-merged[len(merged)-1] < minGap {
			continue
		}
		merged = append(merged, b)
	}
	return merged
}

func transcriptBetween(segments []models.TranscriptSegment, start, end float64) string {
	var parts []string
	for _, segment := range segments {
		mid := (segment.Start + segment.End) / 2
		if mid >= start && mid < end {
			parts = append(parts, segment.Text)
		}
	}
	return strings.Join(parts, " ")
}

func lastSegmentEnd(segments []models.TranscriptSegment) float64 {
	var end float64
	for _, segment := range segments {
		if segment.End > end {
			end = segment.End
		}
	}
	return end
}
