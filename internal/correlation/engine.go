// Package correlation scores and links frames to transcript segments.
//
// The default scorer is deterministic token overlap: the fraction of a
// segment's significant spoken tokens that also appear in the frame's OCR
// text, scene description, or visual elements, scaled to 0-100. The
// scorer is pluggable for callers wanting a semantic model instead.
package correlation

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/paulcanta/vidlyx/internal/embeddings"
	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/storage"
)

const (
	// defaultWindow expands each segment's search interval on both sides.
	defaultWindow = 5.0
	// persistThreshold drops low-confidence correlations.
	persistThreshold = 30.0
	// minTokenLen filters trivial words out of scoring.
	minTokenLen = 4
)

// Scorer computes a 0-100 correlation score and the matched elements.
type Scorer interface {
	Score(segment models.TranscriptSegment, frame models.Frame) (float64, []string)
}

// Engine builds and queries frame/segment correlations for a video.
type Engine struct {
	frames       storage.FrameStore
	correlations storage.CorrelationStore
	scorer       Scorer
	window       float64
	logger       *slog.Logger
}

// NewEngine creates a correlation engine with the token-overlap scorer.
func NewEngine(frames storage.FrameStore, correlations storage.CorrelationStore, logger *slog.Logger) *Engine {
	return &Engine{
		frames:       frames,
		correlations: correlations,
		scorer:       TokenOverlap{},
		window:       defaultWindow,
		logger:       logger,
	}
}

// SetScorer swaps the scoring function.
func (e *Engine) SetScorer(scorer Scorer) {
	e.scorer = scorer
}

// Correlate scores every frame within each segment's expanded window and
// replaces the video's persisted correlation set with those above the
// confidence threshold.
func (e *Engine) Correlate(ctx context.Context, videoID string, segments []models.TranscriptSegment) ([]models.Correlation, error) {
	frames, err := e.frames.ListFrames(ctx, videoID)
	if err != nil {
		return nil, err
	}

	seen := make(map[correlationKey]bool)
	var kept []models.Correlation
	for _, segment := range segments {
		lo := segment.Start - e.window
		hi := segment.End + e.window
		for _, frame := range frames {
			if frame.TimestampSeconds < lo || frame.TimestampSeconds > hi {
				continue
			}
			score, matched := e.scorer.Score(segment, frame)
			if score <= persistThreshold {
				continue
			}
			key := correlationKey{frame.ID, segment.Start, segment.End}
			if seen[key] {
				continue
			}
			seen[key] = true
			kept = append(kept, models.Correlation{
				FrameID:          frame.ID,
				VideoID:          videoID,
				SegmentStart:     segment.Start,
				SegmentEnd:       segment.End,
				Score:            clampScore(score),
				MatchingElements: matched,
			})
		}
	}

	if err := e.correlations.ReplaceCorrelations(ctx, videoID, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

type correlationKey struct {
	frameID string
	start   float64
	end     float64
}

// BestFrameForTime picks the best correlated frame whose segment window
// contains t, tie-breaking by score then timestamp distance. With no
// matching correlation it falls back to the nearest frame by time.
func (e *Engine) BestFrameForTime(ctx context.Context, videoID string, t float64) (*models.Frame, error) {
	frames, err := e.frames.ListFrames(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, storage.ErrNotFound
	}
	byID := make(map[string]*models.Frame, len(frames))
	for i := range frames {
		byID[frames[i].ID] = &frames[i]
	}

	var best *models.Frame
	var bestScore, bestDist float64
	for _, c := range e.listOrEmpty(ctx, videoID) {
		if t < c.SegmentStart || t > c.SegmentEnd {
			continue
		}
		frame, ok := byID[c.FrameID]
		if !ok {
			continue
		}
		dist := math.Abs(frame.TimestampSeconds - t)
		if best == nil || c.Score > bestScore || (c.Score == bestScore && dist < bestDist) {
			best = frame
			bestScore = c.Score
			bestDist = dist
		}
	}
	if best != nil {
		return best, nil
	}

	// No correlated segment covers t; nearest frame by absolute distance.
	nearest := &frames[0]
	nearestDist := math.Abs(frames[0].TimestampSeconds - t)
	for i := 1; i < len(frames); i++ {
		if d := math.Abs(frames[i].TimestampSeconds - t); d < nearestDist {
			nearest = &frames[i]
			nearestDist = d
		}
	}
	return nearest, nil
}

// FramesForSegment returns the frames correlated to one exact segment,
// strongest first. A video with no correlations yields an empty slice.
func (e *Engine) FramesForSegment(ctx context.Context, videoID string, start, end float64) ([]models.Frame, error) {
	frames, err := e.frames.ListFrames(ctx, videoID)
	if err != nil {
		return []models.Frame{}, nil
	}
	byID := make(map[string]models.Frame, len(frames))
	for _, f := range frames {
		byID[f.ID] = f
	}

	type scored struct {
		frame models.Frame
		score float64
	}
	var hits []scored
	for _, c := range e.listOrEmpty(ctx, videoID) {
		if c.SegmentStart != start || c.SegmentEnd != end {
			continue
		}
		if frame, ok := byID[c.FrameID]; ok {
			hits = append(hits, scored{frame, c.Score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	result := make([]models.Frame, 0, len(hits))
	for _, h := range hits {
		result = append(result, h.frame)
	}
	return result, nil
}

// SegmentsForFrame returns every correlation touching one frame, ordered
// by segment start. Missing correlation data yields an empty slice.
func (e *Engine) SegmentsForFrame(ctx context.Context, videoID, frameID string) ([]models.Correlation, error) {
	var result []models.Correlation
	for _, c := range e.listOrEmpty(ctx, videoID) {
		if c.FrameID == frameID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SegmentStart < result[j].SegmentStart })
	if result == nil {
		result = []models.Correlation{}
	}
	return result, nil
}

// listOrEmpty treats correlation lookup failures as an empty result set;
// they are never propagated to callers.
func (e *Engine) listOrEmpty(ctx context.Context, videoID string) []models.Correlation {
	correlations, err := e.correlations.ListCorrelations(ctx, videoID)
	if err != nil {
		e.logger.Warn("correlation lookup failed, treating as empty",
			"video", videoID, "error", err)
		return nil
	}
	return correlations
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// TokenOverlap scores segments against frames by shared significant tokens.
type TokenOverlap struct{}

// Score returns 100 times the fraction of significant spoken tokens found
// in the frame's OCR text, scene description, or visual elements.
func (TokenOverlap) Score(segment models.TranscriptSegment, frame models.Frame) (float64, []string) {
	spoken := significantTokens(segment.Text)
	if len(spoken) == 0 {
		return 0, nil
	}

	frameTokens := make(map[string]bool)
	for _, token := range embeddings.Tokenize(frame.OnScreenText) {
		frameTokens[token] = true
	}
	for _, token := range embeddings.Tokenize(frame.SceneDescription) {
		frameTokens[token] = true
	}
	for _, element := range frame.VisualElements {
		for _, token := range embeddings.Tokenize(element) {
			frameTokens[token] = true
		}
	}

	var matched []string
	for token := range spoken {
		if frameTokens[token] {
			matched = append(matched, token)
		}
	}
	sort.Strings(matched)
	return 100 * float64(len(matched)) / float64(len(spoken)), matched
}

func significantTokens(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, token := range embeddings.Tokenize(text) {
		if len(token) >= minTokenLen {
			tokens[token] = true
		}
	}
	return tokens
}
