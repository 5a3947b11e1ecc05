// Package vision drives the external frame-understanding service over a
// video's sampled frames. Calls are strictly serialized: the rate limit
// and daily quota are shared process-wide, so pooling would only move the
// wait from one place to another.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/paulcanta/vidlyx/internal/analysis"
	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/storage"
)

// DefaultCallSpacing models a ~15-calls/minute external budget.
const DefaultCallSpacing = 4 * time.Second

// BatchResult summarizes one vision pass over a video's sampled frames.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`

	// QuotaExhausted is set when the daily quota ran out mid-batch. The
	// frames analyzed before exhaustion keep their results.
	QuotaExhausted bool `json:"quotaExhausted"`
}

// Client wraps an analysis.Service with spacing and quota enforcement.
type Client struct {
	service analysis.Service
	frames  storage.FrameStore
	limiter *rate.Limiter
	logger  *slog.Logger

	// callMu serializes service calls; mu guards only the quota counters
	// so quota reads never stall behind call spacing.
	callMu sync.Mutex

	mu       sync.Mutex
	quota    int
	used     int
	quotaDay string
	now      func() time.Time
}

// NewClient builds a vision client. spacing <= 0 uses DefaultCallSpacing;
// dailyQuota <= 0 means unlimited.
func NewClient(service analysis.Service, frames storage.FrameStore, spacing time.Duration, dailyQuota int, logger *slog.Logger) *Client {
	if spacing <= 0 {
		spacing = DefaultCallSpacing
	}
	return &Client{
		service: service,
		frames:  frames,
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
		logger:  logger,
		quota:   dailyQuota,
		now:     time.Now,
	}
}

// SetClock overrides the quota clock, for tests.
func (c *Client) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SampleFrames selects every sampleRate-th frame up to maxFrames. The
// analyzed count is min(maxFrames, ceil(len(frames)/sampleRate)).
func SampleFrames(frames []models.Frame, sampleRate, maxFrames int) []models.Frame {
	if sampleRate < 1 {
		sampleRate = 1
	}
	sampled := make([]models.Frame, 0, (len(frames)+sampleRate-1)/sampleRate)
	for i := 0; i < len(frames); i += sampleRate {
		sampled = append(sampled, frames[i])
	}
	if maxFrames > 0 && len(sampled) > maxFrames {
		sampled = sampled[:maxFrames]
	}
	return sampled
}

// ProcessFrames analyzes each frame in order. Individual failures are
// counted and the batch continues; quota exhaustion stops the batch and
// is reported on the result rather than as an error.
func (c *Client) ProcessFrames(ctx context.Context, frames []models.Frame, onFrame func(frame models.Frame, err error)) BatchResult {
	result := BatchResult{Total: len(frames)}

	for _, frame := range frames {
		err := c.analyzeFrame(ctx, frame)
		if errors.Is(err, analysis.ErrQuotaExceeded) {
			c.logger.Warn("vision quota exhausted, stopping batch",
				"analyzed", result.Processed, "total", result.Total)
			result.QuotaExhausted = true
			break
		}
		result.Processed++
		if err != nil {
			result.Failed++
			c.logger.Warn("vision analysis failed for frame",
				"frame", frame.ID,
				"timestamp", frame.TimestampSeconds,
				"error", err)
		} else {
			result.Succeeded++
		}
		if onFrame != nil {
			onFrame(frame, err)
		}
	}
	return result
}

// analyzeFrame makes one serialized, rate-limited service call and
// commits the vision fields.
func (c *Client) analyzeFrame(ctx context.Context, frame models.Frame) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	err := c.reserveQuota()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	frameAnalysis, err := c.service.AnalyzeFrame(ctx, frame.Path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	elements := frameAnalysis.VisualElements
	if elements == nil {
		elements = []string{}
	}
	return c.frames.UpsertFrameFields(ctx, frame.ID, models.FrameFields{
		SceneDescription: &frameAnalysis.SceneDescription,
		VisualElements:   elements,
		ContentType:      &frameAnalysis.ContentType,
	})
}

// reserveQuota consumes one unit of the daily budget, resetting the
// counter on UTC date change. Callers must hold c.mu.
func (c *Client) reserveQuota() error {
	if c.quota <= 0 {
		return nil
	}
	day := c.now().UTC().Format("2006-01-02")
	if day != c.quotaDay {
		c.quotaDay = day
		c.used = 0
	}
	if c.used >= c.quota {
		return fmt.Errorf("%w: %d calls used today", analysis.ErrQuotaExceeded, c.used)
	}
	c.used++
	return nil
}

// RemainingQuota reports how many calls are left today; -1 means unlimited.
func (c *Client) RemainingQuota() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quota <= 0 {
		return -1
	}
	if day := c.now().UTC().Format("2006-01-02"); day != c.quotaDay {
		return c.quota
	}
	return c.quota - c.used
}
