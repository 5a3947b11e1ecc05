package ocr

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/storage"
)

const defaultWorkers = 2

// BatchResult summarizes one OCR pass over a video's frames.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Pool fans frames out across a fixed set of OCR workers. One frame's
// failure never aborts the batch; it is counted and the batch continues.
type Pool struct {
	engine  Engine
	frames  storage.FrameStore
	workers int
	logger  *slog.Logger
}

// NewPool builds a pool with the given worker count; sizes below one fall
// back to the default of 2.
func NewPool(engine Engine, frames storage.FrameStore, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = defaultWorkers
	}
	return &Pool{
		engine:  engine,
		frames:  frames,
		workers: workers,
		logger:  logger,
	}
}

// ProcessFrames runs OCR over every frame, updating only the OCR fields of
// each record. onFrame, when set, fires after each frame with its outcome.
func (p *Pool) ProcessFrames(ctx context.Context, frames []models.Frame, onFrame func(frame models.Frame, err error)) BatchResult {
	total := len(frames)
	if total == 0 {
		return BatchResult{}
	}

	workChan := make(chan models.Frame, total)
	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frame := range workChan {
				err := p.processFrame(ctx, frame)
				if err != nil {
					failed.Add(1)
					p.logger.Warn("ocr failed for frame",
						"frame", frame.ID,
						"timestamp", frame.TimestampSeconds,
						"error", err)
				} else {
					succeeded.Add(1)
				}
				if onFrame != nil {
					onFrame(frame, err)
				}
			}
		}()
	}

	for _, frame := range frames {
		workChan <- frame
	}
	close(workChan)
	wg.Wait()

	return BatchResult{
		Processed: int(succeeded.Load() + failed.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Total:     total,
	}
}

// processFrame recognizes text and commits the OCR fields, checking for
// cancellation before the write.
func (p *Pool) processFrame(ctx context.Context, frame models.Frame) error {
	result, err := p.engine.Recognize(ctx, frame.Path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	words := result.Words
	if words == nil {
		words = []string{}
	}
	return p.frames.UpsertFrameFields(ctx, frame.ID, models.FrameFields{
		OnScreenText:  &result.Text,
		OCRConfidence: &result.Confidence,
		Words:         words,
	})
}
