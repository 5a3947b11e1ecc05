package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyEngine fails for any path containing "bad".
type flakyEngine struct {
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (e *flakyEngine) Recognize(_ context.Context, imagePath string) (models.OCRResult, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if strings.Contains(imagePath, "bad") {
		return models.OCRResult{}, errors.New("unreadable image")
	}
	return models.OCRResult{
		Text:       "func main",
		Confidence: 88.0,
		Words:      []string{"func", "main"},
	}, nil
}

func seedFrames(t *testing.T, store *storage.MemoryStore, paths []string) []models.Frame {
	t.Helper()
	frames := make([]models.Frame, 0, len(paths))
	for i, path := range paths {
		frame := models.Frame{
			ID:               fmt.Sprintf("frame-%03d", i),
			VideoID:          "video-1",
			TimestampSeconds: float64(i * 5),
			Path:             path,
		}
		require.NoError(t, store.CreateFrame(context.Background(), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestProcessFramesAccountsForEveryFrame(t *testing.T) {
	store := storage.NewMemoryStore()
	paths := make([]string, 10)
	for i := range paths {
		paths[i] = fmt.Sprintf("/tmp/frames/frame-%03d.jpg", i)
	}
	paths[3] = "/tmp/frames/bad-003.jpg"
	paths[7] = "/tmp/frames/bad-007.jpg"
	frames := seedFrames(t, store, paths)

	engine := &flakyEngine{}
	pool := NewPool(engine, store, 2, testLogger())

	var callbacks atomic.Int64
	result := pool.ProcessFrames(context.Background(), frames, func(_ models.Frame, _ error) {
		callbacks.Add(1)
	})

	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 10, result.Processed)
	assert.Equal(t, 8, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.EqualValues(t, 10, callbacks.Load())
	assert.LessOrEqual(t, engine.peak.Load(), int64(2), "worker count bounds concurrency")
}

func TestProcessFramesWritesOnlyOCRFields(t *testing.T) {
	store := storage.NewMemoryStore()
	frames := seedFrames(t, store, []string{"/tmp/frames/frame-000.jpg"})

	desc := "whiteboard diagram"
	require.NoError(t, store.UpsertFrameFields(context.Background(), frames[0].ID, models.FrameFields{
		SceneDescription: &desc,
	}))

	pool := NewPool(&flakyEngine{}, store, 1, testLogger())
	result := pool.ProcessFrames(context.Background(), frames, nil)
	require.Equal(t, 1, result.Succeeded)

	stored, err := store.ListFrames(context.Background(), "video-1")
	require.NoError(t, err)
	assert.Equal(t, "func main", stored[0].OnScreenText)
	assert.Equal(t, 88.0, stored[0].OCRConfidence)
	assert.Equal(t, "whiteboard diagram", stored[0].SceneDescription,
		"fields owned by other stages stay untouched")
}

func TestProcessFramesEmptyBatch(t *testing.T) {
	pool := NewPool(&flakyEngine{}, storage.NewMemoryStore(), 2, testLogger())
	result := pool.ProcessFrames(context.Background(), nil, nil)
	assert.Equal(t, BatchResult{}, result)
}

func TestNewPoolDefaultsWorkerCount(t *testing.T) {
	pool := NewPool(&flakyEngine{}, storage.NewMemoryStore(), 0, testLogger())
	assert.Equal(t, defaultWorkers, pool.workers)
}
