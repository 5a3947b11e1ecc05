// Package ocr extracts on-screen text from frame images with a fixed-size
// worker pool.
package ocr

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/paulcanta/vidlyx/internal/models"
)

// Engine recognizes text in a single frame image. Implementations must be
// safe for concurrent use by the pool's workers.
type Engine interface {
	Recognize(ctx context.Context, imagePath string) (models.OCRResult, error)
}

// Tesseract is the production engine backed by gosseract.
type Tesseract struct {
	// Languages passed to tesseract, e.g. "eng". Empty uses the default.
	Languages []string
}

// Recognize runs tesseract over one image and aggregates word confidences.
func (t *Tesseract) Recognize(_ context.Context, imagePath string) (models.OCRResult, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return models.OCRResult{}, fmt.Errorf("frame image not readable: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(t.Languages) > 0 {
		if err := client.SetLanguage(t.Languages...); err != nil {
			return models.OCRResult{}, fmt.Errorf("failed to set OCR language: %w", err)
		}
	}
	if err := client.SetImage(imagePath); err != nil {
		return models.OCRResult{}, fmt.Errorf("failed to load frame image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return models.OCRResult{}, fmt.Errorf("text recognition failed: %w", err)
	}

	var words []string
	var confidence float64
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		words = append(words, word)
		confidence += box.Confidence
	}
	if len(words) > 0 {
		confidence /= float64(len(words))
	}

	return models.OCRResult{
		Text:       strings.Join(words, " "),
		Confidence: confidence,
		Words:      words,
	}, nil
}
