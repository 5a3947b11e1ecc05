// Package analysis defines the frame-understanding service used by the
// vision and section-detection stages. Two implementations exist: an
// agent-backed one talking to an external model, and a local heuristic
// used when the external service is unavailable or out of quota. The
// implementation is chosen once at construction, never per call.
package analysis

import (
	"context"
	"errors"

	"github.com/paulcanta/vidlyx/internal/models"
)

// ErrQuotaExceeded marks a recoverable quota-exhaustion failure. Callers
// fall back to the local analysis path instead of failing the job.
var ErrQuotaExceeded = errors.New("analysis quota exceeded")

// Service answers the three questions the pipeline asks of an external
// frame-understanding model.
type Service interface {
	// AnalyzeFrame describes one frame image.
	AnalyzeFrame(ctx context.Context, imagePath string) (models.FrameAnalysis, error)

	// JudgeTopicChange decides whether the topic shifted between two
	// adjacent transcript chunks.
	JudgeTopicChange(ctx context.Context, textA, textB string) (models.TopicJudgment, error)

	// GenerateSectionMetadata produces a title, summary, and key points
	// for one section's transcript text.
	GenerateSectionMetadata(ctx context.Context, text string) (models.SectionMetadata, error)
}
