package models

import "time"

// JobStatus tracks the lifecycle of a background analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobKindFrameAnalysis is the only job kind the worker currently runs.
const JobKindFrameAnalysis = "frame_analysis"

// Video is the subject reference handed to the pipeline. Duration comes
// from the external metadata collaborator.
type Video struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

// Job is a persisted unit of background work. Failed jobs are never
// mutated back to pending; Retry supersedes them with a new record.
type Job struct {
	ID           string         `json:"id"`
	SubjectID    string         `json:"subjectId"`
	Kind         string         `json:"kind"`
	Status       JobStatus      `json:"status"`
	Progress     int            `json:"progress"`
	Payload      map[string]any `json:"payload,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Attempt      int            `json:"attempt"`
	RunAt        time.Time      `json:"runAt"`
	HeartbeatAt  time.Time      `json:"heartbeatAt"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// Frame is a single extracted image at a video timestamp. OCR and vision
// stages write disjoint field sets, so their upserts commute.
type Frame struct {
	ID               string   `json:"id"`
	VideoID          string   `json:"videoId"`
	TimestampSeconds float64  `json:"timestampSeconds"`
	Path             string   `json:"path"`
	OnScreenText     string   `json:"onScreenText,omitempty"`
	OCRConfidence    float64  `json:"ocrConfidence,omitempty"`
	Words            []string `json:"words,omitempty"`
	SceneDescription string   `json:"sceneDescription,omitempty"`
	VisualElements   []string `json:"visualElements,omitempty"`
	ContentType      string   `json:"contentType,omitempty"`
	IsKeyframe       bool     `json:"isKeyframe"`
}

// FrameFields is a partial update applied to a frame record. Nil fields
// are left untouched.
type FrameFields struct {
	OnScreenText     *string
	OCRConfidence    *float64
	Words            []string
	SceneDescription *string
	VisualElements   []string
	ContentType      *string
	IsKeyframe       *bool
}

// TranscriptSegment is one spoken interval, supplied by the external
// transcript collaborator.
type TranscriptSegment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// Correlation links a frame to a transcript segment with a 0-100 score.
type Correlation struct {
	FrameID          string   `json:"frameId"`
	VideoID          string   `json:"videoId"`
	SegmentStart     float64  `json:"segmentStart"`
	SegmentEnd       float64  `json:"segmentEnd"`
	Score            float64  `json:"score"`
	MatchingElements []string `json:"matchingElements,omitempty"`
}

// Confidence bands for persisted correlations.
const (
	CorrelationHigh   = "high"
	CorrelationMedium = "medium"
	CorrelationLow    = "low"
)

// Band classifies the correlation score into high/medium/low.
func (c Correlation) Band() string {
	switch {
	case c.Score > 70:
		return CorrelationHigh
	case c.Score >= 50:
		return CorrelationMedium
	default:
		return CorrelationLow
	}
}

// Section is a contiguous interval of a video with generated metadata.
// Sections for a video are ordered, non-overlapping, and cover the full
// duration starting at zero.
type Section struct {
	VideoID   string   `json:"videoId"`
	Order     int      `json:"order"`
	Title     string   `json:"title"`
	StartTime float64  `json:"startTime"`
	EndTime   float64  `json:"endTime"`
	Summary   string   `json:"summary,omitempty"`
	KeyPoints []string `json:"keyPoints"`
}

// FrameAnalysis is the vision service's answer for a single frame.
type FrameAnalysis struct {
	SceneDescription string   `json:"sceneDescription"`
	VisualElements   []string `json:"visualElements"`
	OnScreenText     string   `json:"onScreenText"`
	ContentType      string   `json:"contentType"`
}

// TopicJudgment is the topic-change verdict for two adjacent transcript chunks.
type TopicJudgment struct {
	Changed    bool    `json:"changed"`
	Confidence float64 `json:"confidence"`
}

// SectionMetadata is a generated title/summary/key-points for an interval.
type SectionMetadata struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
}

// OCRResult is the text extracted from one frame image.
type OCRResult struct {
	Text       string
	Confidence float64
	Words      []string
}

// VideoStatus values reported to the subject-status collaborator.
const (
	VideoStatusAnalyzing = "analyzing_frames"
	VideoStatusAnalyzed  = "frames_analyzed"
	VideoStatusFailed    = "frame_analysis_failed"
)

// QueueHealth summarizes per-state job counts for the health surface.
type QueueHealth struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Delayed   int  `json:"delayed"`
	Healthy   bool `json:"healthy"`
}

// FrameSearchResult is one similarity hit from the embedding search.
type FrameSearchResult struct {
	FrameID          string  `json:"frameId"`
	TimestampSeconds float64 `json:"timestampSeconds"`
	SceneDescription string  `json:"sceneDescription"`
	Similarity       float64 `json:"similarity"`
}
