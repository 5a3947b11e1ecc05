package sections

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulcanta/vidlyx/internal/analysis"
	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// topicService flags a topic change whenever the two chunks share no
// scripted marker word.
type topicService struct {
	metadataErr error
	judgeErr    error
	block       chan struct{}
}

func (s *topicService) AnalyzeFrame(_ context.Context, _ string) (models.FrameAnalysis, error) {
	return models.FrameAnalysis{}, nil
}

func (s *topicService) JudgeTopicChange(_ context.Context, textA, textB string) (models.TopicJudgment, error) {
	if s.block != nil {
		<-s.block
	}
	if s.judgeErr != nil {
		return models.TopicJudgment{}, s.judgeErr
	}
	changed := firstWord(textA) != firstWord(textB)
	return models.TopicJudgment{Changed: changed, Confidence: 0.9}, nil
}

func (s *topicService) GenerateSectionMetadata(_ context.Context, text string) (models.SectionMetadata, error) {
	if s.metadataErr != nil {
		return models.SectionMetadata{}, s.metadataErr
	}
	return models.SectionMetadata{
		Title:     "Scripted " + firstWord(text),
		Summary:   text,
		KeyPoints: []string{"point"},
	}, nil
}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// segmentsWithTopics emits one segment per 30s chunk, using the topic
// word as the chunk text so adjacent equal topics read as no change.
func segmentsWithTopics(topics []string) []models.TranscriptSegment {
	segments := make([]models.TranscriptSegment, 0, len(topics))
	for i, topic := range topics {
		start := float64(i) * 30
		segments = append(segments, models.TranscriptSegment{
			Start:    start,
			End:      start + 30,
			Duration: 30,
			Text:     topic,
		})
	}
	return segments
}

func TestDetectSplitsOnTopicChanges(t *testing.T) {
	store := storage.NewMemoryStore()
	detector := NewDetector(&topicService{}, store, testLogger())

	// Topics: intro for 60s, setup for 60s, deploy for 60s.
	segments := segmentsWithTopics([]string{"intro", "intro", "setup", "setup", "deploy", "deploy"})

	sections, err := detector.Detect(context.Background(), "video-1", segments, nil, 180)
	require.NoError(t, err)
	require.Len(t, sections, 3)

	assert.Equal(t, 0.0, sections[0].StartTime)
	assert.Equal(t, 60.0, sections[0].EndTime)
	assert.Equal(t, 60.0, sections[1].StartTime)
	assert.Equal(t, 120.0, sections[1].EndTime)
	assert.Equal(t, 180.0, sections[2].EndTime)

	for i, section := range sections {
		assert.Equal(t, i, section.Order)
		assert.NotEmpty(t, section.Title)
	}
	assert.Equal(t, StatePersisted, detector.VideoState("video-1"))

	persisted, err := store.ListSections(context.Background(), "video-1")
	require.NoError(t, err)
	assert.Equal(t, sections, persisted)
}

func TestDetectSnapsBoundariesToKeyframes(t *testing.T) {
	store := storage.NewMemoryStore()
	detector := NewDetector(&topicService{}, store, testLogger())

	segments := segmentsWithTopics([]string{"intro", "intro", "setup", "setup"})
	keyframes := []float64{57.5, 300}

	sections, err := detector.Detect(context.Background(), "video-1", segments, keyframes, 120)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, 57.5, sections[1].StartTime, "boundary snaps to the nearby scene cut")
}

func TestDetectQuotaExhaustionUsesLocalSections(t *testing.T) {
	store := storage.NewMemoryStore()
	detector := NewDetector(&topicService{judgeErr: analysis.ErrQuotaExceeded}, store, testLogger())

	segments := segmentsWithTopics([]string{"intro", "intro", "setup", "setup"})
	sections, err := detector.Detect(context.Background(), "video-1", segments, nil, 360)
	require.NoError(t, err)
	require.Len(t, sections, 3, "short videos floor at three local sections")
	assert.Equal(t, StatePersisted, detector.VideoState("video-1"))
}

func TestDetectMetadataFailureDegradesLocally(t *testing.T) {
	store := storage.NewMemoryStore()
	detector := NewDetector(&topicService{metadataErr: errors.New("model hiccup")}, store, testLogger())

	segments := segmentsWithTopics([]string{"docker", "docker", "docker"})
	sections, err := detector.Detect(context.Background(), "video-1", segments, nil, 90)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Docker", sections[0].Title, "title falls back to the frequency heuristic")
}

func TestDetectRejectsConcurrentRun(t *testing.T) {
	store := storage.NewMemoryStore()
	service := &topicService{block: make(chan struct{})}
	detector := NewDetector(service, store, testLogger())

	segments := segmentsWithTopics([]string{"intro", "setup"})
	firstDone := make(chan error, 1)
	go func() {
		_, err := detector.Detect(context.Background(), "video-1", segments, nil, 60)
		firstDone <- err
	}()

	require.Eventually(t, func() bool {
		return detector.VideoState("video-1") == StateDetecting
	}, time.Second, time.Millisecond)

	_, err := detector.Detect(context.Background(), "video-1", segments, nil, 60)
	require.ErrorIs(t, err, ErrDetectionInProgress)

	close(service.block)
	require.NoError(t, <-firstDone)
}

func TestDetectLocalSectionCount(t *testing.T) {
	cases := []struct {
		duration float64
		want     int
	}{
		{60, 3},    // floor
		{360, 3},   // ceil(360/120) = 3
		{600, 5},   // ceil(600/120) = 5
		{3600, 10}, // ceiling
	}
	for _, tc := range cases {
		store := storage.NewMemoryStore()
		detector := NewDetector(&topicService{}, store, testLogger())

		sections, err := detector.DetectLocal(context.Background(), "video-1", nil, tc.duration)
		require.NoError(t, err)
		require.Len(t, sections, tc.want, "duration %.0f", tc.duration)

		assert.Equal(t, 0.0, sections[0].StartTime)
		assert.Equal(t, tc.duration, sections[len(sections)-1].EndTime)
		for i := 1; i < len(sections); i++ {
			assert.Equal(t, sections[i-1].EndTime, sections[i].StartTime)
		}
	}
}

func TestDetectWithoutDurationUsesTranscriptEnd(t *testing.T) {
	store := storage.NewMemoryStore()
	detector := NewDetector(&topicService{}, store, testLogger())

	segments := segmentsWithTopics([]string{"intro", "intro"})
	sections, err := detector.Detect(context.Background(), "video-1", segments, nil, 0)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, 60.0, sections[0].EndTime)
}

func TestDetectWithoutAnySignal(t *testing.T) {
	detector := NewDetector(&topicService{}, storage.NewMemoryStore(), testLogger())
	_, err := detector.Detect(context.Background(), "video-1", nil, nil, 0)
	require.Error(t, err)
	assert.Equal(t, StateNoSections, detector.VideoState("video-1"), "failed run resets for retry")
}

func TestMergeBoundaries(t *testing.T) {
	merged := MergeBoundaries([]float64{90, 30, 35, -5, 600, 30}, 600, 10)
	assert.Equal(t, []float64{0, 30, 90}, merged)

	assert.Equal(t, []float64{0}, MergeBoundaries(nil, 600, 10), "zero is always a boundary")
	assert.Equal(t, []float64{0}, MergeBoundaries([]float64{5}, 600, 10), "boundaries near zero collapse into it")
}

func TestChunkTranscriptGroupsByWindow(t *testing.T) {
	segments := []models.TranscriptSegment{
		{Start: 0, End: 10, Text: "a"},
		{Start: 25, End: 29, Text: "b"},
		{Start: 31, End: 40, Text: "c"},
		{Start: 95, End: 100, Text: "d"},
	}
	chunks := chunkTranscript(segments, 30)
	require.Len(t, chunks, 4)
	assert.Equal(t, "a b", chunks[0].text)
	assert.Equal(t, "c", chunks[1].text)
	assert.Equal(t, "", chunks[2].text, "silent windows stay as empty chunks")
	assert.Equal(t, "d", chunks[3].text)
	assert.Equal(t, 90.0, chunks[3].start)
}
