package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulcanta/vidlyx/internal/models"
)

// FileTranscriptStore reads transcripts deposited by the external fetch
// script as <baseDir>/<video id>/transcript.json.
type FileTranscriptStore struct {
	BaseDir string
}

// transcriptFile matches the fetch script's JSON envelope.
type transcriptFile struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Segments []models.TranscriptSegment `json:"segments"`
	} `json:"data"`
}

// Segments loads and orders a video's transcript segments.
func (s *FileTranscriptStore) Segments(_ context.Context, videoID string) ([]models.TranscriptSegment, error) {
	path := filepath.Join(s.BaseDir, videoID, "transcript.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	var file transcriptFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse transcript file: %w", err)
	}
	if !file.Success {
		return nil, fmt.Errorf("transcript fetch failed: %s", file.Error)
	}

	segments := file.Data.Segments
	sort.Slice(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	return segments, nil
}
