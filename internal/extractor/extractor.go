// Package extractor pulls still frames out of a video file with ffmpeg.
package extractor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/paulcanta/vidlyx/internal/models"
)

// Service produces frame records for a video at a fixed interval.
type Service interface {
	// Extract returns frame records with strictly increasing timestamps
	// starting at zero. At most maxFrames records are produced; maxFrames
	// <= 0 means no cap.
	Extract(ctx context.Context, video models.Video, intervalSeconds int, maxFrames int) ([]models.Frame, error)
}

// FFmpeg extracts frames by shelling out to ffmpeg, one JPEG per interval.
type FFmpeg struct {
	OutputDir string

	// SceneThreshold controls the scene-change pass used to flag
	// keyframes. Zero disables the pass.
	SceneThreshold float64
}

// NewFFmpeg creates an extractor writing frames under outputDir/<video id>.
func NewFFmpeg(outputDir string) *FFmpeg {
	return &FFmpeg{OutputDir: outputDir, SceneThreshold: 0.4}
}

// Extract runs ffmpeg and builds frame records from the produced images.
// Existing frame directories are reused rather than re-extracted.
func (e *FFmpeg) Extract(ctx context.Context, video models.Video, intervalSeconds int, maxFrames int) ([]models.Frame, error) {
	if intervalSeconds <= 0 {
		return nil, fmt.Errorf("frame interval must be positive, got %d", intervalSeconds)
	}
	if _, err := os.Stat(video.Path); os.IsNotExist(err) {
		return nil, fmt.Errorf("video file does not exist at path: '%s'", video.Path)
	}

	frameDir := filepath.Join(e.OutputDir, video.ID)
	if err := os.MkdirAll(frameDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory '%s': %v", frameDir, err)
	}

	if !hasFrames(frameDir) {
		cmd := exec.CommandContext(ctx,
			"ffmpeg",
			"-i", video.Path,
			"-vf", fmt.Sprintf("fps=1/%d", intervalSeconds),
			fmt.Sprintf("%s/frame_%%04d.jpg", frameDir),
		)
		if output, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, string(output))
		}
	}

	files, err := os.ReadDir(frameDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory '%s': %v", frameDir, err)
	}

	var names []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".jpg") {
			names = append(names, file.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no JPEG frames found in directory '%s'", frameDir)
	}
	sort.Strings(names)

	if maxFrames > 0 && len(names) > maxFrames {
		names = names[:maxFrames]
	}

	sceneChanges, err := e.sceneChangeTimes(ctx, video.Path)
	if err != nil {
		// Keyframe flags are a refinement; extraction still succeeds.
		sceneChanges = nil
	}

	frames := make([]models.Frame, 0, len(names))
	for i, name := range names {
		ts := float64(i * intervalSeconds)
		frames = append(frames, models.Frame{
			ID:               uuid.New().String(),
			VideoID:          video.ID,
			TimestampSeconds: ts,
			Path:             filepath.Join(frameDir, name),
			IsKeyframe:       nearSceneChange(ts, sceneChanges, float64(intervalSeconds)/2),
		})
	}
	return frames, nil
}

var sceneTimeRe = regexp.MustCompile(`pts_time:([0-9]+\.?[0-9]*)`)

// sceneChangeTimes runs a detection pass and returns scene-cut timestamps.
func (e *FFmpeg) sceneChangeTimes(ctx context.Context, videoPath string) ([]float64, error) {
	if e.SceneThreshold <= 0 {
		return nil, nil
	}

	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select='gt(scene,%.2f)',showinfo", e.SceneThreshold),
		"-f", "null", "-",
	)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var times []float64
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		match := sceneTimeRe.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		if t, err := strconv.ParseFloat(match[1], 64); err == nil {
			times = append(times, t)
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return times, nil
}

func hasFrames(dir string) bool {
	files, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".jpg") {
			return true
		}
	}
	return false
}

func nearSceneChange(ts float64, sceneChanges []float64, tolerance float64) bool {
	for _, sc := range sceneChanges {
		diff := ts - sc
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			return true
		}
	}
	return false
}
