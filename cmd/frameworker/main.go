package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"log/slog"

	"github.com/lmittmann/tint"

	"github.com/paulcanta/vidlyx/internal/analysis"
	"github.com/paulcanta/vidlyx/internal/config"
	"github.com/paulcanta/vidlyx/internal/correlation"
	"github.com/paulcanta/vidlyx/internal/embeddings"
	"github.com/paulcanta/vidlyx/internal/extractor"
	"github.com/paulcanta/vidlyx/internal/models"
	"github.com/paulcanta/vidlyx/internal/ocr"
	"github.com/paulcanta/vidlyx/internal/pipeline"
	"github.com/paulcanta/vidlyx/internal/queue"
	"github.com/paulcanta/vidlyx/internal/sections"
	"github.com/paulcanta/vidlyx/internal/storage"
	"github.com/paulcanta/vidlyx/internal/vision"
)

func main() {
	ctx := context.Background()

	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: "15:04:05",
		}),
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// One-shot enqueue mode: --video path [--id video-id] [--duration seconds]
	videoPath := ""
	videoID := ""
	duration := 0.0
	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--video":
			if i+1 < len(os.Args) {
				videoPath = os.Args[i+1]
				i++
			}
		case "--id":
			if i+1 < len(os.Args) {
				videoID = os.Args[i+1]
				i++
			}
		case "--duration":
			if i+1 < len(os.Args) {
				duration, _ = strconv.ParseFloat(os.Args[i+1], 64)
				i++
			}
		}
	}

	if err := storage.InitSchema(ctx, cfg.DSN()); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	emb := embeddings.NewService()
	store, err := storage.NewPostgresStore(ctx, cfg.DSN(), emb)
	if err != nil {
		log.Fatalf("Failed to connect to storage: %v", err)
	}
	defer store.Close()

	// The agent-backed service is preferred; if the model endpoint is not
	// reachable at startup we run fully local. The choice is made once
	// here, never re-checked per call.
	var service analysis.Service
	agentService, err := analysis.NewAgentService(ctx, analysis.AgentConfig{
		BaseURL: cfg.OllamaBaseURL,
		Port:    cfg.OllamaPort,
		Model:   cfg.VisionModel,
	}, logger)
	if err != nil {
		logger.Warn("vision model unavailable, using local analysis", "error", err)
		service = analysis.NewLocal()
	} else {
		service = agentService
	}

	ocrPool := ocr.NewPool(&ocr.Tesseract{}, store, cfg.OCRWorkers, logger)
	visionClient := vision.NewClient(service, store, cfg.VisionCallSpacing, cfg.VisionDailyQuota, logger)
	correlator := correlation.NewEngine(store, store, logger)
	detector := sections.NewDetector(service, store, logger)
	transcripts := &storage.FileTranscriptStore{BaseDir: cfg.OutputDir}

	q := queue.New(store, logger, queue.Options{
		Concurrency:  cfg.QueueConcurrency,
		StallTimeout: cfg.StallTimeout,
	})

	orch := pipeline.NewOrchestrator(
		extractor.NewFFmpeg(cfg.OutputDir),
		ocrPool, visionClient, correlator, detector,
		store, transcripts, store, q, logger,
	)

	q.RegisterHandler(models.JobKindFrameAnalysis, func(ctx context.Context, job *models.Job) error {
		video := models.Video{
			ID:       job.SubjectID,
			Path:     stringField(job.Payload, "path"),
			Duration: floatField(job.Payload, "duration"),
		}
		result, err := orch.Run(ctx, job.ID, video, pipeline.Options{
			FrameInterval:    intField(job.Payload, "frameInterval", 5),
			MaxFrames:        intField(job.Payload, "maxFrames", 0),
			OCREnabled:       boolField(job.Payload, "ocrEnabled", true),
			VisionEnabled:    boolField(job.Payload, "visionEnabled", true),
			VisionSampleRate: intField(job.Payload, "visionSampleRate", 3),
		})
		if err != nil {
			return err
		}
		job.Result = resultToMap(result)
		return nil
	})

	// The terminal failure status is reported here, exactly once per
	// exhausted job, rather than per attempt inside the pipeline.
	q.OnExhausted(func(ctx context.Context, job *models.Job) {
		if err := store.SetVideoStatus(ctx, job.SubjectID, models.VideoStatusFailed); err != nil {
			logger.Error("failed to report analysis failure", "video", job.SubjectID, "error", err)
		}
	})

	q.Start(ctx)
	defer q.Stop()

	if videoPath != "" {
		if videoID == "" {
			videoID = deriveVideoID(videoPath)
		}
		job, err := q.Enqueue(ctx, videoID, models.JobKindFrameAnalysis, map[string]any{
			"path":     videoPath,
			"duration": duration,
		})
		if err != nil {
			log.Fatalf("Failed to enqueue analysis job: %v", err)
		}
		logger.Info("enqueued analysis job", "job", job.ID, "video", videoID)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

func deriveVideoID(videoPath string) string {
	base := videoPath
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}

func resultToMap(result *pipeline.Result) map[string]any {
	return map[string]any{
		"steps": result.Steps,
		"stats": map[string]any{
			"framesExtracted": result.Stats.FramesExtracted,
			"ocrSucceeded":    result.Stats.OCRSucceeded,
			"ocrFailed":       result.Stats.OCRFailed,
			"visionSucceeded": result.Stats.VisionSucceeded,
			"visionFailed":    result.Stats.VisionFailed,
		},
		"startTime": result.StartTime.Format("2006-01-02T15:04:05Z07:00"),
		"endTime":   result.EndTime.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func floatField(payload map[string]any, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intField(payload map[string]any, key string, fallback int) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func boolField(payload map[string]any, key string, fallback bool) bool {
	if v, ok := payload[key].(bool); ok {
		return v
	}
	return fallback
}
