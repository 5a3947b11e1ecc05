package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/agent-api/core"
	"github.com/agent-api/core/agent"
	"github.com/agent-api/core/agent/bootstrap"
	"github.com/agent-api/ollama"
	"github.com/go-logr/logr"

	"github.com/paulcanta/vidlyx/internal/models"
)

const systemPrompt = "You are a video frame analysis assistant. Answer every request with a single JSON object and nothing else."

// AgentConfig holds the provider settings for the agent-backed service.
type AgentConfig struct {
	BaseURL string
	Port    int
	Model   string
}

// AgentService implements Service against an agent-api provider.
type AgentService struct {
	agent  *agent.Agent
	logger *slog.Logger
}

// NewAgentService sets up the provider and model for frame analysis. It
// fails fast when the ollama endpoint is unreachable so the caller can
// fall back to the local service.
func NewAgentService(ctx context.Context, cfg AgentConfig, logger *slog.Logger) (*AgentService, error) {
	endpoint := fmt.Sprintf("%s:%d/api/tags", cfg.BaseURL, cfg.Port)
	if _, err := exec.Command("curl", "-s", endpoint).Output(); err != nil {
		return nil, fmt.Errorf("ollama endpoint not reachable at %s: %w", endpoint, err)
	}

	providerLogger := logr.FromSlogHandler(logger.Handler())
	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  &providerLogger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	if err := provider.UseModel(ctx, &core.Model{ID: cfg.Model}); err != nil {
		return nil, fmt.Errorf("failed to select model %q: %w", cfg.Model, err)
	}

	visionAgent, err := agent.NewAgent(
		bootstrap.WithProvider(provider),
		bootstrap.WithLogger(&providerLogger),
		bootstrap.WithSystemPrompt(systemPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vision agent: %w", err)
	}

	return &AgentService{
		agent:  visionAgent,
		logger: logger,
	}, nil
}

// AnalyzeFrame asks the model to describe one frame image.
func (s *AgentService) AnalyzeFrame(ctx context.Context, imagePath string) (models.FrameAnalysis, error) {
	content, err := s.run(ctx,
		`Describe this video frame. Reply with JSON: {"sceneDescription": string, "visualElements": [string], "onScreenText": string, "contentType": one of "slide"|"code"|"demo"|"talking_head"|"diagram"|"other"}`,
		imagePath,
	)
	if err != nil {
		return models.FrameAnalysis{}, err
	}

	var analysis models.FrameAnalysis
	if err := json.Unmarshal(jsonBlock(content), &analysis); err != nil {
		// Models sometimes reply with prose despite the prompt. Keep the
		// text as the scene description rather than discarding the call.
		return models.FrameAnalysis{
			SceneDescription: strings.TrimSpace(content),
			ContentType:      "other",
		}, nil
	}
	if analysis.VisualElements == nil {
		analysis.VisualElements = []string{}
	}
	return analysis, nil
}

// JudgeTopicChange asks the model whether two adjacent chunks cover
// different topics.
func (s *AgentService) JudgeTopicChange(ctx context.Context, textA, textB string) (models.TopicJudgment, error) {
	prompt := fmt.Sprintf(
		`Do these two consecutive transcript excerpts discuss different topics? Reply with JSON: {"changed": bool, "confidence": number between 0 and 1}.

Excerpt A: %s

Excerpt B: %s`, textA, textB)

	content, err := s.run(ctx, prompt, "")
	if err != nil {
		return models.TopicJudgment{}, err
	}

	var judgment models.TopicJudgment
	if err := json.Unmarshal(jsonBlock(content), &judgment); err != nil {
		return models.TopicJudgment{}, fmt.Errorf("unparseable topic judgment: %q", content)
	}
	return judgment, nil
}

// GenerateSectionMetadata asks the model for a section title, summary,
// and key points.
func (s *AgentService) GenerateSectionMetadata(ctx context.Context, text string) (models.SectionMetadata, error) {
	prompt := fmt.Sprintf(
		`Summarize this video section transcript. Reply with JSON: {"title": short string, "summary": 1-2 sentences, "keyPoints": [string]}.

Transcript: %s`, text)

	content, err := s.run(ctx, prompt, "")
	if err != nil {
		return models.SectionMetadata{}, err
	}

	var meta models.SectionMetadata
	if err := json.Unmarshal(jsonBlock(content), &meta); err != nil {
		return models.SectionMetadata{}, fmt.Errorf("unparseable section metadata: %q", content)
	}
	if meta.KeyPoints == nil {
		meta.KeyPoints = []string{}
	}
	return meta, nil
}

// run executes one agent call and returns the model's final message.
func (s *AgentService) run(ctx context.Context, prompt, imagePath string) (string, error) {
	if imagePath != "" {
		response, err := s.agent.Run(ctx, agent.WithInput(prompt), agent.WithImagePath(imagePath))
		if err != nil {
			return "", classify(err)
		}
		if len(response.Messages) == 0 {
			return "", fmt.Errorf("no response messages received from model")
		}
		return response.Messages[len(response.Messages)-1].Content, nil
	}

	response, err := s.agent.Run(ctx, agent.WithInput(prompt))
	if err != nil {
		return "", classify(err)
	}
	if len(response.Messages) == 0 {
		return "", fmt.Errorf("no response messages received from model")
	}
	return response.Messages[len(response.Messages)-1].Content, nil
}

// classify maps provider quota failures onto ErrQuotaExceeded so callers
// can switch to the local path.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

// jsonBlock strips markdown fences and surrounding prose from a model
// reply, returning the first {...} object found.
func jsonBlock(content string) []byte {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return []byte(content)
	}
	return []byte(content[start : end+1])
}
