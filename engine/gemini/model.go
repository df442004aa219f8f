// Package gemini implements engine.Model and engine.LiveModel over the
// Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/rehearsed/rehearsed/engine"
)

// Config configures the Gen AI client.
type Config struct {
	APIKey   string
	VertexAI bool
	Project  string
	Location string
	// DefaultModel is used when a node leaves its model empty.
	DefaultModel string
	// LiveModel overrides the node model for live sessions.
	LiveModel string
	Timeout   time.Duration
}

// Model is a Gemini-backed engine.Model and engine.LiveModel.
type Model struct {
	client *genai.Client
	cfg    Config
	logger *zap.Logger
}

// New creates a Model.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Model, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.VertexAI {
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Model{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "gemini")),
	}, nil
}

func (m *Model) model(name string) string {
	if name == "" {
		return m.cfg.DefaultModel
	}
	return name
}

// Generate implements engine.Model.
func (m *Model) Generate(ctx context.Context, req *engine.ModelRequest) (*engine.ModelResponse, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		Tools: toGenaiTools(req.Tools),
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}

	model := m.model(req.Model)
	start := time.Now()
	resp, err := m.client.Models.GenerateContent(ctx, model, toGenaiContents(req.Contents), config)
	if err != nil {
		return nil, fmt.Errorf("generate content with %s: %w", model, err)
	}
	m.logger.Debug("generate content",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
	)
	return fromGenaiResponse(resp), nil
}

func fromGenaiResponse(resp *genai.GenerateContentResponse) *engine.ModelResponse {
	if resp == nil {
		return &engine.ModelResponse{ErrorMessage: "empty response"}
	}
	if len(resp.Candidates) == 0 {
		msg := "no candidates"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			msg = fmt.Sprintf("prompt blocked: %s %s", resp.PromptFeedback.BlockReason, resp.PromptFeedback.BlockReasonMessage)
		}
		return &engine.ModelResponse{ErrorMessage: msg}
	}

	cand := resp.Candidates[0]
	content := fromGenaiContent(cand.Content)
	if content == nil || len(content.Parts) == 0 {
		msg := string(cand.FinishReason)
		if cand.FinishMessage != "" {
			msg += ": " + cand.FinishMessage
		}
		if msg == "" {
			msg = "empty candidate"
		}
		return &engine.ModelResponse{ErrorMessage: msg}
	}
	return &engine.ModelResponse{Content: content}
}
