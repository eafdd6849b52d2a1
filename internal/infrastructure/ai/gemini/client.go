// Package gemini provides a Gemini backend built on the official genai SDK
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model produced no text
var ErrEmptyResponse = errors.New("gemini returned no content")

// Config holds the connection settings for the Gemini API
type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	// BaseURL overrides the API endpoint, used by tests
	BaseURL string
}

// Client is a thin wrapper around the genai client. Rate limiting and
// instrumentation are applied by the caller's middleware.
type Client struct {
	cli            *genai.Client
	model          string
	embeddingModel string
	maxTokens      int
	logger         *zap.Logger
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized", zap.String("model", cfg.Model))

	return &Client{
		cli:            cli,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		maxTokens:      cfg.MaxTokens,
		logger:         logger.Named("gemini-client"),
	}, nil
}

// Name returns the backend name
func (g *Client) Name() string { return "gemini" }

// Generate asks for application/json output. The schema is passed in the
// system instruction so that free-form JSON schema documents work unchanged.
func (g *Client) Generate(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error) {
	start := time.Now()

	system := req.System
	if len(req.Schema) > 0 {
		system += "\n\nThe JSON object must match this JSON Schema:\n" + string(req.Schema)
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(float32(req.Temperature)),
	}
	if strings.TrimSpace(system) != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}}},
		cfg,
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	out := &outbound.GenerateResponse{
		Text:     text.String(),
		Model:    g.model,
		Duration: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	g.logger.Debug("Gemini call successful",
		zap.String("task", req.Task),
		zap.Int("output_tokens", out.OutputTokens))

	return out, nil
}

// Embed returns the embedding vector for text
func (g *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.cli.Models.EmbedContent(ctx, g.embeddingModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		nil,
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, ErrEmptyResponse
	}
	return resp.Embeddings[0].Values, nil
}
