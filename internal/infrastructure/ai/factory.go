package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/alchemorsel/mealguard/internal/infrastructure/ai/gemini"
	"github.com/alchemorsel/mealguard/internal/infrastructure/ai/ollama"
	"github.com/alchemorsel/mealguard/internal/infrastructure/ai/openai"
	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/alchemorsel/mealguard/internal/infrastructure/monitoring"
	"github.com/alchemorsel/mealguard/internal/infrastructure/secrets"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const retryBaseDelay = 500 * time.Millisecond

// Backend is the selected model backend with its optional capabilities
type Backend struct {
	Model    outbound.LanguageModel
	Embedder outbound.Embedder
	Raw      outbound.LanguageModel
}

// Options carries the collaborators used to decorate the backend
type Options struct {
	Metrics *monitoring.Metrics
	Tracing *monitoring.TracingProvider
	Usage   *monitoring.UsageMeter
	// Secrets is consulted when cfg.SecretID is set. Nil opens a client for cfg.AWSRegion.
	Secrets secrets.SecretGetter
}

// NewBackend builds the configured backend and wraps it in the standard
// middleware stack
func NewBackend(ctx context.Context, cfg config.LLMConfig, opts Options, logger *zap.Logger) (*Backend, error) {
	if err := resolveKeys(ctx, &cfg, opts.Secrets); err != nil {
		return nil, err
	}

	var (
		raw      outbound.LanguageModel
		embedder outbound.Embedder
	)

	switch cfg.Provider {
	case "ollama":
		c := ollama.NewClient(ollama.Config{
			BaseURL:        cfg.OllamaURL,
			Model:          cfg.OllamaModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
			MaxTokens:      cfg.MaxTokens,
		}, logger)
		raw, embedder = c, c
	case "openai":
		c := openai.NewClient(openai.Config{
			APIKey:         cfg.OpenAIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.OpenAIModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
			MaxTokens:      cfg.MaxTokens,
		}, logger)
		raw, embedder = c, c
	case "gemini":
		c, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:    cfg.GeminiKey,
			Model:     cfg.GeminiModel,
			MaxTokens: cfg.MaxTokens,
		}, logger)
		if err != nil {
			return nil, err
		}
		raw, embedder = c, c
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	model := Wrap(raw,
		Instrument(opts.Metrics, opts.Tracing, opts.Usage, logger.Named("model")),
		RateLimit(rate.NewLimiter(limit, burst)),
		Retry(cfg.MaxRetries, retryBaseDelay, logger.Named("model-retry")),
	)

	logger.Info("Language model backend ready",
		zap.String("provider", cfg.Provider),
		zap.Float64("requests_per_sec", cfg.RequestsPerSec),
		zap.Int("max_retries", cfg.MaxRetries))

	return &Backend{Model: model, Embedder: embedder, Raw: raw}, nil
}

func resolveKeys(ctx context.Context, cfg *config.LLMConfig, getter secrets.SecretGetter) error {
	if cfg.SecretID == "" {
		return nil
	}
	if cfg.OpenAIKey != "" && cfg.GeminiKey != "" {
		return nil
	}
	if getter == nil {
		sm, err := secrets.NewSecretsManager(cfg.AWSRegion)
		if err != nil {
			return err
		}
		getter = sm
	}

	keys, err := secrets.LoadModelKeys(ctx, getter, cfg.SecretID)
	if err != nil {
		return err
	}
	if cfg.OpenAIKey == "" {
		cfg.OpenAIKey = keys.OpenAIKey
	}
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = keys.GeminiKey
	}
	return nil
}
