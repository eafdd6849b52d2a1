package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alchemorsel/mealguard/internal/application/structured"
	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/alchemorsel/mealguard/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task labels generation calls in logs and metrics
const Task = "retrieval"

const (
	DefaultTopK           = 6
	DefaultCandidateCount = 3
)

const systemPrompt = `You are a recipe assistant. Using the reference passages, propose exactly %d recipes
that fit the user's request, health conditions, dietary restrictions, allergies and constraints.
Return ONLY a JSON object: {"candidates": [ ... ]} where each candidate has
  "name": string
  "ingredients": list of {"name": string, "quantity": string}
  "instructions": string
  "nutrition_facts": object of per-serving amounts keyed by %s
  "prep_minutes", "cook_minutes", "servings": integers
  "sources": list of passage ids you relied on
Never include an ingredient the user must avoid. Give nutrition_facts for every constrained nutrient.`

var schema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "candidates": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "ingredients": {"type": "array", "items": {"type": "object", "properties": {"name": {"type": "string"}, "quantity": {"type": "string"}}, "required": ["name"]}},
          "instructions": {"type": "string"},
          "nutrition_facts": {"type": "object", "additionalProperties": {"type": "number"}},
          "prep_minutes": {"type": "integer"},
          "cook_minutes": {"type": "integer"},
          "servings": {"type": "integer"},
          "sources": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["name", "ingredients"]
      }
    }
  },
  "required": ["candidates"]
}`)

// Observer is told how each query was routed
type Observer interface {
	Routed(ctx context.Context, route string, passages, contextChars int)
}

// Config holds retriever settings
type Config struct {
	TopK            int
	CandidateCount  int
	MaxContextChars int
}

// Retriever routes a query to the recipe collections and generates candidates
type Retriever struct {
	store    outbound.RecipeKnowledgeStore
	model    outbound.LanguageModel
	cfg      Config
	observer Observer
	logger   *zap.Logger
}

// NewRetriever creates a new hybrid retriever. observer may be nil.
func NewRetriever(store outbound.RecipeKnowledgeStore, model outbound.LanguageModel, cfg Config, observer Observer, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.CandidateCount <= 0 {
		cfg.CandidateCount = DefaultCandidateCount
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	return &Retriever{
		store:    store,
		model:    model,
		cfg:      cfg,
		observer: observer,
		logger:   logger.Named("hybrid-retriever"),
	}
}

// Retrieve searches the routed collections and asks the model for candidates.
// Any store failure fails the whole call; partial context is never used.
func (r *Retriever) Retrieve(ctx context.Context, q AugmentedQuery) ([]recommendation.CandidateRecipe, error) {
	route := Classify(q.Request)

	results, err := r.search(ctx, route, q.SearchText())
	if err != nil {
		return nil, err
	}

	contextBlock, used := assembleContext(results, r.cfg.MaxContextChars)
	if r.observer != nil {
		r.observer.Routed(ctx, route.String(), used, len(contextBlock))
	}
	if used == 0 {
		return nil, errors.NewRAGError(fmt.Sprintf("no passages found for route %s", route), nil)
	}

	r.logger.Debug("Context assembled",
		zap.String("route", route.String()),
		zap.Int("passages", used),
		zap.Int("context_chars", len(contextBlock)))

	env, err := structured.Generate(ctx, r.model, outbound.GenerateRequest{
		Task:        Task,
		System:      fmt.Sprintf(systemPrompt, r.cfg.CandidateCount, strings.Join(recommendation.NutrientKeys(), ", ")),
		Prompt:      "Reference passages:\n" + contextBlock + "\nUser request:\n" + q.Text(),
		Schema:      schema,
		Temperature: 0.4,
	}, validateEnvelope, r.logger)
	if err != nil {
		return nil, errors.NewRAGError("candidate generation failed", err)
	}

	candidates, err := env.normalise()
	if err != nil {
		return nil, errors.NewRAGError("candidate generation returned unusable candidates", err)
	}

	switch n := len(candidates); {
	case n > r.cfg.CandidateCount:
		candidates = candidates[:r.cfg.CandidateCount]
	case n < r.cfg.CandidateCount:
		r.logger.Warn("Model returned fewer candidates than requested",
			zap.Int("requested", r.cfg.CandidateCount),
			zap.Int("returned", n))
	}

	return candidates, nil
}

func (r *Retriever) search(ctx context.Context, route Route, text string) ([]collectionResult, error) {
	collections := route.Collections()
	results := make([]collectionResult, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	for i, collection := range collections {
		g.Go(func() error {
			passages, err := r.store.Search(gctx, text, r.cfg.TopK, collection)
			if err != nil {
				return errors.NewRAGError(fmt.Sprintf("%s search failed", collection), err)
			}
			results[i] = collectionResult{collection: collection, passages: passages}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
