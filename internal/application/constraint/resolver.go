// Package constraint resolves per-user nutrition limits from medical guidance
// and the day's logged meals
package constraint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alchemorsel/mealguard/internal/application/structured"
	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/alchemorsel/mealguard/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task labels constraint calls in logs and metrics
const Task = "constraints"

// DefaultTopK is the number of guidance passages fetched per condition
const DefaultTopK = 4

const keyPrefix = "constraints:v1:"

const systemPrompt = `You are a clinical nutrition assistant. From the medical guidance passages, derive
daily dietary limits for a person with ALL of the listed conditions.
Return ONLY a JSON object:
  "avoid": list of foods or ingredients the person should not eat
  "constraints": object mapping nutrient keys to {"min": number, "max": number}; omit a side when the guidance gives none
  "notes": one short sentence summarising the guidance
Allowed nutrient keys: %s.
Amounts are per day, in the unit named by the key suffix (g, mg) or kcal for calories.
Use only the passages. If they give no number for a nutrient, leave it out.`

var schema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "avoid": {"type": "array", "items": {"type": "string"}},
    "constraints": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {"min": {"type": "number"}, "max": {"type": "number"}}
      }
    },
    "notes": {"type": "string"}
  },
  "required": ["avoid", "constraints"]
}`)

// Config holds resolver settings
type Config struct {
	TopK     int
	Location *time.Location
}

// Resolver turns health conditions into budget-adjusted nutrition constraints
type Resolver struct {
	medical outbound.MedicalKnowledgeStore
	ledger  outbound.NutritionLedger
	cache   outbound.ConstraintCache
	model   outbound.LanguageModel
	cfg     Config
	logger  *zap.Logger
}

// NewResolver creates a new constraint resolver
func NewResolver(
	medical outbound.MedicalKnowledgeStore,
	ledger outbound.NutritionLedger,
	cache outbound.ConstraintCache,
	model outbound.LanguageModel,
	cfg Config,
	logger *zap.Logger,
) *Resolver {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Resolver{
		medical: medical,
		ledger:  ledger,
		cache:   cache,
		model:   model,
		cfg:     cfg,
		logger:  logger.Named("constraint-resolver"),
	}
}

// CacheKey returns the cache key for a condition set
func CacheKey(conditions []string) string {
	return keyPrefix + strings.Join(recommendation.NormalizeTerms(conditions), ",")
}

// Resolve returns the constraints for conditions, adjusted by what userID has
// already eaten on asOf's calendar day. The base constraints are cached per
// condition set; the adjusted value never is.
func (r *Resolver) Resolve(ctx context.Context, conditions []string, userID string, asOf time.Time) (recommendation.NutritionConstraints, error) {
	conditions = recommendation.NormalizeTerms(conditions)
	if len(conditions) == 0 {
		return recommendation.PermissiveConstraints(), nil
	}

	var (
		base     recommendation.NutritionConstraints
		consumed map[string]float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		base, err = r.base(gctx, conditions)
		return err
	})
	g.Go(func() error {
		totals, err := r.ledger.TodayTotals(gctx, userID, asOf.In(r.cfg.Location))
		if err != nil {
			return errors.NewRepositoryError("load today's nutrition totals", err)
		}
		consumed = totals
		return nil
	})
	if err := g.Wait(); err != nil {
		return recommendation.NutritionConstraints{}, err
	}

	adjusted := base.WithBudget(consumed)
	r.logger.Debug("Constraints resolved",
		zap.Strings("conditions", conditions),
		zap.String("constraints", adjusted.Compact()))

	return adjusted, nil
}

// base returns the unadjusted constraints for a normalised condition set
func (r *Resolver) base(ctx context.Context, conditions []string) (recommendation.NutritionConstraints, error) {
	key := keyPrefix + strings.Join(conditions, ",")

	cached, ok, err := r.cache.Get(ctx, key)
	switch {
	case err != nil:
		r.logger.Warn("Constraint cache read failed, resolving from knowledge base",
			zap.String("key", key), zap.Error(err))
	case ok:
		return cached, nil
	}

	passages, err := r.guidance(ctx, conditions)
	if err != nil {
		return recommendation.NutritionConstraints{}, err
	}

	resolved, err := structured.Generate(ctx, r.model, outbound.GenerateRequest{
		Task:        Task,
		System:      fmt.Sprintf(systemPrompt, strings.Join(recommendation.NutrientKeys(), ", ")),
		Prompt:      buildPrompt(conditions, passages),
		Schema:      schema,
		Temperature: 0,
	}, validateDocument, r.logger)
	if err != nil {
		return recommendation.NutritionConstraints{}, errors.NewRAGError("could not derive constraints from guidance", err)
	}

	constraints, err := recommendation.NewNutritionConstraints(resolved)
	if err != nil {
		return recommendation.NutritionConstraints{}, errors.NewRAGError("derived constraints are invalid", err)
	}

	winner, err := r.cache.PutIfAbsent(ctx, key, constraints)
	if err != nil {
		r.logger.Warn("Constraint cache write failed", zap.String("key", key), zap.Error(err))
		return constraints, nil
	}
	return winner, nil
}

// guidance searches the medical store once per condition, concurrently
func (r *Resolver) guidance(ctx context.Context, conditions []string) ([]outbound.Passage, error) {
	results := make([][]outbound.Passage, len(conditions))

	g, gctx := errgroup.WithContext(ctx)
	for i, condition := range conditions {
		g.Go(func() error {
			passages, err := r.medical.Search(gctx, condition+" dietary guidance", r.cfg.TopK)
			if err != nil {
				return errors.NewRAGError(fmt.Sprintf("medical knowledge search failed for %q", condition), err)
			}
			results[i] = passages
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	passages := dedupe(results)
	if len(passages) == 0 {
		return nil, errors.NewRAGError(fmt.Sprintf("no medical guidance found for %s", strings.Join(conditions, ", ")), nil)
	}
	return passages, nil
}

func dedupe(groups [][]outbound.Passage) []outbound.Passage {
	seen := make(map[string]bool)
	var out []outbound.Passage
	for _, group := range groups {
		for _, p := range group {
			id := p.ID
			if id == "" {
				id = p.Text
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, p)
		}
	}
	return out
}

func buildPrompt(conditions []string, passages []outbound.Passage) string {
	var b strings.Builder
	b.WriteString("Conditions: ")
	b.WriteString(strings.Join(conditions, ", "))
	b.WriteString("\n\nGuidance passages:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] ", i+1)
		if p.Title != "" {
			b.WriteString(p.Title)
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n")
	}
	return b.String()
}

func validateDocument(doc recommendation.ConstraintsDocument) error {
	_, err := recommendation.NewNutritionConstraints(doc)
	return err
}
