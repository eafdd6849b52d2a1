// Package safety decides which generated recipes may reach the user. A
// deterministic rule phase runs first for every candidate; a batched model
// review then looks for violations the rules cannot see.
package safety

import (
	"context"
	"fmt"

	"github.com/alchemorsel/mealguard/internal/application/structured"
	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/alchemorsel/mealguard/pkg/errors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Task labels generation calls in logs and metrics
const Task = "safety"

// CheckResult holds the candidates allowed through and a verdict for every
// candidate that was checked, in the original order
type CheckResult struct {
	Kept     []recommendation.ValidatedCandidate
	Verdicts []recommendation.ValidatedCandidate
	Summary  recommendation.SafetySummary
}

// Validator runs both safety phases
type Validator struct {
	model    outbound.LanguageModel
	validate *validator.Validate
	logger   *zap.Logger
}

// NewValidator creates a new safety validator
func NewValidator(model outbound.LanguageModel, logger *zap.Logger) *Validator {
	return &Validator{
		model:    model,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("safety-validator"),
	}
}

// Check validates every candidate. UNSAFE candidates are dropped; an empty
// Kept list is a result, not an error.
func (v *Validator) Check(ctx context.Context, candidates []recommendation.CandidateRecipe, constraints recommendation.NutritionConstraints, intent recommendation.UserIntent) (*CheckResult, error) {
	for i, c := range candidates {
		if err := v.validate.Struct(c); err != nil {
			return nil, errors.NewSafetyCheckError(fmt.Sprintf("candidate %d is malformed", i+1), err)
		}
		if err := c.Validate(); err != nil {
			return nil, errors.NewSafetyCheckError(fmt.Sprintf("candidate %d is malformed", i+1), err)
		}
	}

	rules := newRuleSet(constraints, intent)
	verdicts := make([]recommendation.SafetyVerdict, len(candidates))
	var survivors []int
	for i, c := range candidates {
		verdicts[i] = rules.check(c)
		if verdicts[i].Status != recommendation.StatusUnsafe {
			survivors = append(survivors, i)
		}
	}

	if len(survivors) > 0 && needsReview(constraints, intent) {
		if err := v.review(ctx, candidates, survivors, verdicts, constraints, intent); err != nil {
			return nil, err
		}
	}

	result := &CheckResult{
		Kept:     make([]recommendation.ValidatedCandidate, 0, len(candidates)),
		Verdicts: make([]recommendation.ValidatedCandidate, 0, len(candidates)),
		Summary:  recommendation.Summarize(verdicts),
	}
	for i, c := range candidates {
		vc := recommendation.ValidatedCandidate{Candidate: c, Verdict: verdicts[i]}
		result.Verdicts = append(result.Verdicts, vc)
		if verdicts[i].Passed() {
			result.Kept = append(result.Kept, vc)
		}
	}

	v.logger.Debug("Safety check complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(result.Kept)),
		zap.Strings("top_reasons", result.Summary.TopReasons))

	return result, nil
}

// review runs the semantic phase over the phase-one survivors in one call
func (v *Validator) review(ctx context.Context, candidates []recommendation.CandidateRecipe, survivors []int, verdicts []recommendation.SafetyVerdict, constraints recommendation.NutritionConstraints, intent recommendation.UserIntent) error {
	batch := make([]recommendation.CandidateRecipe, len(survivors))
	for i, idx := range survivors {
		batch[i] = candidates[idx]
	}

	answer, err := structured.Generate[semanticAnswer](ctx, v.model, outbound.GenerateRequest{
		Task:        Task,
		System:      semanticSystemPrompt,
		Prompt:      semanticPrompt(intent, constraints, batch),
		Schema:      semanticSchema,
		Temperature: 0,
	}, validateAnswer(len(batch)), v.logger)
	if err != nil {
		if intent.HasHardLimits() {
			return errors.NewSafetyCheckError("semantic review unavailable for a request with restrictions or allergies", err)
		}
		v.logger.Warn("Semantic review unavailable, keeping rule verdicts", zap.Error(err))
		for _, idx := range survivors {
			verdicts[idx].Add(recommendation.Reason{
				RuleID:  "semantic.unavailable",
				Phase:   recommendation.PhaseSemantic,
				Status:  recommendation.StatusWarning,
				Message: "semantic review could not be completed",
			})
		}
		return nil
	}

	byIndex := answer.byIndex()
	for i, idx := range survivors {
		sv, ok := byIndex[i+1]
		if !ok {
			verdicts[idx].Add(recommendation.Reason{
				RuleID:  "semantic.no_verdict",
				Phase:   recommendation.PhaseSemantic,
				Status:  recommendation.StatusWarning,
				Message: "semantic review returned no verdict",
			})
			continue
		}
		if reason, ok := sv.reason(); ok {
			verdicts[idx].Add(reason)
		}
	}
	return nil
}

// needsReview reports whether there is anything for the semantic phase to judge
func needsReview(constraints recommendation.NutritionConstraints, intent recommendation.UserIntent) bool {
	return intent.HasHardLimits() ||
		len(intent.HealthConditions()) > 0 ||
		len(constraints.Avoid()) > 0
}
