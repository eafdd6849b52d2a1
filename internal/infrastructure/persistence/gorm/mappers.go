package gorm

import (
	"sort"
	"strings"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
)

// dayKey is the ledger's calendar-day bucket for t in loc
func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

// CandidateToModel converts an eaten candidate into a ledger row. Nutrient
// keys are canonicalised; keys with no canonical form are dropped and
// returned so the caller can log them.
func CandidateToModel(userID string, c recommendation.CandidateRecipe, at time.Time, loc *time.Location) (*LedgerEntryModel, []string) {
	model := &LedgerEntryModel{
		UserID:     userID,
		Day:        dayKey(at, loc),
		RecipeName: strings.TrimSpace(c.Name),
		Sources:    StringSlice(c.Sources),
		EatenAt:    at.UTC(),
	}

	for _, in := range c.Ingredients {
		line := in.Name
		if in.Quantity != "" {
			line = in.Quantity + " " + in.Name
		}
		model.Ingredients = append(model.Ingredients, line)
	}

	var dropped []string
	amounts := make(map[string]float64, len(c.NutritionFacts))
	for raw, v := range c.NutritionFacts {
		key, ok := recommendation.CanonicalNutrientKey(raw)
		if !ok {
			dropped = append(dropped, raw)
			continue
		}
		amounts[key] += v
	}

	keys := make([]string, 0, len(amounts))
	for k := range amounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		model.Nutrients = append(model.Nutrients, LedgerNutrientModel{Nutrient: k, Amount: amounts[k]})
	}

	sort.Strings(dropped)
	return model, dropped
}
