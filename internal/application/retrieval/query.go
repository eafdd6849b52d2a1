// Package retrieval finds candidate recipes in the recipe and nutrition-fact
// collections and asks the model to propose candidates grounded in them
package retrieval

import (
	"strings"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
)

// AugmentedQuery is the user's request plus everything the pipeline learned
// about them. Routing looks only at Request.
type AugmentedQuery struct {
	Request     string
	Intent      recommendation.UserIntent
	Constraints recommendation.NutritionConstraints
}

// NewAugmentedQuery bundles a request with its intent and constraints
func NewAugmentedQuery(request string, intent recommendation.UserIntent, constraints recommendation.NutritionConstraints) AugmentedQuery {
	return AugmentedQuery{
		Request:     strings.TrimSpace(request),
		Intent:      intent,
		Constraints: constraints,
	}
}

// Text renders the query for search and prompting
func (q AugmentedQuery) Text() string {
	var b strings.Builder
	b.WriteString(q.Request)

	section := func(label string, values []string) {
		if len(values) == 0 {
			return
		}
		b.WriteString("\n")
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(strings.Join(values, ", "))
	}
	section("Health conditions", q.Intent.HealthConditions())
	section("Dietary restrictions", q.Intent.DietaryRestrictions())
	section("Allergies", q.Intent.Allergies())
	section("Preferences", q.Intent.Preferences())
	if s := q.Intent.Instructions(); s != "" {
		b.WriteString("\nInstructions: ")
		b.WriteString(s)
	}
	if c := q.Constraints.Compact(); c != "" {
		b.WriteString("\nConstraints: ")
		b.WriteString(c)
	}
	return b.String()
}

// SearchText is the compact form sent to the knowledge stores
func (q AugmentedQuery) SearchText() string {
	parts := []string{q.Request}
	parts = append(parts, q.Intent.DietaryRestrictions()...)
	parts = append(parts, q.Intent.Preferences()...)
	return strings.Join(parts, " ")
}
