package retrieval

import (
	"regexp"

	"github.com/alchemorsel/mealguard/internal/ports/outbound"
)

// Route selects which collections a query is sent to
type Route int

const (
	RouteBoth Route = iota
	RouteRecipes
	RouteNutritionFacts
)

func (r Route) String() string {
	switch r {
	case RouteRecipes:
		return "recipes_only"
	case RouteNutritionFacts:
		return "nutrition_facts_only"
	default:
		return "both"
	}
}

// Collections returns the collections searched for r, in context order
func (r Route) Collections() []outbound.Collection {
	switch r {
	case RouteRecipes:
		return []outbound.Collection{outbound.CollectionRecipes}
	case RouteNutritionFacts:
		return []outbound.Collection{outbound.CollectionNutritionFacts}
	default:
		return []outbound.Collection{outbound.CollectionRecipes, outbound.CollectionNutritionFacts}
	}
}

var nutritionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhow (much|many)\b`),
	regexp.MustCompile(`(?i)\b(calories|kcal|protein|carbs?|carbohydrates?|sugars?|sodium|fat|fiber|fibre|cholesterol|potassium)\s+(in|of|does|for)\b`),
	regexp.MustCompile(`(?i)\bnutrition(al)?\s+(facts?|values?|info(rmation)?|content|profile)\b`),
	regexp.MustCompile(`(?i)\b(grams?|mg|milligrams?)\s+of\b`),
	regexp.MustCompile(`(?i)\b(amount|content)\s+of\b`),
	regexp.MustCompile(`(?i)\bis\s+\w+(\s+\w+)?\s+(high|low|rich)\s+in\b`),
}

var recipePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brecipes?\b`),
	regexp.MustCompile(`(?i)\bwhat (can|could|should) i (make|cook|bake|eat|have)\b`),
	regexp.MustCompile(`(?i)\b(make|cook|bake|prepare|grill|roast)\b`),
	regexp.MustCompile(`(?i)\b(breakfast|lunch|dinner|supper|snack|dessert|meal|dish)(es|s)?\b`),
	regexp.MustCompile(`(?i)\b(ideas?|suggest(ions?)?|recommend(ations?)?)\b`),
}

// Classify picks a route from the request text. A query that matches only
// nutrition-fact phrasing or only recipe phrasing goes to that collection;
// anything else is searched in both.
func Classify(text string) Route {
	nutrition := score(nutritionPatterns, text)
	recipe := score(recipePatterns, text)

	switch {
	case nutrition > 0 && recipe == 0:
		return RouteNutritionFacts
	case recipe > 0 && nutrition == 0:
		return RouteRecipes
	default:
		return RouteBoth
	}
}

func score(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			n++
		}
	}
	return n
}
