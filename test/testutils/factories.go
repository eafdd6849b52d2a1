// Package testutils provides test data factories for consistent test data generation
package testutils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/infrastructure/knowledge"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// plantIngredients never trip a restriction or allergen rule
var plantIngredients = []string{
	"lentils", "chickpeas", "brown rice", "quinoa", "spinach", "kale",
	"carrot", "zucchini", "bell pepper", "tomato", "onion", "garlic",
	"olive oil", "cumin", "basil", "lemon", "sweet potato", "broccoli",
}

var quantities = []string{"1 cup", "2 cups", "1 tbsp", "2 tsp", "200 g", "1", "2 cloves", "a pinch"}

// CandidateFactory provides methods to create test candidates
type CandidateFactory struct {
	faker *gofakeit.Faker
}

// NewCandidateFactory creates a new candidate factory with seeded faker
func NewCandidateFactory(seed int64) *CandidateFactory {
	return &CandidateFactory{
		faker: gofakeit.New(seed),
	}
}

// CandidateBuilder provides a fluent interface for building test candidates
type CandidateBuilder struct {
	name         string
	ingredients  []recommendation.Ingredient
	instructions string
	facts        map[string]float64
	prep         *recommendation.PrepInfo
	sources      []string
}

// NewCandidateBuilder creates a new candidate builder with default values
func NewCandidateBuilder() *CandidateBuilder {
	faker := gofakeit.New(time.Now().UnixNano())

	return &CandidateBuilder{
		name:         faker.Adjective() + " " + faker.RandomString(plantIngredients) + " bowl",
		ingredients:  []recommendation.Ingredient{},
		instructions: faker.Sentence(12),
		facts: map[string]float64{
			recommendation.NutrientCalories: 450,
			recommendation.NutrientSodium:   300,
		},
	}
}

// WithName sets the candidate name
func (cb *CandidateBuilder) WithName(name string) *CandidateBuilder {
	cb.name = name
	return cb
}

// WithIngredients replaces the ingredient list
func (cb *CandidateBuilder) WithIngredients(names ...string) *CandidateBuilder {
	cb.ingredients = cb.ingredients[:0]
	for _, n := range names {
		cb.ingredients = append(cb.ingredients, recommendation.Ingredient{Name: n, Quantity: "1 cup"})
	}
	return cb
}

// WithNutrient sets one nutrition fact
func (cb *CandidateBuilder) WithNutrient(key string, value float64) *CandidateBuilder {
	if cb.facts == nil {
		cb.facts = map[string]float64{}
	}
	cb.facts[key] = value
	return cb
}

// WithoutNutrition drops all nutrition facts
func (cb *CandidateBuilder) WithoutNutrition() *CandidateBuilder {
	cb.facts = nil
	return cb
}

// WithPrep sets the timing details
func (cb *CandidateBuilder) WithPrep(prepMinutes, cookMinutes, servings int) *CandidateBuilder {
	cb.prep = &recommendation.PrepInfo{PrepMinutes: prepMinutes, CookMinutes: cookMinutes, Servings: servings}
	return cb
}

// WithSources sets the passage IDs the candidate was built from
func (cb *CandidateBuilder) WithSources(ids ...string) *CandidateBuilder {
	cb.sources = ids
	return cb
}

// Build creates the candidate, validating it
func (cb *CandidateBuilder) Build() (recommendation.CandidateRecipe, error) {
	c := cb.BuildUnchecked()
	if err := c.Validate(); err != nil {
		return recommendation.CandidateRecipe{}, err
	}
	return c, nil
}

// BuildUnchecked creates the candidate without validation, for tests of
// malformed input
func (cb *CandidateBuilder) BuildUnchecked() recommendation.CandidateRecipe {
	ingredients := make([]recommendation.Ingredient, len(cb.ingredients))
	copy(ingredients, cb.ingredients)

	var facts map[string]float64
	if cb.facts != nil {
		facts = make(map[string]float64, len(cb.facts))
		for k, v := range cb.facts {
			facts[k] = v
		}
	}

	return recommendation.CandidateRecipe{
		Name:           cb.name,
		Ingredients:    ingredients,
		Instructions:   cb.instructions,
		NutritionFacts: facts,
		Prep:           cb.prep,
		Sources:        append([]string(nil), cb.sources...),
	}
}

// CandidateFactory methods for creating common candidate types

// CreatePlantCandidate creates a vegan, allergen-free candidate
func (cf *CandidateFactory) CreatePlantCandidate() recommendation.CandidateRecipe {
	count := cf.faker.IntRange(3, 6)
	names := make([]string, 0, count)
	seen := map[string]bool{}
	for len(names) < count {
		n := cf.faker.RandomString(plantIngredients)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	ingredients := make([]recommendation.Ingredient, 0, len(names))
	for _, n := range names {
		ingredients = append(ingredients, recommendation.Ingredient{Name: n, Quantity: cf.faker.RandomString(quantities)})
	}

	return recommendation.CandidateRecipe{
		Name:         fmt.Sprintf("%s %s", cf.faker.Adjective(), names[0]),
		Ingredients:  ingredients,
		Instructions: cf.faker.Sentence(15),
		NutritionFacts: map[string]float64{
			recommendation.NutrientCalories: float64(cf.faker.IntRange(250, 700)),
			recommendation.NutrientSodium:   float64(cf.faker.IntRange(50, 600)),
			recommendation.NutrientProtein:  float64(cf.faker.IntRange(5, 35)),
		},
		Prep: &recommendation.PrepInfo{
			PrepMinutes: cf.faker.IntRange(5, 20),
			CookMinutes: cf.faker.IntRange(0, 45),
			Servings:    cf.faker.IntRange(1, 4),
		},
	}
}

// CreateCandidates creates n plant candidates
func (cf *CandidateFactory) CreateCandidates(n int) []recommendation.CandidateRecipe {
	out := make([]recommendation.CandidateRecipe, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cf.CreatePlantCandidate())
	}
	return out
}

// CreateIntent creates an intent with the given restrictions and a random preference
func (cf *CandidateFactory) CreateIntent(conditions, restrictions, allergies []string) recommendation.UserIntent {
	return recommendation.NewUserIntent(recommendation.IntentFields{
		HealthConditions:    conditions,
		DietaryRestrictions: restrictions,
		Allergies:           allergies,
		Preferences:         []string{cf.faker.RandomString([]string{"quick", "spicy", "comfort food", "high protein"})},
		Instructions:        cf.faker.Sentence(6),
	})
}

// CreateDocument creates a knowledge document in collection
func (cf *CandidateFactory) CreateDocument(collection outbound.Collection) knowledge.Document {
	return knowledge.Document{
		ID:         uuid.NewString(),
		Collection: collection,
		Title:      cf.faker.Sentence(3),
		Text:       cf.faker.Paragraph(1, 3, 12, " "),
	}
}

// CandidatesJSON renders candidates the way the retriever's model reply looks
func CandidatesJSON(candidates ...recommendation.CandidateRecipe) string {
	data, err := json.Marshal(map[string]any{"candidates": candidates})
	if err != nil {
		panic(err)
	}
	return string(data)
}
