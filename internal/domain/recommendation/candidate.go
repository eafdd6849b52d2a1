package recommendation

import (
	"fmt"
	"math"
	"strings"
)

// Ingredient is one line of a candidate's ingredient list
type Ingredient struct {
	Name     string `json:"name" validate:"required"`
	Quantity string `json:"quantity,omitempty"`
}

// PrepInfo holds optional timing details
type PrepInfo struct {
	PrepMinutes int `json:"prep_minutes,omitempty" validate:"gte=0"`
	CookMinutes int `json:"cook_minutes,omitempty" validate:"gte=0"`
	Servings    int `json:"servings,omitempty" validate:"gte=0"`
}

// CandidateRecipe is a generated recommendation before validation
type CandidateRecipe struct {
	Name           string             `json:"name" validate:"required"`
	Ingredients    []Ingredient       `json:"ingredients" validate:"required,min=1,dive"`
	Instructions   string             `json:"instructions"`
	NutritionFacts map[string]float64 `json:"nutrition_facts,omitempty"`
	Prep           *PrepInfo          `json:"prep,omitempty" validate:"omitempty"`
	Sources        []string           `json:"sources,omitempty"`
}

// Validate checks the invariants the safety rules rely on
func (c CandidateRecipe) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrCandidateNameMissing
	}
	if len(c.Ingredients) == 0 {
		return ErrNoIngredients
	}
	for k, v := range c.NutritionFacts {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeNutrient, k)
		}
	}
	return nil
}

// Nutrient returns the value for a canonical key
func (c CandidateRecipe) Nutrient(key string) (float64, bool) {
	v, ok := c.NutritionFacts[key]
	return v, ok
}

// IngredientNames returns the ingredient names in order
func (c CandidateRecipe) IngredientNames() []string {
	names := make([]string, 0, len(c.Ingredients))
	for _, in := range c.Ingredients {
		names = append(names, in.Name)
	}
	return names
}
