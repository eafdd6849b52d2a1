package retrieval

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
)

// envelope is the generation answer before normalisation. Models drift on
// member types, so every loosely typed member is kept raw.
type envelope struct {
	Candidates []rawCandidate `json:"candidates"`
}

type rawCandidate struct {
	Name           string                     `json:"name"`
	Title          string                     `json:"title"`
	Ingredients    []json.RawMessage          `json:"ingredients"`
	Instructions   json.RawMessage            `json:"instructions"`
	Steps          json.RawMessage            `json:"steps"`
	NutritionFacts map[string]json.RawMessage `json:"nutrition_facts"`
	Nutrition      map[string]json.RawMessage `json:"nutrition"`
	PrepMinutes    json.RawMessage            `json:"prep_minutes"`
	CookMinutes    json.RawMessage            `json:"cook_minutes"`
	Servings       json.RawMessage            `json:"servings"`
	Sources        []string                   `json:"sources"`
}

type rawIngredient struct {
	Name     string          `json:"name"`
	Item     string          `json:"item"`
	Quantity json.RawMessage `json:"quantity"`
	Amount   json.RawMessage `json:"amount"`
	Unit     string          `json:"unit"`
}

// normalise converts the raw envelope into candidates, rejecting the whole
// answer when any candidate lacks a name or ingredients
func (e envelope) normalise() ([]recommendation.CandidateRecipe, error) {
	if len(e.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in answer")
	}

	out := make([]recommendation.CandidateRecipe, 0, len(e.Candidates))
	for i, raw := range e.Candidates {
		c, err := raw.normalise()
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i+1, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func validateEnvelope(e envelope) error {
	_, err := e.normalise()
	return err
}

func (r rawCandidate) normalise() (recommendation.CandidateRecipe, error) {
	name := strings.TrimSpace(firstNonEmpty(r.Name, r.Title))
	if name == "" {
		return recommendation.CandidateRecipe{}, recommendation.ErrCandidateNameMissing
	}

	ingredients := make([]recommendation.Ingredient, 0, len(r.Ingredients))
	for _, raw := range r.Ingredients {
		in, ok := parseIngredient(raw)
		if ok {
			ingredients = append(ingredients, in)
		}
	}
	if len(ingredients) == 0 {
		return recommendation.CandidateRecipe{}, recommendation.ErrNoIngredients
	}

	instructions := parseInstructions(r.Instructions)
	if instructions == "" {
		instructions = parseInstructions(r.Steps)
	}

	facts := r.NutritionFacts
	if len(facts) == 0 {
		facts = r.Nutrition
	}

	c := recommendation.CandidateRecipe{
		Name:           name,
		Ingredients:    ingredients,
		Instructions:   instructions,
		NutritionFacts: parseNutrition(facts),
		Sources:        r.Sources,
	}

	prep, prepOK := parseNumber(r.PrepMinutes)
	cook, cookOK := parseNumber(r.CookMinutes)
	servings, servOK := parseNumber(r.Servings)
	if prepOK || cookOK || servOK {
		c.Prep = &recommendation.PrepInfo{
			PrepMinutes: int(math.Round(prep)),
			CookMinutes: int(math.Round(cook)),
			Servings:    int(math.Round(servings)),
		}
	}
	return c, nil
}

// parseIngredient accepts "2 eggs" or {"name": "eggs", "quantity": 2}
func parseIngredient(raw json.RawMessage) (recommendation.Ingredient, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return recommendation.Ingredient{Name: s}, s != ""
	}

	var obj rawIngredient
	if err := json.Unmarshal(raw, &obj); err != nil {
		return recommendation.Ingredient{}, false
	}
	name := strings.TrimSpace(firstNonEmpty(obj.Name, obj.Item))
	if name == "" {
		return recommendation.Ingredient{}, false
	}

	qty := scalarString(obj.Quantity)
	if qty == "" {
		qty = scalarString(obj.Amount)
	}
	if obj.Unit != "" && qty != "" {
		qty += " " + strings.TrimSpace(obj.Unit)
	}
	return recommendation.Ingredient{Name: name, Quantity: qty}, true
}

// parseInstructions accepts a string or a list of steps
func parseInstructions(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var steps []string
	if err := json.Unmarshal(raw, &steps); err == nil {
		kept := steps[:0]
		for _, step := range steps {
			if step = strings.TrimSpace(step); step != "" {
				kept = append(kept, step)
			}
		}
		return strings.Join(kept, "\n")
	}
	return ""
}

// parseNutrition keeps canonical nutrients with a usable, non-negative
// amount. Aliases that fold onto the same key keep the largest value.
func parseNutrition(raw map[string]json.RawMessage) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key, ok := recommendation.CanonicalNutrientKey(k)
		if !ok {
			continue
		}
		n, ok := parseNumber(v)
		if !ok || n < 0 {
			continue
		}
		if prev, seen := out[key]; !seen || n > prev {
			out[key] = n
		}
	}
	return out
}

// amountPattern matches a leading amount or range: "12.5 g", "1,200 mg",
// "~300 kcal", "10-15 g"
var amountPattern = regexp.MustCompile(`^[~≈<>]*\s*([0-9][0-9,]*(?:\.[0-9]+)?|\.[0-9]+)(?:\s*(?:-|–|to)\s*([0-9][0-9,]*(?:\.[0-9]+)?))?`)

// groupedPattern is a number with comma thousands separators
var groupedPattern = regexp.MustCompile(`^[0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]+)?$`)

// parseNumber accepts 12, 12.5, "12", "12.5 g", "1,200 mg" or "~300 kcal".
// Ranges yield their upper end. Anything ambiguous, like "1,5 g", is
// rejected so the nutrient counts as unstated.
func parseNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	m := amountPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	f, ok := parseAmount(m[1])
	if !ok {
		return 0, false
	}
	if m[2] != "" {
		upper, ok := parseAmount(m[2])
		if !ok {
			return 0, false
		}
		f = math.Max(f, upper)
	}
	return f, true
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimRight(s, ",")
	if strings.Contains(s, ",") {
		if !groupedPattern.MatchString(s) {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
