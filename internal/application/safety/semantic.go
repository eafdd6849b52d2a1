package safety

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
)

const semanticSystemPrompt = `You review recipes for a user with dietary needs. For each numbered recipe decide
whether any ingredient is a non-obvious violation of the user's dietary restrictions or
allergies (for example gelatin is an animal product, prosciutto is pork, worcestershire
sauce contains fish) or goes against the spirit of their health conditions.
Return ONLY a JSON object: {"verdicts": [{"index": 1, "status": "SAFE", "category": "none", "reasons": []}]}
  "index": the recipe number
  "status": SAFE, WARNING or UNSAFE
  "category": restriction, allergy, condition or none
  "reasons": short explanations, empty when SAFE
Use UNSAFE only for a restriction or allergy violation. Use WARNING for anything else
worth telling the user. Give exactly one verdict per recipe.`

var semanticSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "verdicts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "index": {"type": "integer"},
          "status": {"type": "string", "enum": ["SAFE", "WARNING", "UNSAFE"]},
          "category": {"type": "string"},
          "reasons": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["index", "status"]
      }
    }
  },
  "required": ["verdicts"]
}`)

// Semantic verdict categories. Only restriction and allergy findings may
// reject a candidate.
const (
	CategoryRestriction = "restriction"
	CategoryAllergy     = "allergy"
	CategoryCondition   = "condition"
)

type semanticAnswer struct {
	Verdicts *[]semanticVerdict `json:"verdicts"`
}

type semanticVerdict struct {
	Index    int      `json:"index"`
	Status   string   `json:"status"`
	Category string   `json:"category"`
	Reasons  []string `json:"reasons"`
}

func validateAnswer(n int) func(semanticAnswer) error {
	return func(a semanticAnswer) error {
		if a.Verdicts == nil {
			return fmt.Errorf("missing verdicts")
		}
		for _, v := range *a.Verdicts {
			if v.Index < 1 || v.Index > n {
				return fmt.Errorf("verdict index %d out of range 1..%d", v.Index, n)
			}
			if _, ok := recommendation.ParseSafetyStatus(v.Status); !ok {
				return fmt.Errorf("verdict %d has unknown status %q", v.Index, v.Status)
			}
		}
		return nil
	}
}

// byIndex keys verdicts by their 1-based index; a repeated index keeps the
// most severe status
func (a semanticAnswer) byIndex() map[int]semanticVerdict {
	out := map[int]semanticVerdict{}
	if a.Verdicts == nil {
		return out
	}
	for _, v := range *a.Verdicts {
		prev, seen := out[v.Index]
		if seen {
			ps, _ := recommendation.ParseSafetyStatus(prev.Status)
			vs, _ := recommendation.ParseSafetyStatus(v.Status)
			if ps.Max(vs) == ps {
				continue
			}
		}
		out[v.Index] = v
	}
	return out
}

// reason converts a model verdict to a finding. SAFE yields none, and UNSAFE
// outside restriction or allergy is held at WARNING.
func (v semanticVerdict) reason() (recommendation.Reason, bool) {
	status, _ := recommendation.ParseSafetyStatus(v.Status)
	if status == recommendation.StatusSafe {
		return recommendation.Reason{}, false
	}

	category := strings.ToLower(strings.TrimSpace(v.Category))
	if category == "" || category == "none" {
		category = "other"
	}
	if status == recommendation.StatusUnsafe && category != CategoryRestriction && category != CategoryAllergy {
		status = recommendation.StatusWarning
	}

	message := strings.Join(nonEmpty(v.Reasons), "; ")
	if message == "" {
		message = "flagged by semantic review"
	}
	return recommendation.Reason{
		RuleID:  "semantic." + ruleSlug(category),
		Phase:   recommendation.PhaseSemantic,
		Status:  status,
		Message: message,
	}, true
}

// semanticPrompt renders the user's needs and the numbered survivors
func semanticPrompt(intent recommendation.UserIntent, constraints recommendation.NutritionConstraints, batch []recommendation.CandidateRecipe) string {
	var b strings.Builder
	writeList(&b, "Dietary restrictions", intent.DietaryRestrictions())
	writeList(&b, "Allergies", intent.Allergies())
	writeList(&b, "Health conditions", intent.HealthConditions())
	writeList(&b, "Avoid", constraints.Avoid())
	if notes := constraints.Notes(); notes != "" {
		fmt.Fprintf(&b, "Guidance notes: %s\n", notes)
	}

	b.WriteString("\nRecipes:\n")
	for i, c := range batch {
		fmt.Fprintf(&b, "%d. %s\n   Ingredients: %s\n", i+1, c.Name, strings.Join(c.IngredientNames(), ", "))
		if len(c.NutritionFacts) > 0 {
			keys := make([]string, 0, len(c.NutritionFacts))
			for k := range c.NutritionFacts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			facts := make([]string, 0, len(keys))
			for _, k := range keys {
				facts = append(facts, k+"="+amount(c.NutritionFacts[k]))
			}
			fmt.Fprintf(&b, "   Nutrition: %s\n", strings.Join(facts, ", "))
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, ", "))
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
