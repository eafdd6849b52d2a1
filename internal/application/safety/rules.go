package safety

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
)

// boundTolerance absorbs float noise in generated nutrition values
const boundTolerance = 1e-9

type termRule struct {
	ruleID   string
	matchers []matcher
}

type restrictionRule struct {
	ruleID      string
	restriction string
	matchers    []matcher
}

// ruleSet is the deterministic phase, compiled once per Check call
type ruleSet struct {
	terms        []termRule
	restrictions []restrictionRule
	kosher       bool
	meat         []matcher
	dairy        []matcher
	bounds       map[string]recommendation.Bound
	boundKeys    []string
}

func newRuleSet(constraints recommendation.NutritionConstraints, intent recommendation.UserIntent) *ruleSet {
	rs := &ruleSet{
		bounds:    constraints.Bounds(),
		boundKeys: constraints.BoundKeys(),
		meat:      categoryMatchers("meat"),
		dairy:     categoryMatchers("dairy"),
	}

	for _, term := range constraints.Avoid() {
		if ms := expandTerm(term); len(ms) > 0 {
			rs.terms = append(rs.terms, termRule{ruleID: "avoid." + ruleSlug(term), matchers: ms})
		}
	}
	for _, term := range intent.Allergies() {
		if ms := expandTerm(term); len(ms) > 0 {
			rs.terms = append(rs.terms, termRule{ruleID: "allergy." + ruleSlug(term), matchers: ms})
		}
	}

	for _, restriction := range intent.DietaryRestrictions() {
		key := restrictionKey(restriction)
		if key == "kosher" {
			rs.kosher = true
		}
		names := categoriesFor(restriction)
		if len(names) == 0 {
			continue
		}
		rule := restrictionRule{ruleID: "restriction." + ruleSlug(key), restriction: restriction}
		for _, name := range names {
			rule.matchers = append(rule.matchers, categoryMatchers(name)...)
		}
		rs.restrictions = append(rs.restrictions, rule)
	}
	return rs
}

// check runs every deterministic rule against one candidate
func (rs *ruleSet) check(c recommendation.CandidateRecipe) recommendation.SafetyVerdict {
	verdict := recommendation.SafeVerdict()
	lines := scanLines(c)

	for _, rule := range rs.terms {
		if line, m, ok := firstMatch(lines, rule.matchers); ok {
			verdict.Add(unsafe(rule.ruleID, fmt.Sprintf("%q matches %q, which must be avoided", line, m)))
		}
	}

	for _, rule := range rs.restrictions {
		if line, m, ok := firstMatch(lines, rule.matchers); ok {
			verdict.Add(unsafe(rule.ruleID, fmt.Sprintf("%q contains %q, not allowed for %s", line, m, rule.restriction)))
		}
	}

	if rs.kosher {
		_, _, hasMeat := firstMatch(lines, rs.meat)
		_, _, hasDairy := firstMatch(lines, rs.dairy)
		if hasMeat && hasDairy {
			verdict.Add(unsafe("restriction.kosher.meat_dairy", "combines meat and dairy"))
		}
	}

	for _, key := range rs.boundKeys {
		rs.checkBound(&verdict, c, key)
	}
	return verdict
}

func (rs *ruleSet) checkBound(v *recommendation.SafetyVerdict, c recommendation.CandidateRecipe, key string) {
	b := rs.bounds[key]
	value, ok := c.Nutrient(key)
	if !ok {
		v.Add(recommendation.Reason{
			RuleID:  "bound." + key + ".unverified",
			Phase:   recommendation.PhaseRule,
			Status:  recommendation.StatusWarning,
			Message: fmt.Sprintf("%s is limited but the recipe does not state it", key),
		})
		return
	}
	if b.Max != nil && value > *b.Max+boundTolerance {
		v.Add(unsafe("bound."+key+".max", fmt.Sprintf("%s is %s, above the limit of %s", key, amount(value), amount(*b.Max))))
	}
	if b.Min != nil && value < *b.Min-boundTolerance {
		v.Add(unsafe("bound."+key+".min", fmt.Sprintf("%s is %s, below the minimum of %s", key, amount(value), amount(*b.Min))))
	}
}

type scanLine struct {
	text  string
	words []string
}

// scanLines returns the recipe name and each ingredient, tokenized. Lines
// offering alternatives ("eggs or flax egg") yield one entry per option so
// that any forbidden option flags the line.
func scanLines(c recommendation.CandidateRecipe) []scanLine {
	lines := make([]scanLine, 0, len(c.Ingredients)+1)
	texts := make([]string, 0, len(c.Ingredients)+1)
	texts = append(texts, c.Name)
	for _, in := range c.Ingredients {
		texts = append(texts, in.Name)
	}
	for _, text := range texts {
		for _, option := range splitAlternatives(text) {
			lines = append(lines, scanLine{text: text, words: tokenize(option)})
		}
	}
	return lines
}

func firstMatch(lines []scanLine, matchers []matcher) (string, string, bool) {
	for _, line := range lines {
		for _, m := range matchers {
			if m.matches(line.words) {
				return line.text, m.String(), true
			}
		}
	}
	return "", "", false
}

func unsafe(ruleID, message string) recommendation.Reason {
	return recommendation.Reason{
		RuleID:  ruleID,
		Phase:   recommendation.PhaseRule,
		Status:  recommendation.StatusUnsafe,
		Message: message,
	}
}

func ruleSlug(s string) string {
	return strings.Join(tokenize(s), "_")
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
