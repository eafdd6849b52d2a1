package recommendation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Bound is an optional min/max pair for one nutrient
type Bound struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// MaxBound builds a bound with only an upper limit
func MaxBound(v float64) Bound { return Bound{Max: floatPtr(v)} }

// MinBound builds a bound with only a lower limit
func MinBound(v float64) Bound { return Bound{Min: floatPtr(v)} }

// Range builds a bound with both limits
func Range(min, max float64) Bound { return Bound{Min: floatPtr(min), Max: floatPtr(max)} }

// IsZero reports whether neither limit is set
func (b Bound) IsZero() bool { return b.Min == nil && b.Max == nil }

func (b Bound) clone() Bound {
	var out Bound
	if b.Min != nil {
		out.Min = floatPtr(*b.Min)
	}
	if b.Max != nil {
		out.Max = floatPtr(*b.Max)
	}
	return out
}

func (b Bound) validate(key string) error {
	for _, v := range []*float64{b.Min, b.Max} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("%w: %s", ErrNonFiniteBound, key)
		}
		if *v < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeBound, key)
		}
	}
	if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
		return fmt.Errorf("%w: %s", ErrInvertedBound, key)
	}
	return nil
}

// ConstraintsDocument is the wire shape of NutritionConstraints
type ConstraintsDocument struct {
	Avoid       []string         `json:"avoid"`
	Constraints map[string]Bound `json:"constraints"`
	Notes       string           `json:"notes,omitempty"`
}

// NutritionConstraints is the resolved, immutable set of limits for one user.
type NutritionConstraints struct {
	avoid  []string
	bounds map[string]Bound
	notes  string
}

// NewNutritionConstraints validates and canonicalises a constraints document
func NewNutritionConstraints(doc ConstraintsDocument) (NutritionConstraints, error) {
	bounds := make(map[string]Bound, len(doc.Constraints))
	for raw, b := range doc.Constraints {
		key, ok := CanonicalNutrientKey(raw)
		if !ok {
			return NutritionConstraints{}, fmt.Errorf("%w: %q", ErrUnknownNutrient, raw)
		}
		if b.IsZero() {
			continue
		}
		if err := b.validate(key); err != nil {
			return NutritionConstraints{}, err
		}
		if existing, dup := bounds[key]; dup {
			b = tighter(existing, b)
			if err := b.validate(key); err != nil {
				return NutritionConstraints{}, err
			}
		}
		bounds[key] = b.clone()
	}

	for _, term := range doc.Avoid {
		if strings.TrimSpace(term) == "" {
			return NutritionConstraints{}, ErrEmptyAvoidTerm
		}
	}

	return NutritionConstraints{
		avoid:  NormalizeTerms(doc.Avoid),
		bounds: bounds,
		notes:  strings.TrimSpace(doc.Notes),
	}, nil
}

// PermissiveConstraints returns constraints that restrict nothing
func PermissiveConstraints() NutritionConstraints {
	return NutritionConstraints{avoid: []string{}, bounds: map[string]Bound{}}
}

// Avoid returns the sorted avoid terms
func (c NutritionConstraints) Avoid() []string { return cloneStrings(c.avoid) }

// Notes returns the free-text guidance notes
func (c NutritionConstraints) Notes() string { return c.notes }

// Bounds returns a copy of the nutrient bounds
func (c NutritionConstraints) Bounds() map[string]Bound {
	out := make(map[string]Bound, len(c.bounds))
	for k, b := range c.bounds {
		out[k] = b.clone()
	}
	return out
}

// Bound returns the bound for a nutrient key
func (c NutritionConstraints) Bound(key string) (Bound, bool) {
	b, ok := c.bounds[key]
	return b.clone(), ok
}

// BoundKeys returns the constrained nutrient keys in sorted order
func (c NutritionConstraints) BoundKeys() []string {
	keys := make([]string, 0, len(c.bounds))
	for k := range c.bounds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsPermissive reports whether the constraints restrict nothing
func (c NutritionConstraints) IsPermissive() bool {
	return len(c.avoid) == 0 && len(c.bounds) == 0
}

// WithBudget subtracts today's consumption from every max bound. Min bounds
// are not adjusted and max bounds never drop below zero. The receiver is not
// modified.
func (c NutritionConstraints) WithBudget(consumed map[string]float64) NutritionConstraints {
	out := NutritionConstraints{
		avoid:  cloneStrings(c.avoid),
		bounds: make(map[string]Bound, len(c.bounds)),
		notes:  c.notes,
	}
	for k, b := range c.bounds {
		adjusted := b.clone()
		if used, ok := consumed[k]; ok && adjusted.Max != nil && used > 0 {
			*adjusted.Max = math.Max(0, *adjusted.Max-used)
		}
		out.bounds[k] = adjusted
	}
	return out
}

// Document returns the wire shape
func (c NutritionConstraints) Document() ConstraintsDocument {
	return ConstraintsDocument{Avoid: c.Avoid(), Constraints: c.Bounds(), Notes: c.notes}
}

// MarshalJSON renders the constraints in their wire shape
func (c NutritionConstraints) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Document())
}

// UnmarshalJSON parses and validates the wire shape
func (c *NutritionConstraints) UnmarshalJSON(data []byte) error {
	var doc ConstraintsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	parsed, err := NewNutritionConstraints(doc)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Compact renders the constraints as a short single line, e.g.
// "avoid: candy, soda; sugar_g<=10; protein_g>=20"
func (c NutritionConstraints) Compact() string {
	var parts []string
	if len(c.avoid) > 0 {
		parts = append(parts, "avoid: "+strings.Join(c.avoid, ", "))
	}
	for _, k := range c.BoundKeys() {
		b := c.bounds[k]
		if b.Min != nil {
			parts = append(parts, k+">="+formatAmount(*b.Min))
		}
		if b.Max != nil {
			parts = append(parts, k+"<="+formatAmount(*b.Max))
		}
	}
	return strings.Join(parts, "; ")
}

func tighter(a, b Bound) Bound {
	out := a.clone()
	if b.Min != nil && (out.Min == nil || *b.Min > *out.Min) {
		out.Min = floatPtr(*b.Min)
	}
	if b.Max != nil && (out.Max == nil || *b.Max < *out.Max) {
		out.Max = floatPtr(*b.Max)
	}
	return out
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func floatPtr(v float64) *float64 { return &v }
