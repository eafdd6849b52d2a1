package recommendation

import (
	"encoding/json"
	"sort"
	"strings"
)

// IntentFields is the mutable input used to build a UserIntent
type IntentFields struct {
	HealthConditions    []string `json:"health_conditions"`
	DietaryRestrictions []string `json:"dietary_restrictions"`
	Allergies           []string `json:"allergies"`
	Preferences         []string `json:"preferences"`
	Instructions        string   `json:"instructions"`
}

// UserIntent is the structured reading of one user message. It is immutable;
// accessors return copies.
type UserIntent struct {
	healthConditions    []string
	dietaryRestrictions []string
	allergies           []string
	preferences         []string
	instructions        string
}

// NewUserIntent normalises the set-valued fields (trim, lower-case, dedupe, sort)
func NewUserIntent(f IntentFields) UserIntent {
	return UserIntent{
		healthConditions:    NormalizeTerms(f.HealthConditions),
		dietaryRestrictions: NormalizeTerms(f.DietaryRestrictions),
		allergies:           NormalizeTerms(f.Allergies),
		preferences:         NormalizeTerms(f.Preferences),
		instructions:        strings.TrimSpace(f.Instructions),
	}
}

// HealthConditions returns the health conditions
func (u UserIntent) HealthConditions() []string { return cloneStrings(u.healthConditions) }

// DietaryRestrictions returns the dietary restrictions
func (u UserIntent) DietaryRestrictions() []string { return cloneStrings(u.dietaryRestrictions) }

// Allergies returns the allergies
func (u UserIntent) Allergies() []string { return cloneStrings(u.allergies) }

// Preferences returns the preferences
func (u UserIntent) Preferences() []string { return cloneStrings(u.preferences) }

// Instructions returns the free-text instructions
func (u UserIntent) Instructions() string { return u.instructions }

// IsEmpty reports whether nothing was extracted
func (u UserIntent) IsEmpty() bool {
	return len(u.healthConditions) == 0 &&
		len(u.dietaryRestrictions) == 0 &&
		len(u.allergies) == 0 &&
		len(u.preferences) == 0 &&
		u.instructions == ""
}

// HasHardLimits reports whether the intent carries restrictions or allergies,
// which must never be relaxed.
func (u UserIntent) HasHardLimits() bool {
	return len(u.dietaryRestrictions) > 0 || len(u.allergies) > 0
}

// Fields returns a mutable copy of the intent
func (u UserIntent) Fields() IntentFields {
	return IntentFields{
		HealthConditions:    u.HealthConditions(),
		DietaryRestrictions: u.DietaryRestrictions(),
		Allergies:           u.Allergies(),
		Preferences:         u.Preferences(),
		Instructions:        u.instructions,
	}
}

// Merge unions the intent with a stored profile
func (u UserIntent) Merge(p Profile) UserIntent {
	f := u.Fields()
	f.HealthConditions = append(f.HealthConditions, p.HealthConditions...)
	f.DietaryRestrictions = append(f.DietaryRestrictions, p.DietaryRestrictions...)
	f.Allergies = append(f.Allergies, p.Allergies...)
	return NewUserIntent(f)
}

// WithInstructions appends text to the instructions
func (u UserIntent) WithInstructions(text string) UserIntent {
	text = strings.TrimSpace(text)
	if text == "" {
		return u
	}
	f := u.Fields()
	if f.Instructions == "" {
		f.Instructions = text
	} else {
		f.Instructions = f.Instructions + "; " + text
	}
	return NewUserIntent(f)
}

// MarshalJSON renders the intent in its wire shape
func (u UserIntent) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Fields())
}

// UnmarshalJSON parses the wire shape and normalises it
func (u *UserIntent) UnmarshalJSON(data []byte) error {
	var f IntentFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*u = NewUserIntent(f)
	return nil
}

// NormalizeTerms trims, lower-cases, dedupes and sorts a list of terms
func NormalizeTerms(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		t := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
