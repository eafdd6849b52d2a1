package safety

import (
	"regexp"
	"strings"
	"unicode"
)

// descriptors may sit between a qualifier and the food it qualifies, as in
// "dairy free shredded cheese"
var descriptors = []string{"shredded", "grated", "sliced", "unsweetened", "plain", "all", "purpose", "style"}

// matcher matches a phrase as a contiguous run of folded words
type matcher struct {
	phrase     []string
	qualifiers [][]string
	// modifiers are the words allowed between a qualifier and the phrase
	modifiers map[string]bool
}

func newMatcher(phrase []string, qualifiers [][]string, related []string) matcher {
	m := matcher{phrase: phrase, qualifiers: qualifiers, modifiers: map[string]bool{}}
	for _, w := range descriptors {
		m.modifiers[singular(w)] = true
	}
	for _, q := range qualifiers {
		for _, w := range q {
			m.modifiers[w] = true
		}
	}
	for _, r := range related {
		for _, w := range tokenize(r) {
			m.modifiers[w] = true
		}
	}
	return m
}

// matches reports whether any occurrence of the phrase in words is left
// unqualified. A qualifier only applies to the occurrence it overlaps or
// directly precedes.
func (m matcher) matches(words []string) bool {
	for _, i := range occurrences(words, m.phrase) {
		if !m.qualified(words, i) {
			return true
		}
	}
	return false
}

func (m matcher) qualified(words []string, at int) bool {
	end := at + len(m.phrase)
	for _, q := range m.qualifiers {
		for _, s := range occurrences(words, q) {
			e := s + len(q)
			if s < end && e > at {
				return true
			}
			if e <= at && m.onlyModifiers(words[e:at]) {
				return true
			}
		}
	}
	return false
}

func (m matcher) onlyModifiers(words []string) bool {
	for _, w := range words {
		if !m.modifiers[w] {
			return false
		}
	}
	return true
}

func (m matcher) String() string { return strings.Join(m.phrase, " ") }

// alternatives splits "butter (or vegan butter)" into its options
var alternatives = regexp.MustCompile(`(?i)\s+or\s+|[/()]`)

func splitAlternatives(s string) []string {
	var out []string
	for _, part := range alternatives.Split(s, -1) {
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out
}

// tokenize lower-cases s, splits it into words and folds plurals
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, f := range fields {
		fields[i] = singular(f)
	}
	return fields
}

// singular folds common English plurals: berries, tomatoes, dishes, eggs.
// Words ending in "ie" fold like "-ies" so veggie and veggies agree.
func singular(w string) string {
	switch {
	case len(w) <= 3:
		return w
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ie"):
		return w[:len(w)-2] + "y"
	case strings.HasSuffix(w, "oes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"),
		strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

func occurrences(words, phrase []string) []int {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return nil
	}
	var out []int
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, p := range phrase {
			if words[i+j] != p {
				continue outer
			}
		}
		out = append(out, i)
	}
	return out
}
