// Package knowledge holds what the knowledge store backends share: the
// document model, seed loading, tokenising and reciprocal rank fusion.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/alchemorsel/mealguard/internal/ports/outbound"
)

// CollectionMedical holds dietary guidance passages
const CollectionMedical outbound.Collection = "medical_guidance"

// FusionK is the reciprocal rank fusion constant
const FusionK = 60

// Document is one indexed knowledge base chunk
type Document struct {
	ID         string              `json:"id"`
	Collection outbound.Collection `json:"collection"`
	Title      string              `json:"title,omitempty"`
	Text       string              `json:"text"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

// Validate checks that the document can be indexed
func (d Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if !KnownCollection(d.Collection) {
		return fmt.Errorf("document %s: unknown collection %q", d.ID, d.Collection)
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("document %s: text is required", d.ID)
	}
	return nil
}

// Passage converts the document into a search hit
func (d Document) Passage(score float64) outbound.Passage {
	return outbound.Passage{
		ID:         d.ID,
		Collection: d.Collection,
		Title:      d.Title,
		Text:       d.Text,
		Score:      score,
		Metadata:   d.Metadata,
	}
}

// KnownCollection reports whether c is a collection the stores index
func KnownCollection(c outbound.Collection) bool {
	switch c {
	case CollectionMedical, outbound.CollectionRecipes, outbound.CollectionNutritionFacts:
		return true
	}
	return false
}

// GuidanceFingerprint hashes the medical guidance documents in docs. It
// changes exactly when guidance-derived constraints may change.
func GuidanceFingerprint(docs []Document) string {
	medical := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.Collection == CollectionMedical {
			medical = append(medical, d)
		}
	}
	sort.Slice(medical, func(i, j int) bool { return medical[i].ID < medical[j].ID })

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, d := range medical {
		_ = enc.Encode(d)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

type seedFile struct {
	Documents []Document `json:"documents"`
}

// LoadSeed reads a {"documents": [...]} JSON file
func LoadSeed(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	for _, d := range seed.Documents {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return seed.Documents, nil
}

// Searcher is what a backend implements; the typed views below adapt it to
// the two outbound store ports
type Searcher interface {
	SearchCollection(ctx context.Context, collection outbound.Collection, query string, topK int) ([]outbound.Passage, error)
}

type medicalView struct{ s Searcher }

// Medical exposes the guidance collection of s
func Medical(s Searcher) outbound.MedicalKnowledgeStore { return medicalView{s: s} }

func (v medicalView) Search(ctx context.Context, query string, topK int) ([]outbound.Passage, error) {
	return v.s.SearchCollection(ctx, CollectionMedical, query, topK)
}

type recipeView struct{ s Searcher }

// Recipes exposes the recipe and nutrition-fact collections of s
func Recipes(s Searcher) outbound.RecipeKnowledgeStore { return recipeView{s: s} }

func (v recipeView) Search(ctx context.Context, query string, topK int, collection outbound.Collection) ([]outbound.Passage, error) {
	if collection != outbound.CollectionRecipes && collection != outbound.CollectionNutritionFacts {
		return nil, fmt.Errorf("unknown recipe collection %q", collection)
	}
	return v.s.SearchCollection(ctx, collection, query, topK)
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "i": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {},
	"of": {}, "on": {}, "or": {}, "some": {}, "that": {}, "the": {}, "to": {},
	"want": {}, "with": {},
}

// Terms splits text into lower-case search terms without stopwords
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Fuse merges ranked lists with reciprocal rank fusion. A passage's score
// is the sum of 1/(k+rank) over the lists it appears in; ties keep the
// order in which passages were first seen.
func Fuse(k, topK int, lists ...[]outbound.Passage) []outbound.Passage {
	if k <= 0 {
		k = FusionK
	}

	type fused struct {
		passage outbound.Passage
		score   float64
		first   int
	}
	byID := make(map[string]*fused)
	seen := 0
	for _, list := range lists {
		for rank, p := range list {
			f, ok := byID[p.ID]
			if !ok {
				f = &fused{passage: p, first: seen}
				byID[p.ID] = f
				seen++
			}
			f.score += 1 / float64(k+rank+1)
		}
	}

	all := make([]*fused, 0, len(byID))
	for _, f := range byID {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].first < all[j].first
	})

	if topK > 0 && len(all) > topK {
		all = all[:topK]
	}
	out := make([]outbound.Passage, len(all))
	for i, f := range all {
		out[i] = f.passage
		out[i].Score = f.score
	}
	return out
}
