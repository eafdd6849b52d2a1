// Package memory provides an in-process knowledge store for development,
// tests and small seed corpora
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/alchemorsel/mealguard/internal/infrastructure/knowledge"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"go.uber.org/zap"
)

// BM25 parameters
const (
	k1 = 1.2
	b  = 0.75
)

type entry struct {
	doc    knowledge.Document
	terms  map[string]int
	length int
	vector []float32
}

type index struct {
	entries  []*entry
	byID     map[string]int
	docFreq  map[string]int
	totalLen int
}

func newIndex() *index {
	return &index{byID: make(map[string]int), docFreq: make(map[string]int)}
}

func (ix *index) put(e *entry) {
	if i, ok := ix.byID[e.doc.ID]; ok {
		ix.forget(ix.entries[i])
		ix.entries[i] = e
	} else {
		ix.byID[e.doc.ID] = len(ix.entries)
		ix.entries = append(ix.entries, e)
	}
	for t := range e.terms {
		ix.docFreq[t]++
	}
	ix.totalLen += e.length
}

func (ix *index) forget(e *entry) {
	for t := range e.terms {
		ix.docFreq[t]--
	}
	ix.totalLen -= e.length
}

// Store keeps documents per collection and answers hybrid queries: BM25
// over title and text, cosine similarity when an embedder is configured,
// fused with reciprocal rank fusion
type Store struct {
	mu          sync.RWMutex
	collections map[outbound.Collection]*index
	embedder    outbound.Embedder
	logger      *zap.Logger
}

var _ knowledge.Searcher = (*Store)(nil)

// NewStore creates an empty store. embedder may be nil for lexical-only search.
func NewStore(embedder outbound.Embedder, logger *zap.Logger) *Store {
	return &Store{
		collections: make(map[outbound.Collection]*index),
		embedder:    embedder,
		logger:      logger.Named("knowledge.memory"),
	}
}

// Add indexes docs, replacing any document with the same ID in its collection
func (s *Store) Add(ctx context.Context, docs ...knowledge.Document) error {
	entries := make([]*entry, 0, len(docs))
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			return err
		}

		terms := knowledge.Terms(d.Title + " " + d.Text)
		e := &entry{doc: d, terms: make(map[string]int, len(terms)), length: len(terms)}
		for _, t := range terms {
			e.terms[t]++
		}

		if s.embedder != nil {
			vec, err := s.embedder.Embed(ctx, d.Title+"\n"+d.Text)
			if err != nil {
				return fmt.Errorf("failed to embed document %s: %w", d.ID, err)
			}
			e.vector = vec
		}
		entries = append(entries, e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		ix, ok := s.collections[e.doc.Collection]
		if !ok {
			ix = newIndex()
			s.collections[e.doc.Collection] = ix
		}
		ix.put(e)
	}

	s.logger.Debug("Documents indexed", zap.Int("count", len(entries)))
	return nil
}

// Len returns the number of documents in collection
func (s *Store) Len(collection outbound.Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ix, ok := s.collections[collection]; ok {
		return len(ix.entries)
	}
	return 0
}

// SearchCollection returns up to topK passages from collection ranked by
// fused lexical and semantic relevance. Documents matching neither half
// are never returned.
func (s *Store) SearchCollection(ctx context.Context, collection outbound.Collection, query string, topK int) ([]outbound.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !knowledge.KnownCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if topK <= 0 {
		return nil, nil
	}

	var queryVec []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			// lexical results are still useful without the semantic half
			s.logger.Warn("Query embedding failed, using lexical ranking only", zap.Error(err))
		} else {
			queryVec = vec
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ix, ok := s.collections[collection]
	if !ok || len(ix.entries) == 0 {
		return nil, nil
	}

	lexical := ix.lexical(knowledge.Terms(query), topK*2)
	if queryVec == nil {
		if len(lexical) > topK {
			lexical = lexical[:topK]
		}
		return lexical, nil
	}
	semantic := ix.semantic(queryVec, topK*2)
	return knowledge.Fuse(knowledge.FusionK, topK, lexical, semantic), nil
}

// HealthCheck always succeeds
func (s *Store) HealthCheck(context.Context) error { return nil }

func (ix *index) lexical(terms []string, limit int) []outbound.Passage {
	if len(terms) == 0 {
		return nil
	}
	n := float64(len(ix.entries))
	avgLen := float64(ix.totalLen) / n
	if avgLen == 0 {
		avgLen = 1
	}

	type hit struct {
		e     *entry
		score float64
	}
	var hits []hit
	for _, e := range ix.entries {
		var score float64
		for _, t := range terms {
			tf := float64(e.terms[t])
			if tf == 0 {
				continue
			}
			df := float64(ix.docFreq[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			score += idf * tf * (k1 + 1) / (tf + k1*(1-b+b*float64(e.length)/avgLen))
		}
		if score > 0 {
			hits = append(hits, hit{e: e, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]outbound.Passage, len(hits))
	for i, h := range hits {
		out[i] = h.e.doc.Passage(h.score)
	}
	return out
}

func (ix *index) semantic(query []float32, limit int) []outbound.Passage {
	type hit struct {
		e     *entry
		score float64
	}
	var hits []hit
	for _, e := range ix.entries {
		if sim, ok := cosine(query, e.vector); ok && sim > 0 {
			hits = append(hits, hit{e: e, score: sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]outbound.Passage, len(hits))
	for i, h := range hits {
		out[i] = h.e.doc.Passage(h.score)
	}
	return out
}

func cosine(x, y []float32) (float64, bool) {
	if len(x) == 0 || len(x) != len(y) {
		return 0, false
	}
	var dot, nx, ny float64
	for i := range x {
		dot += float64(x[i]) * float64(y[i])
		nx += float64(x[i]) * float64(x[i])
		ny += float64(y[i]) * float64(y[i])
	}
	if nx == 0 || ny == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(nx) * math.Sqrt(ny)), true
}
