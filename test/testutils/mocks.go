// Package testutils provides mock implementations for testing
package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/stretchr/testify/mock"
)

// MockLanguageModel provides a mock implementation of LanguageModel
type MockLanguageModel struct {
	mock.Mock
}

// Name returns the backend name
func (m *MockLanguageModel) Name() string {
	args := m.Called()
	return args.String(0)
}

// Generate returns the configured response
func (m *MockLanguageModel) Generate(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*outbound.GenerateResponse)
	return resp, args.Error(1)
}

// ScriptedModel answers by task name. Each task has a queue of replies;
// the last reply repeats once the queue is drained.
type ScriptedModel struct {
	mu      sync.Mutex
	replies map[string][]ScriptedReply
	calls   []outbound.GenerateRequest
}

// ScriptedReply is one canned model answer
type ScriptedReply struct {
	Text string
	Err  error
}

// NewScriptedModel creates an empty scripted model
func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{replies: make(map[string][]ScriptedReply)}
}

// On queues text as the next answer for task
func (s *ScriptedModel) On(task, text string) *ScriptedModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[task] = append(s.replies[task], ScriptedReply{Text: text})
	return s
}

// Fail queues err as the next answer for task
func (s *ScriptedModel) Fail(task string, err error) *ScriptedModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[task] = append(s.replies[task], ScriptedReply{Err: err})
	return s
}

// Name returns the backend name
func (s *ScriptedModel) Name() string { return "scripted" }

// Generate pops the next reply for req.Task
func (s *ScriptedModel) Generate(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	queue := s.replies[req.Task]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted reply for task %q", req.Task)
	}
	reply := queue[0]
	if len(queue) > 1 {
		s.replies[req.Task] = queue[1:]
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &outbound.GenerateResponse{Text: reply.Text, Model: "scripted"}, nil
}

// Calls returns every request seen so far
func (s *ScriptedModel) Calls() []outbound.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbound.GenerateRequest(nil), s.calls...)
}

// CallsFor returns the requests seen for task
func (s *ScriptedModel) CallsFor(task string) []outbound.GenerateRequest {
	var out []outbound.GenerateRequest
	for _, c := range s.Calls() {
		if c.Task == task {
			out = append(out, c)
		}
	}
	return out
}

// MockMedicalStore provides a mock implementation of MedicalKnowledgeStore
type MockMedicalStore struct {
	mock.Mock
}

// Search returns the configured passages
func (m *MockMedicalStore) Search(ctx context.Context, query string, topK int) ([]outbound.Passage, error) {
	args := m.Called(ctx, query, topK)
	passages, _ := args.Get(0).([]outbound.Passage)
	return passages, args.Error(1)
}

// MockRecipeStore provides a mock implementation of RecipeKnowledgeStore
type MockRecipeStore struct {
	mock.Mock
}

// Search returns the configured passages
func (m *MockRecipeStore) Search(ctx context.Context, query string, topK int, collection outbound.Collection) ([]outbound.Passage, error) {
	args := m.Called(ctx, query, topK, collection)
	passages, _ := args.Get(0).([]outbound.Passage)
	return passages, args.Error(1)
}

// MockEmbedder provides a mock implementation of Embedder
type MockEmbedder struct {
	mock.Mock
}

// Embed returns the configured vector
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

// MockNutritionLedger provides a mock implementation of NutritionLedger
type MockNutritionLedger struct {
	mock.Mock
}

// TodayTotals returns the configured totals
func (m *MockNutritionLedger) TodayTotals(ctx context.Context, userID string, day time.Time) (map[string]float64, error) {
	args := m.Called(ctx, userID, day)
	totals, _ := args.Get(0).(map[string]float64)
	return totals, args.Error(1)
}

// AppendEntry records the call
func (m *MockNutritionLedger) AppendEntry(ctx context.Context, userID string, candidate recommendation.CandidateRecipe, at time.Time) error {
	args := m.Called(ctx, userID, candidate, at)
	return args.Error(0)
}

// InMemoryLedger is a working ledger for end-to-end pipeline tests
type InMemoryLedger struct {
	mu      sync.Mutex
	entries map[string][]ledgerEntry
	loc     *time.Location
}

type ledgerEntry struct {
	at     time.Time
	totals map[string]float64
}

// NewInMemoryLedger creates an empty ledger that buckets days in loc
func NewInMemoryLedger(loc *time.Location) *InMemoryLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &InMemoryLedger{entries: make(map[string][]ledgerEntry), loc: loc}
}

// Seed adds a raw nutrient entry for userID
func (l *InMemoryLedger) Seed(userID string, at time.Time, totals map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[userID] = append(l.entries[userID], ledgerEntry{at: at, totals: totals})
}

// TodayTotals sums the entries on day's calendar date
func (l *InMemoryLedger) TodayTotals(_ context.Context, userID string, day time.Time) (map[string]float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	y, mo, d := day.In(l.loc).Date()
	out := make(map[string]float64)
	for _, e := range l.entries[userID] {
		ey, emo, ed := e.at.In(l.loc).Date()
		if ey != y || emo != mo || ed != d {
			continue
		}
		for k, v := range e.totals {
			out[k] += v
		}
	}
	return out, nil
}

// AppendEntry stores the candidate's nutrition facts
func (l *InMemoryLedger) AppendEntry(_ context.Context, userID string, candidate recommendation.CandidateRecipe, at time.Time) error {
	totals := make(map[string]float64, len(candidate.NutritionFacts))
	for k, v := range candidate.NutritionFacts {
		totals[k] = v
	}
	l.Seed(userID, at, totals)
	return nil
}

// Entries returns how many entries userID has
func (l *InMemoryLedger) Entries(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[userID])
}

// MockConstraintCache provides a mock implementation of ConstraintCache
type MockConstraintCache struct {
	mock.Mock
}

// Get returns the configured lookup result
func (m *MockConstraintCache) Get(ctx context.Context, key string) (recommendation.NutritionConstraints, bool, error) {
	args := m.Called(ctx, key)
	value, _ := args.Get(0).(recommendation.NutritionConstraints)
	return value, args.Bool(1), args.Error(2)
}

// PutIfAbsent returns the configured winner
func (m *MockConstraintCache) PutIfAbsent(ctx context.Context, key string, value recommendation.NutritionConstraints) (recommendation.NutritionConstraints, error) {
	args := m.Called(ctx, key, value)
	winner, _ := args.Get(0).(recommendation.NutritionConstraints)
	return winner, args.Error(1)
}

// MapConstraintCache is a working first-writer-wins cache
type MapConstraintCache struct {
	mu      sync.Mutex
	entries map[string]recommendation.NutritionConstraints
	puts    int
}

// NewMapConstraintCache creates an empty cache
func NewMapConstraintCache() *MapConstraintCache {
	return &MapConstraintCache{entries: make(map[string]recommendation.NutritionConstraints)}
}

// Get looks up key
func (c *MapConstraintCache) Get(_ context.Context, key string) (recommendation.NutritionConstraints, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

// PutIfAbsent keeps the first value written for key
func (c *MapConstraintCache) PutIfAbsent(_ context.Context, key string, value recommendation.NutritionConstraints) (recommendation.NutritionConstraints, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = value
	c.puts++
	return value, nil
}

// Writes returns how many keys were stored
func (c *MapConstraintCache) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}
