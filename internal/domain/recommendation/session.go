package recommendation

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// LastRecommendationsKey is where the most recent result is kept in the scratch
const LastRecommendationsKey = "last_recommendations"

// Profile is what is already known about a user
type Profile struct {
	HealthConditions    []string `json:"health_conditions"`
	DietaryRestrictions []string `json:"dietary_restrictions"`
	Allergies           []string `json:"allergies"`
}

// Scratch is per-session working memory. It is safe for concurrent use and
// is never shared between sessions.
type Scratch struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewScratch creates an empty scratch
func NewScratch() *Scratch {
	return &Scratch{values: make(map[string]interface{})}
}

// Get returns a value
func (s *Scratch) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value
func (s *Scratch) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Session is the explicit per-conversation context passed to the pipeline
type Session struct {
	ID       string
	UserID   string
	Location string
	Profile  Profile
	Scratch  *Scratch
}

// NewSession creates a session with a fresh scratch
func NewSession(userID string, profile Profile) *Session {
	return &Session{
		ID:      uuid.NewString(),
		UserID:  userID,
		Profile: profile,
		Scratch: NewScratch(),
	}
}

// LastRecommendations returns the result stored by the previous successful run
func (s *Session) LastRecommendations() (*RecommendationResult, error) {
	if s == nil || s.Scratch == nil {
		return nil, ErrNoPreviousRecommendations
	}
	v, ok := s.Scratch.Get(LastRecommendationsKey)
	if !ok {
		return nil, ErrNoPreviousRecommendations
	}
	result, ok := v.(*RecommendationResult)
	if !ok || result == nil {
		return nil, ErrNoPreviousRecommendations
	}
	return result, nil
}

// CandidateByOrdinal resolves "the second one" style references (1-based)
func (s *Session) CandidateByOrdinal(n int) (ValidatedCandidate, error) {
	result, err := s.LastRecommendations()
	if err != nil {
		return ValidatedCandidate{}, err
	}
	if n < 1 || n > len(result.Candidates) {
		return ValidatedCandidate{}, fmt.Errorf("%w: %d of %d", ErrOrdinalOutOfRange, n, len(result.Candidates))
	}
	return result.Candidates[n-1], nil
}
