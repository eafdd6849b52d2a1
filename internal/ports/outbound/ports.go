// Package outbound defines the interfaces for outbound ports (secondary/driven adapters)
// These are the interfaces the recommendation pipeline uses to reach external systems
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
)

// Collection names a recipe knowledge base collection
type Collection string

const (
	CollectionRecipes        Collection = "recipes"
	CollectionNutritionFacts Collection = "nutrition_facts"
)

// Passage is one retrieved knowledge base chunk
type Passage struct {
	ID         string            `json:"id"`
	Collection Collection        `json:"collection,omitempty"`
	Title      string            `json:"title,omitempty"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MedicalKnowledgeStore searches dietary guidance for health conditions
type MedicalKnowledgeStore interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

// RecipeKnowledgeStore searches the recipe and nutrition-fact collections
type RecipeKnowledgeStore interface {
	Search(ctx context.Context, query string, topK int, collection Collection) ([]Passage, error)
}

// Embedder turns text into a dense vector for semantic search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NutritionLedger stores what a user has eaten
type NutritionLedger interface {
	// TodayTotals sums nutrient amounts for the calendar day containing day
	TodayTotals(ctx context.Context, userID string, day time.Time) (map[string]float64, error)
	AppendEntry(ctx context.Context, userID string, candidate recommendation.CandidateRecipe, at time.Time) error
}

// ConstraintCache holds resolved base constraints keyed by normalised
// condition set. Entries are immutable once written.
type ConstraintCache interface {
	Get(ctx context.Context, key string) (recommendation.NutritionConstraints, bool, error)
	// PutIfAbsent stores value unless the key exists and returns the stored winner
	PutIfAbsent(ctx context.Context, key string, value recommendation.NutritionConstraints) (recommendation.NutritionConstraints, error)
}

// GenerateRequest is one structured-output language model call
type GenerateRequest struct {
	// Task labels the call for logs and metrics, e.g. "intent"
	Task        string
	System      string
	Prompt      string
	Schema      json.RawMessage
	Temperature float64
	MaxTokens   int
}

// GenerateResponse is the model's raw text answer
type GenerateResponse struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
	Duration     time.Duration
}

// LanguageModel is the single capability every model backend provides
type LanguageModel interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// HealthChecker is implemented by backends that can report availability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// APIError is a non-2xx answer from a model backend
type APIError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Temporary reports whether the call may succeed if repeated
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
