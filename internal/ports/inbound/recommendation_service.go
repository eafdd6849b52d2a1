// Package inbound defines the interfaces for inbound ports (primary/driving adapters)
// These are the interfaces that the application exposes to the outside world
package inbound

import (
	"context"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
)

// RecommendationService is the primary port used by the CLI and any chat adapter
type RecommendationService interface {
	GetRecommendations(ctx context.Context, session *recommendation.Session, rawQuery string) (*recommendation.RecommendationResult, error)

	// GetRecommendationsWithIngredients treats a detected ingredient list as
	// extra instructions for the request.
	GetRecommendationsWithIngredients(ctx context.Context, session *recommendation.Session, rawQuery string, detected []string) (*recommendation.RecommendationResult, error)

	// SaveCandidate logs the n-th candidate (1-based) of the session's last
	// result to the nutrition ledger.
	SaveCandidate(ctx context.Context, session *recommendation.Session, ordinal int) (*recommendation.CandidateRecipe, error)
}
