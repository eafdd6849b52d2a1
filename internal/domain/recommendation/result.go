package recommendation

import "time"

// RecommendationResult is what a successful run hands back to the caller. An
// empty Candidates list with a summary means no safe match was found.
type RecommendationResult struct {
	RequestID   string               `json:"request_id"`
	Query       string               `json:"query"`
	Intent      UserIntent           `json:"intent"`
	Constraints NutritionConstraints `json:"constraints"`
	Candidates  []ValidatedCandidate `json:"candidates"`
	Summary     SafetySummary        `json:"summary"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// HasRecommendations reports whether any candidate passed validation
func (r *RecommendationResult) HasRecommendations() bool {
	return r != nil && len(r.Candidates) > 0
}
