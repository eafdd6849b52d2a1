package recommendation

import "errors"

// Domain errors for recommendation operations

var (
	// Constraint validation errors
	ErrNegativeBound   = errors.New("nutrient bound must not be negative")
	ErrNonFiniteBound  = errors.New("nutrient bound must be a finite number")
	ErrInvertedBound   = errors.New("nutrient bound min exceeds max")
	ErrUnknownNutrient = errors.New("unknown nutrient key")
	ErrEmptyAvoidTerm  = errors.New("avoid term must not be empty")

	// Candidate errors
	ErrCandidateNameMissing = errors.New("candidate recipe must have a name")
	ErrNoIngredients        = errors.New("candidate recipe must have at least one ingredient")
	ErrNegativeNutrient     = errors.New("candidate nutrient value must not be negative")

	// Pipeline errors
	ErrInvalidStateTransition = errors.New("invalid pipeline state transition")
	ErrPipelineTerminated     = errors.New("pipeline already reached a terminal state")

	// Session errors
	ErrNoPreviousRecommendations = errors.New("no previous recommendations in this session")
	ErrOrdinalOutOfRange         = errors.New("recommendation ordinal out of range")
)
