package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineFailure_PreservesKind(t *testing.T) {
	cause := NewRAGError("recipes collection timed out", context.DeadlineExceeded)

	failure := NewPipelineFailure("retrieval", cause)

	assert.Equal(t, CodeRAG, failure.Code)
	assert.Equal(t, FailureMessage, failure.Message)
	assert.Equal(t, "retrieval", failure.Metadata["stage"])
	assert.ErrorIs(t, failure, context.DeadlineExceeded)
	assert.True(t, Is(failure, CodeRAG))
}

func TestGetCode_UnwrapsWrappedErrors(t *testing.T) {
	inner := NewSafetyCheckError("semantic check unavailable", nil)
	wrapped := fmt.Errorf("validate: %w", inner)

	assert.Equal(t, CodeSafetyCheck, GetCode(wrapped))
	assert.Equal(t, CodeInternal, GetCode(fmt.Errorf("plain")))
}

func TestWrapAs(t *testing.T) {
	t.Run("plain error gets the stage code", func(t *testing.T) {
		err := WrapAs(context.DeadlineExceeded, CodeIntentParsing, "intent stage")
		require.NotNil(t, err)
		assert.Equal(t, CodeIntentParsing, err.Code)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("typed error keeps its code", func(t *testing.T) {
		typed := NewRepositoryError("load totals", nil)
		err := WrapAs(typed, CodeRAG, "constraints stage")
		assert.Same(t, typed, err)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, WrapAs(nil, CodeRAG, ""))
	})
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeIntentParsing, http.StatusUnprocessableEntity},
		{CodeRAG, http.StatusServiceUnavailable},
		{CodeRepository, http.StatusServiceUnavailable},
		{CodeSafetyCheck, http.StatusInternalServerError},
		{CodeValidationFailed, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, NewAppError(tt.code, "x", "").StatusCode())
		})
	}
}

func TestToErrorResponse_HidesDetails(t *testing.T) {
	err := NewPipelineFailure("constraints", NewRepositoryError("load totals", fmt.Errorf("db down")))

	resp := ToErrorResponse(err, "req-1")

	assert.Equal(t, CodeRepository, resp.Error.Code)
	assert.Equal(t, FailureMessage, resp.Error.Message)
	assert.Equal(t, "req-1", resp.Error.RequestID)
}
