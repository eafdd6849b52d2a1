package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alchemorsel/mealguard/internal/infrastructure/monitoring"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/alchemorsel/mealguard/test/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

func okResponse() *outbound.GenerateResponse {
	return &outbound.GenerateResponse{Text: "{}", PromptTokens: 10, OutputTokens: 2}
}

func TestWrap_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next outbound.LanguageModel) outbound.LanguageModel {
			return modelFunc{name: next.Name(), fn: func(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error) {
				order = append(order, name)
				return next.Generate(ctx, req)
			}}
		}
	}
	inner := new(testutils.MockLanguageModel)
	inner.On("Name").Return("inner")
	inner.On("Generate", mock.Anything, mock.Anything).Return(okResponse(), nil)

	m := Wrap(inner, tag("outer"), tag("middle"))
	_, err := m.Generate(context.Background(), outbound.GenerateRequest{Task: "intent"})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "middle"}, order)
	assert.Equal(t, "inner", m.Name())
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	// Arrange
	inner := new(testutils.MockLanguageModel)
	inner.On("Name").Return("ollama")
	inner.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &outbound.APIError{Backend: "ollama", StatusCode: http.StatusServiceUnavailable}).Once()
	inner.On("Generate", mock.Anything, mock.Anything).Return(okResponse(), nil).Once()

	m := Wrap(inner, Retry(2, time.Millisecond, zaptest.NewLogger(t)))

	// Act
	resp, err := m.Generate(context.Background(), outbound.GenerateRequest{Task: "intent"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
	inner.AssertNumberOfCalls(t, "Generate", 2)
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	inner := new(testutils.MockLanguageModel)
	inner.On("Name").Return("openai")
	inner.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &outbound.APIError{Backend: "openai", StatusCode: http.StatusUnauthorized})

	m := Wrap(inner, Retry(3, time.Millisecond, zaptest.NewLogger(t)))
	_, err := m.Generate(context.Background(), outbound.GenerateRequest{})

	var apiErr *outbound.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	inner.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRetry_GivesUpAfterMax(t *testing.T) {
	inner := new(testutils.MockLanguageModel)
	inner.On("Name").Return("ollama")
	inner.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &outbound.APIError{Backend: "ollama", StatusCode: http.StatusTooManyRequests})

	m := Wrap(inner, Retry(2, time.Millisecond, zaptest.NewLogger(t)))
	_, err := m.Generate(context.Background(), outbound.GenerateRequest{})

	assert.Error(t, err)
	inner.AssertNumberOfCalls(t, "Generate", 3)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	inner := new(testutils.MockLanguageModel)
	inner.On("Name").Return("ollama")
	inner.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &outbound.APIError{Backend: "ollama", StatusCode: http.StatusBadGateway})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := Wrap(inner, Retry(5, time.Hour, zaptest.NewLogger(t)))
	_, err := m.Generate(ctx, outbound.GenerateRequest{})

	assert.ErrorIs(t, err, context.Canceled)
	inner.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRateLimit_HonoursContext(t *testing.T) {
	inner := new(testutils.MockLanguageModel)
	inner.On("Name").Return("ollama")
	inner.On("Generate", mock.Anything, mock.Anything).Return(okResponse(), nil)

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	m := Wrap(inner, RateLimit(limiter))

	_, err := m.Generate(context.Background(), outbound.GenerateRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Generate(ctx, outbound.GenerateRequest{})

	assert.Error(t, err)
	inner.AssertNumberOfCalls(t, "Generate", 1)
}

func TestInstrument_RecordsMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	inner := new(testutils.MockLanguageModel)
	inner.On("Name").Return("gemini")
	inner.On("Generate", mock.Anything, mock.Anything).Return(okResponse(), nil).Once()
	inner.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	m := Wrap(inner, Instrument(metrics, nil, nil, zaptest.NewLogger(t)))
	_, _ = m.Generate(context.Background(), outbound.GenerateRequest{Task: "safety"})
	_, _ = m.Generate(context.Background(), outbound.GenerateRequest{Task: "safety"})

	body := scrape(t, metrics)
	assert.Contains(t, body, `mealguard_model_requests_total{backend="gemini",status="ok",task="safety"} 1`)
	assert.Contains(t, body, `mealguard_model_requests_total{backend="gemini",status="error",task="safety"} 1`)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("bad schema")))
	assert.True(t, IsTransient(&outbound.APIError{StatusCode: 500}))
	assert.False(t, IsTransient(&outbound.APIError{StatusCode: 404}))
}

func scrape(t *testing.T, m *monitoring.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
