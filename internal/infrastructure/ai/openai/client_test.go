package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClient_Generate(t *testing.T) {
	var got ChatCompletionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			Model:   "gpt-4o-mini",
			Choices: []Choice{{Message: Message{Role: "assistant", Content: `{"candidates":[]}`}}},
			Usage:   Usage{PromptTokens: 40, CompletionTokens: 8},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, zaptest.NewLogger(t))

	resp, err := client.Generate(context.Background(), outbound.GenerateRequest{
		Task:        "retrieval",
		System:      "You suggest recipes.",
		Prompt:      "low sugar breakfast",
		Schema:      json.RawMessage(`{"type":"object"}`),
		Temperature: 0.3,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"candidates":[]}`, resp.Text)
	assert.Equal(t, 40, resp.PromptTokens)
	assert.Equal(t, "Bearer sk-test", auth)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.Contains(t, got.Messages[0].Content, `{"type":"object"}`)
	assert.Equal(t, 0.3, got.Temperature)
}

func TestClient_GenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{})
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := client.Generate(context.Background(), outbound.GenerateRequest{Prompt: "x"})

	assert.ErrorContains(t, err, "no response choices")
}

func TestClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, zaptest.NewLogger(t))
	vec, err := client.Embed(context.Background(), "oats")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}

func TestClient_RateLimitedStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := client.Generate(context.Background(), outbound.GenerateRequest{Prompt: "x"})

	assert.ErrorContains(t, err, "API error 429")
}
