package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestClient_Generate(t *testing.T) {
	var body map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"{\"status\":\"SAFE\"}"}]}}],
			"usageMetadata":{"promptTokenCount":21,"candidatesTokenCount":5}
		}`))
	})

	resp, err := client.Generate(context.Background(), outbound.GenerateRequest{
		Task:   "safety",
		System: "judge",
		Prompt: "is this vegan",
		Schema: json.RawMessage(`{"type":"object"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, `{"status":"SAFE"}`, resp.Text)
	assert.Equal(t, 21, resp.PromptTokens)
	assert.Equal(t, 5, resp.OutputTokens)
	assert.Contains(t, body, "systemInstruction")
}

func TestClient_GenerateEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := client.Generate(context.Background(), outbound.GenerateRequest{Prompt: "x"})

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClient_Name(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.Equal(t, "gemini", client.Name())
}
