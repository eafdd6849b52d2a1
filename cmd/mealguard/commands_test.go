package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alchemorsel/mealguard/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: debug\n"), 0o600))
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"validate", "--config", path})

	// Act
	err := cmd.Execute()

	// Assert
	require.NoError(t, err)
	assert.Contains(t, out.String(), "configuration OK")
}

func TestValidateCommand_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: carrier-pigeon\n"), 0o600))
	cmd := newRootCmd()
	cmd.SetArgs([]string{"validate", "--config", path})

	assert.ErrorContains(t, cmd.Execute(), "llm.provider")
}

func TestRecommendCommand_RequiresFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"recommend", "--user", "u-1"})

	assert.ErrorContains(t, cmd.Execute(), "query")
}

func TestFailureDetails(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  errors.ErrorCode
		wantReqID string
	}{
		{
			name:      "pipeline failure keeps code and request id",
			err:       errors.NewPipelineFailure("retrieval", errors.NewRAGError("store timeout", nil)).WithMetadata("request_id", "req-9"),
			wantCode:  errors.CodeRAG,
			wantReqID: "req-9",
		},
		{
			name:     "wrapped pipeline failure",
			err:      fmt.Errorf("run: %w", errors.NewPipelineFailure("intent", errors.NewIntentParsingError("bad json", nil))),
			wantCode: errors.CodeIntentParsing,
		},
		{
			name:     "unknown error",
			err:      fmt.Errorf("boom"),
			wantCode: errors.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			details := failureDetails(tt.err)

			assert.Equal(t, tt.wantCode, details.Code)
			assert.Equal(t, errors.FailureMessage, details.Message)
			assert.Equal(t, tt.wantReqID, details.RequestID)
		})
	}
}

func TestPrintJSON(t *testing.T) {
	out := &bytes.Buffer{}
	sentinel := fmt.Errorf("still returned")

	err := printJSON(out, recommendOutput{Error: &errors.ErrorDetails{Code: errors.CodeRAG}}, sentinel)

	assert.ErrorIs(t, err, sentinel)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Contains(t, decoded, "error")
	assert.NotContains(t, decoded, "result")
}
