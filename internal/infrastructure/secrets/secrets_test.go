package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	out *secretsmanager.GetSecretValueOutput
	err error
	id  string
}

func (f *fakeGetter) GetSecretValueWithContext(_ aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	f.id = aws.StringValue(in.SecretId)
	return f.out, f.err
}

func TestLoadModelKeys(t *testing.T) {
	getter := &fakeGetter{out: &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"openai_api_key":"sk-1","gemini_api_key":"g-2"}`),
	}}

	keys, err := LoadModelKeys(context.Background(), getter, "mealguard/llm")

	require.NoError(t, err)
	assert.Equal(t, "mealguard/llm", getter.id)
	assert.Equal(t, ModelKeys{OpenAIKey: "sk-1", GeminiKey: "g-2"}, keys)
}

func TestLoadModelKeys_Errors(t *testing.T) {
	tests := []struct {
		name   string
		getter *fakeGetter
	}{
		{"api failure", &fakeGetter{err: errors.New("access denied")}},
		{"binary secret", &fakeGetter{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{1}}}},
		{"not json", &fakeGetter{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("plain")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadModelKeys(context.Background(), tt.getter, "id")
			assert.Error(t, err)
		})
	}
}
