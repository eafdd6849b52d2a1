// Package secrets resolves hosted model API keys from AWS Secrets Manager
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
)

// SecretGetter is the slice of the Secrets Manager API used here
type SecretGetter interface {
	GetSecretValueWithContext(ctx aws.Context, input *secretsmanager.GetSecretValueInput, opts ...request.Option) (*secretsmanager.GetSecretValueOutput, error)
}

// ModelKeys is the JSON document stored in the secret
type ModelKeys struct {
	OpenAIKey string `json:"openai_api_key"`
	GeminiKey string `json:"gemini_api_key"`
}

// NewSecretsManager opens a Secrets Manager client for region
func NewSecretsManager(region string) (*secretsmanager.SecretsManager, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return secretsmanager.New(sess), nil
}

// LoadModelKeys reads and decodes secretID
func LoadModelKeys(ctx context.Context, client SecretGetter, secretID string) (ModelKeys, error) {
	out, err := client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return ModelKeys{}, fmt.Errorf("failed to read secret %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return ModelKeys{}, fmt.Errorf("secret %s has no string value", secretID)
	}

	var keys ModelKeys
	if err := json.Unmarshal([]byte(aws.StringValue(out.SecretString)), &keys); err != nil {
		return ModelKeys{}, fmt.Errorf("secret %s is not a JSON key document: %w", secretID, err)
	}
	return keys, nil
}
