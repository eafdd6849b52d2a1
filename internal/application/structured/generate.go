package structured

import (
	"context"
	"errors"
	"fmt"

	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"go.uber.org/zap"
)

const repairInstruction = `

Your previous answer could not be used: %s
Respond again with ONLY one JSON object that matches the schema exactly.
No prose, no markdown, no comments, no trailing commas.`

// ErrModelCall marks a transport or backend failure as opposed to bad output
var ErrModelCall = errors.New("model call failed")

// Generate asks the model for a JSON value. Malformed output gets exactly one
// retry with a stricter instruction; transport errors are not retried here.
func Generate[T any](ctx context.Context, model outbound.LanguageModel, req outbound.GenerateRequest, validate Validator[T], log *zap.Logger) (T, error) {
	var zero T
	if log == nil {
		log = zap.NewNop()
	}

	resp, err := model.Generate(ctx, req)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrModelCall, err)
	}

	out, err := Extract(resp.Text, validate)
	if err == nil {
		return out, nil
	}

	log.Warn("Model returned malformed output, retrying once",
		zap.String("task", req.Task),
		zap.String("model", model.Name()),
		zap.Error(err),
	)

	repair := req
	repair.Prompt = req.Prompt + fmt.Sprintf(repairInstruction, err.Error())
	repair.Temperature = 0

	resp, callErr := model.Generate(ctx, repair)
	if callErr != nil {
		return zero, fmt.Errorf("%w: %w", ErrModelCall, callErr)
	}
	return Extract(resp.Text, validate)
}
