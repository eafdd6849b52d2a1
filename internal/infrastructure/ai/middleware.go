// Package ai assembles the language model backend used by every pipeline stage
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/alchemorsel/mealguard/internal/infrastructure/monitoring"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Middleware decorates a language model
type Middleware func(outbound.LanguageModel) outbound.LanguageModel

// Wrap applies mws to inner. The first middleware is the outermost.
func Wrap(inner outbound.LanguageModel, mws ...Middleware) outbound.LanguageModel {
	for i := len(mws) - 1; i >= 0; i-- {
		inner = mws[i](inner)
	}
	return inner
}

type modelFunc struct {
	name string
	fn   func(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error)
}

func (m modelFunc) Name() string { return m.name }

func (m modelFunc) Generate(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error) {
	return m.fn(ctx, req)
}

// RateLimit blocks each call until limiter admits it
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(next outbound.LanguageModel) outbound.LanguageModel {
		return modelFunc{
			name: next.Name(),
			fn: func(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error) {
				if err := limiter.Wait(ctx); err != nil {
					return nil, fmt.Errorf("rate limiter: %w", err)
				}
				return next.Generate(ctx, req)
			},
		}
	}
}

// Retry repeats calls that failed with a transient transport error. The
// delay doubles after every attempt starting at base.
func Retry(maxRetries int, base time.Duration, logger *zap.Logger) Middleware {
	return func(next outbound.LanguageModel) outbound.LanguageModel {
		return modelFunc{
			name: next.Name(),
			fn: func(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error) {
				var lastErr error
				for attempt := 0; attempt <= maxRetries; attempt++ {
					if attempt > 0 {
						delay := base * time.Duration(1<<(attempt-1))
						logger.Debug("Retrying model call",
							zap.String("task", req.Task),
							zap.Int("attempt", attempt),
							zap.Duration("delay", delay),
							zap.Error(lastErr))

						select {
						case <-ctx.Done():
							return nil, ctx.Err()
						case <-time.After(delay):
						}
					}

					resp, err := next.Generate(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err
					if !IsTransient(err) {
						return nil, err
					}
				}
				return nil, lastErr
			},
		}
	}
}

// Instrument records metrics, a span, token usage and a log line per call.
// Any of the collaborators may be nil.
func Instrument(metrics *monitoring.Metrics, tracing *monitoring.TracingProvider, usage *monitoring.UsageMeter, logger *zap.Logger) Middleware {
	if tracing == nil {
		tracing = monitoring.NewNoopTracing()
	}
	return func(next outbound.LanguageModel) outbound.LanguageModel {
		backend := next.Name()
		return modelFunc{
			name: backend,
			fn: func(ctx context.Context, req outbound.GenerateRequest) (*outbound.GenerateResponse, error) {
				ctx, span := tracing.StartModelSpan(ctx, backend, req.Task)
				start := time.Now()

				resp, err := next.Generate(ctx, req)

				elapsed := time.Since(start)
				status := "ok"
				if err != nil {
					status = "error"
				}
				if metrics != nil {
					metrics.ModelCall(backend, req.Task, status, elapsed)
				}
				tokens := 0
				if resp != nil {
					tokens = resp.PromptTokens + resp.OutputTokens
					if usage != nil {
						usage.RecordTokens(ctx, backend, req.Task, resp.PromptTokens, resp.OutputTokens)
					}
				}
				monitoring.LogModelCall(ctx, logger, backend, req.Task, elapsed, tokens, err)
				monitoring.EndSpan(span, err)

				return resp, err
			},
		}
	}
}

// IsTransient reports whether err is worth another attempt
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *outbound.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}

	var gerr genai.APIError
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
