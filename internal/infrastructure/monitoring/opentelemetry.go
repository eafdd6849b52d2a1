package monitoring

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// UsageMeter records token usage through the OpenTelemetry metric API. The
// readings are exported on the same Prometheus registry as Metrics.
type UsageMeter struct {
	provider     *sdkmetric.MeterProvider
	promptTokens metric.Int64Counter
	outputTokens metric.Int64Counter
	contextChars metric.Int64Histogram
}

// NewUsageMeter creates a meter provider backed by a Prometheus exporter on reg
func NewUsageMeter(serviceName string, reg prometheus.Registerer) (*UsageMeter, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	u := &UsageMeter{provider: provider}

	if u.promptTokens, err = meter.Int64Counter(
		"mealguard.model.prompt_tokens",
		metric.WithDescription("Prompt tokens sent to language models"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if u.outputTokens, err = meter.Int64Counter(
		"mealguard.model.output_tokens",
		metric.WithDescription("Tokens produced by language models"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if u.contextChars, err = meter.Int64Histogram(
		"mealguard.retrieval.context_chars",
		metric.WithDescription("Size of the assembled retrieval context"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	return u, nil
}

// RecordTokens adds one call's token counts
func (u *UsageMeter) RecordTokens(ctx context.Context, backend, task string, prompt, output int) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("task", task),
	)
	u.promptTokens.Add(ctx, int64(prompt), attrs)
	u.outputTokens.Add(ctx, int64(output), attrs)
}

// RecordContext records the length of an assembled context block
func (u *UsageMeter) RecordContext(ctx context.Context, route string, chars int) {
	u.contextChars.Record(ctx, int64(chars), metric.WithAttributes(attribute.String("route", route)))
}

// Shutdown stops the meter provider
func (u *UsageMeter) Shutdown(ctx context.Context) error {
	return u.provider.Shutdown(ctx)
}
