package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// MetricsCollector records completion, session and post-processing metrics.
// A collector built with metrics disabled is a no-op.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	completions  metric.Int64Counter
	tokensInput  metric.Int64Counter
	tokensOutput metric.Int64Counter
	latency      metric.Float64Histogram
	resets       metric.Int64Counter
	warnings     metric.Int64Counter
	noFragment   metric.Int64Counter
}

// NewMetricsCollector creates a new metrics collector backed by its own
// Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("btchat")

	m := &MetricsCollector{provider: provider, registry: registry}

	if m.completions, err = meter.Int64Counter(
		"btchat.completions",
		metric.WithDescription("Completion requests by mode and status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create completions counter: %w", err)
	}

	if m.tokensInput, err = meter.Int64Counter(
		"btchat.tokens.input",
		metric.WithDescription("Prompt tokens reported by the provider"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tokens_input counter: %w", err)
	}

	if m.tokensOutput, err = meter.Int64Counter(
		"btchat.tokens.output",
		metric.WithDescription("Response tokens reported by the provider"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tokens_output counter: %w", err)
	}

	if m.latency, err = meter.Float64Histogram(
		"btchat.completion.latency",
		metric.WithDescription("Completion latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}

	if m.resets, err = meter.Int64Counter(
		"btchat.session.resets",
		metric.WithDescription("Session resets"),
		metric.WithUnit("{reset}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create resets counter: %w", err)
	}

	if m.warnings, err = meter.Int64Counter(
		"btchat.warnings",
		metric.WithDescription("Requests answered with a warning instead of a completion"),
		metric.WithUnit("{warning}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create warnings counter: %w", err)
	}

	if m.noFragment, err = meter.Int64Counter(
		"btchat.fragment.missing",
		metric.WithDescription("Completions without a <root> fragment"),
		metric.WithUnit("{completion}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create fragment_missing counter: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus exposition of this collector.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordCompletion records one provider round trip.
func (m *MetricsCollector) RecordCompletion(ctx context.Context, mode, status string, latency time.Duration, inputTokens, outputTokens int) {
	if m == nil || m.completions == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.completions.Add(ctx, 1, attrs)
	m.latency.Record(ctx, latency.Seconds(), attrs)

	if inputTokens > 0 {
		m.tokensInput.Add(ctx, int64(inputTokens), metric.WithAttributes(attribute.String("mode", mode)))
	}
	if outputTokens > 0 {
		m.tokensOutput.Add(ctx, int64(outputTokens), metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// RecordReset records a session reset.
func (m *MetricsCollector) RecordReset(ctx context.Context) {
	if m == nil || m.resets == nil {
		return
	}
	m.resets.Add(ctx, 1)
}

// RecordWarning records a request that was answered with a warning.
func (m *MetricsCollector) RecordWarning(ctx context.Context, reason string) {
	if m == nil || m.warnings == nil {
		return
	}
	m.warnings.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordMissingFragment records a completion that carried no <root> element.
func (m *MetricsCollector) RecordMissingFragment(ctx context.Context, mode string) {
	if m == nil || m.noFragment == nil {
		return
	}
	m.noFragment.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}
