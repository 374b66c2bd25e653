// Package otel provides OpenTelemetry metrics setup and the engine's
// metric instruments.
package otel

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/astrahq/astra/internal/config"
)

// ShutdownFunc is called to flush and shut down the meter provider.
type ShutdownFunc func(ctx context.Context) error

// InitMetrics sets up the global meter provider. When metrics are disabled
// the default no-op provider stays in place and the returned shutdown is a
// no-op.
func InitMetrics(ctx context.Context, cfg config.Metrics, serviceName string) (ShutdownFunc, error) {
	if !cfg.Enabled {
		slog.Info("otel metrics disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	slog.Info("otel metrics enabled", "endpoint", cfg.Endpoint)
	return provider.Shutdown, nil
}
