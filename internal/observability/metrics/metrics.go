package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes application-level instruments for governance decisions.
type Metrics struct {
	usageGranted     metric.Int64Counter
	usageDenied      metric.Int64Counter
	breakerTrips     metric.Int64Counter
	routeDenied      metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "nubera"
	}
	meter := provider.Meter(name)

	usageGranted, err := meter.Int64Counter("nubera_usage_granted_total")
	if err != nil {
		return nil, err
	}
	usageDenied, err := meter.Int64Counter("nubera_usage_denied_total")
	if err != nil {
		return nil, err
	}
	breakerTrips, err := meter.Int64Counter("nubera_breaker_trips_total")
	if err != nil {
		return nil, err
	}
	routeDenied, err := meter.Int64Counter("nubera_route_denied_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("nubera_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageGranted:    usageGranted,
		usageDenied:     usageDenied,
		breakerTrips:    breakerTrips,
		routeDenied:     routeDenied,
		rateLimitDenied: rateLimitDenied,
	}, nil
}

// RecordUsageGranted increments grant counts.
func (m *Metrics) RecordUsageGranted(ctx context.Context, moduleKey string) {
	if m == nil {
		return
	}
	m.usageGranted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module_key", strings.TrimSpace(moduleKey)),
	))
}

// RecordUsageDenied increments denial counts by reason.
func (m *Metrics) RecordUsageDenied(ctx context.Context, moduleKey, reason string) {
	if m == nil {
		return
	}
	m.usageDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module_key", strings.TrimSpace(moduleKey)),
		attribute.String("reason", strings.TrimSpace(reason)),
	))
}

// RecordBreakerTrip increments breaker trip counts.
func (m *Metrics) RecordBreakerTrip(ctx context.Context, moduleKey string) {
	if m == nil {
		return
	}
	m.breakerTrips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module_key", strings.TrimSpace(moduleKey)),
	))
}

// RecordRouteDenied increments route-gate denial counts by reason.
func (m *Metrics) RecordRouteDenied(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.routeDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", strings.TrimSpace(reason)),
	))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
