package metrics

import (
	"github.com/nubera-hq/nubera/internal/config"
	"go.uber.org/fx"
)

func newConfig(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.Metrics.Enabled,
		ExporterEndpoint: cfg.Metrics.Endpoint,
		ExporterProtocol: cfg.Metrics.Exporter,
		ServiceName:      cfg.AppName,
	}
}

// Module wires the meter provider and domain instruments.
var Module = fx.Module("observability.metrics",
	fx.Provide(newConfig),
	fx.Provide(NewProvider),
	fx.Provide(New),
)
