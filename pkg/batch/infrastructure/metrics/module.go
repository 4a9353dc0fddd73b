package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	metrics "github.com/tigerroll/feedpipe/pkg/batch/core/metrics"
	logger "github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// NewMetricRecorderProvider returns a PrometheusRecorder served on the configured
// address when metrics are enabled, and a no-op recorder otherwise.
func NewMetricRecorderProvider(lc fx.Lifecycle, cfg *config.Config) metrics.MetricRecorder {
	mc := cfg.Feedpipe.Metrics
	if !mc.Enabled {
		return metrics.NewNoOpMetricRecorder()
	}
	recorder := NewPrometheusRecorder()
	server := NewMetricsServer(mc.ListenAddress, recorder)
	lc.Append(fx.Hook{
		OnStart: server.Start,
		OnStop:  server.Stop,
	})
	return recorder
}

// NewTracer returns an OpenTelemetryTracer exporting over OTLP when tracing
// is enabled, and a no-op tracer otherwise. Pending spans are flushed on stop.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	tc := cfg.Feedpipe.Tracing
	if !tc.Enabled {
		return metrics.NewNoOpTracer(), nil
	}
	tp, err := NewTracerProvider(context.Background(), tc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Flushing trace spans.")
			return tp.Shutdown(ctx)
		},
	})
	return NewOpenTelemetryTracer(tp), nil
}

// Module is an Fx module that provides the MetricRecorder and Tracer selected by configuration.
var Module = fx.Options(
	fx.Provide(NewMetricRecorderProvider),
	fx.Provide(NewTracer),
)
