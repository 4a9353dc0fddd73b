package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/feedpipe/pkg/batch/core/metrics"
	logger "github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Batch Metrics
	batchRunsCounter    *prometheus.CounterVec
	batchEntitiesGauge  *prometheus.GaugeVec
	batchDurationSecond *prometheus.HistogramVec

	// Stage Metrics
	stageInFlight        *prometheus.GaugeVec
	stageDurationSeconds *prometheus.HistogramVec
	stageStatusCounter   *prometheus.CounterVec
	stageSkipCounter     *prometheus.CounterVec
	gateWaitSeconds      *prometheus.HistogramVec

	// Entity Metrics
	entityCounter *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		batchRunsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedpipe_batch_runs_total",
			Help: "Total number of batch runs by run mode and whether the batch was resumed.",
		}, []string{"run_mode", "resumed"}),
		batchEntitiesGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedpipe_batch_entities",
			Help: "Entity counts of the last finished batch by run mode and result.",
		}, []string{"run_mode", "result"}), // result: total, succeeded, failed
		batchDurationSecond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedpipe_batch_duration_seconds",
			Help:    "Duration of finished batches, measured from their first start.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		}, []string{"run_mode"}),
		stageInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedpipe_stage_in_flight",
			Help: "Number of stage workers currently running.",
		}, []string{"stage"}),
		stageDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedpipe_stage_duration_seconds",
			Help:    "Duration of stage worker invocations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"stage", "status"}),
		stageStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedpipe_stage_status_total",
			Help: "Total number of stage attempts by terminal status.",
		}, []string{"stage", "status"}),
		stageSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedpipe_stage_skip_total",
			Help: "Total number of stages not invoked, by reason.",
		}, []string{"stage", "reason"}), // reason: done, partial
		gateWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedpipe_stage_gate_wait_seconds",
			Help:    "Time entities waited for a stage to become free.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		entityCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedpipe_entity_pipelines_total",
			Help: "Total number of entity pipelines by outcome.",
		}, []string{"completed"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.batchRunsCounter)
	registry.MustRegister(r.batchEntitiesGauge)
	registry.MustRegister(r.batchDurationSecond)
	registry.MustRegister(r.stageInFlight)
	registry.MustRegister(r.stageDurationSeconds)
	registry.MustRegister(r.stageStatusCounter)
	registry.MustRegister(r.stageSkipCounter)
	registry.MustRegister(r.gateWaitSeconds)
	registry.MustRegister(r.entityCounter)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordBatchStart records the creation or resumption of a batch.
func (r *PrometheusRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch, resumed bool) {
	r.batchRunsCounter.WithLabelValues(batch.RunMode.String(), strconv.FormatBool(resumed)).Inc()
	logger.Debugf("Metrics: batch '%s' started (resumed=%t).", batch.ID, resumed)
}

// RecordBatchEnd records the entity totals of a finished batch.
func (r *PrometheusRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch, failed int) {
	mode := batch.RunMode.String()
	r.batchEntitiesGauge.WithLabelValues(mode, "total").Set(float64(batch.TotalEntities))
	r.batchEntitiesGauge.WithLabelValues(mode, "succeeded").Set(float64(batch.SuccessEntities))
	r.batchEntitiesGauge.WithLabelValues(mode, "failed").Set(float64(failed))
	if batch.EndTime != nil {
		duration := batch.EndTime.Sub(batch.StartTime).Seconds()
		r.batchDurationSecond.WithLabelValues(mode).Observe(duration)
		logger.Debugf("Metrics: batch '%s' ended. Duration: %.3fs", batch.ID, duration)
	}
}

// RecordStageStart records a worker invocation.
func (r *PrometheusRecorder) RecordStageStart(ctx context.Context, stage model.Stage) {
	r.stageInFlight.WithLabelValues(stage.String()).Inc()
}

// RecordStageEnd records the terminal status and duration of a stage attempt.
func (r *PrometheusRecorder) RecordStageEnd(ctx context.Context, stage model.Stage, status model.StageStatus, duration time.Duration) {
	r.stageInFlight.WithLabelValues(stage.String()).Dec()
	r.stageStatusCounter.WithLabelValues(stage.String(), status.String()).Inc()
	r.stageDurationSeconds.WithLabelValues(stage.String(), status.String()).Observe(duration.Seconds())
}

// RecordStageSkip records a stage that was not invoked.
func (r *PrometheusRecorder) RecordStageSkip(ctx context.Context, stage model.Stage, reason string) {
	r.stageSkipCounter.WithLabelValues(stage.String(), reason).Inc()
}

// RecordGateWait records the time spent waiting for a stage gate.
func (r *PrometheusRecorder) RecordGateWait(ctx context.Context, stage model.Stage, wait time.Duration) {
	r.gateWaitSeconds.WithLabelValues(stage.String()).Observe(wait.Seconds())
}

// RecordEntityEnd records the outcome of an entity pipeline.
func (r *PrometheusRecorder) RecordEntityEnd(ctx context.Context, completed bool) {
	r.entityCounter.WithLabelValues(strconv.FormatBool(completed)).Inc()
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
