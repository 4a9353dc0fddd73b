package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch, resumed bool) {}
func (r *NoOpMetricRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch, failed int)     {}
func (r *NoOpMetricRecorder) RecordStageStart(ctx context.Context, stage model.Stage)                {}
func (r *NoOpMetricRecorder) RecordStageEnd(ctx context.Context, stage model.Stage, status model.StageStatus, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordStageSkip(ctx context.Context, stage model.Stage, reason string)      {}
func (r *NoOpMetricRecorder) RecordGateWait(ctx context.Context, stage model.Stage, wait time.Duration) {}
func (r *NoOpMetricRecorder) RecordEntityEnd(ctx context.Context, completed bool)                       {}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartEntitySpan(ctx context.Context, entity model.Entity) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartStageSpan(ctx context.Context, entityKey string, stage model.Stage) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
