package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to pipeline execution.
//
// Implementations must be safe for concurrent use: entity pipelines record from
// many goroutines at once.
type MetricRecorder interface {
	// RecordBatchStart records that a batch was created or resumed.
	RecordBatchStart(ctx context.Context, batch *model.Batch, resumed bool)

	// RecordBatchEnd records the entity totals of a finished batch.
	RecordBatchEnd(ctx context.Context, batch *model.Batch, failed int)

	// RecordStageStart records that a worker was invoked for stage.
	RecordStageStart(ctx context.Context, stage model.Stage)

	// RecordStageEnd records the terminal status of a stage attempt and its duration,
	// gate waiting excluded.
	RecordStageEnd(ctx context.Context, stage model.Stage, status model.StageStatus, duration time.Duration)

	// RecordStageSkip records a stage that was not invoked. reason is "done" or "partial".
	RecordStageSkip(ctx context.Context, stage model.Stage, reason string)

	// RecordGateWait records how long an entity waited for the stage gate.
	RecordGateWait(ctx context.Context, stage model.Stage, wait time.Duration)

	// RecordEntityEnd records whether an entity pipeline walked all its active stages.
	RecordEntityEnd(ctx context.Context, completed bool)
}

// Tracer abstracts distributed tracing of batches, entities and stages.
type Tracer interface {
	// StartBatchSpan starts a span covering a batch run. The returned function ends it.
	StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func())

	// StartEntitySpan starts a span covering one entity pipeline.
	StartEntitySpan(ctx context.Context, entity model.Entity) (context.Context, func())

	// StartStageSpan starts a span covering one stage invocation of an entity.
	StartStageSpan(ctx context.Context, entityKey string, stage model.Stage) (context.Context, func())

	// RecordError records an error in the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
