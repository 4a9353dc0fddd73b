// Package runner drives a single entity through the active stages of a batch.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/feedpipe/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/feedpipe/pkg/batch/core/metrics"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/limiter"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// PartialSkipNote is the message recorded on stages skipped in PARTIAL mode.
const PartialSkipNote = "Skipped in PARTIAL mode"

// Params holds the collaborators of an EntityPipelineRunner.
type Params struct {
	Store  repository.StageStateStore
	Worker worker.StageWorker
	// Stages are the active stages, in order.
	Stages model.StageList
	// HeavyStages are recorded DONE without invocation in PARTIAL mode.
	HeavyStages model.StageList
	// Targets defaults to NewDefaultTargetResolver.
	Targets TargetResolver
	// Limiter defaults to a fresh limiter over Stages.
	Limiter  *limiter.StageLimiter
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// EntityPipelineRunner walks one entity through the active stages, consulting and
// updating the stage state store and holding the stage gate while a worker runs.
type EntityPipelineRunner struct {
	store    repository.StageStateStore
	worker   worker.StageWorker
	stages   model.StageList
	heavy    model.StageList
	targets  TargetResolver
	limiter  *limiter.StageLimiter
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// New creates an EntityPipelineRunner.
func New(p Params) *EntityPipelineRunner {
	r := &EntityPipelineRunner{
		store:    p.Store,
		worker:   p.Worker,
		stages:   p.Stages,
		heavy:    p.HeavyStages,
		targets:  p.Targets,
		limiter:  p.Limiter,
		recorder: p.Recorder,
		tracer:   p.Tracer,
	}
	if r.targets == nil {
		r.targets = NewDefaultTargetResolver()
	}
	if r.limiter == nil {
		r.limiter = limiter.New(p.Stages)
	}
	if r.recorder == nil {
		r.recorder = metrics.NewNoOpMetricRecorder()
	}
	if r.tracer == nil {
		r.tracer = metrics.NewNoOpTracer()
	}
	return r
}

// Run walks entity through the active stages of batch. completed is true when every
// stage ended DONE. A stage failure is recorded and returns (false, nil); store
// errors and interruption are returned as errors. An interrupted stage stays RUNNING.
func (r *EntityPipelineRunner) Run(ctx context.Context, batch *model.Batch, entity model.Entity) (completed bool, err error) {
	const op = "EntityPipelineRunner.Run"
	key := entity.Key()

	ctx, endSpan := r.tracer.StartEntitySpan(ctx, entity)
	defer endSpan()
	defer func() {
		r.recorder.RecordEntityEnd(ctx, completed)
	}()

	for _, stage := range r.stages {
		if ctx.Err() != nil {
			return false, exception.NewBatchError(op, fmt.Sprintf("%s interrupted before %s", key, stage), exception.ErrInterrupted)
		}

		status, err := r.store.GetStageStatus(ctx, batch.ID, key, stage)
		if err != nil {
			return false, exception.NewBatchError(op, fmt.Sprintf("failed to read %s status of %s", stage, key), err)
		}
		if status == model.StageStatusDone {
			logger.Debugf("[%s] %s already done, skipping.", key, stage)
			r.recorder.RecordStageSkip(ctx, stage, "done")
			continue
		}

		if batch.RunMode == model.RunModePartial && r.heavy.Contains(stage) {
			if err := r.store.SetStageStatus(ctx, batch.ID, key, stage, model.StageStatusDone, PartialSkipNote); err != nil {
				return false, exception.NewBatchError(op, fmt.Sprintf("failed to record skipped %s of %s", stage, key), err)
			}
			logger.Infof("[%s] %s skipped in PARTIAL mode.", key, stage)
			r.recorder.RecordStageSkip(ctx, stage, "partial")
			continue
		}

		ok, err := r.runStage(ctx, batch.ID, entity, stage)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	logger.Infof("[%s] pipeline completed.", key)
	return true, nil
}

func (r *EntityPipelineRunner) runStage(ctx context.Context, batchID string, entity model.Entity, stage model.Stage) (bool, error) {
	const op = "EntityPipelineRunner.runStage"
	key := entity.Key()

	if err := r.store.SetStageStatus(ctx, batchID, key, stage, model.StageStatusRunning, ""); err != nil {
		return false, exception.NewBatchError(op, fmt.Sprintf("failed to mark %s of %s running", stage, key), err)
	}

	ctx, endSpan := r.tracer.StartStageSpan(ctx, key, stage)
	defer endSpan()

	waitStart := time.Now()
	release, err := r.limiter.Acquire(ctx, stage)
	if err != nil {
		if ctx.Err() != nil {
			return false, exception.NewBatchError(op, fmt.Sprintf("%s interrupted waiting for %s", key, stage), exception.ErrInterrupted)
		}
		return false, exception.NewBatchError(op, fmt.Sprintf("failed to acquire %s", stage), err)
	}
	r.recorder.RecordGateWait(ctx, stage, time.Since(waitStart))

	target := r.targets.Resolve(stage, entity)
	logger.Infof("[%s] %s started (target: %s).", key, stage, target.Name)
	r.recorder.RecordStageStart(ctx, stage)
	start := time.Now()
	outcome := r.invoke(ctx, stage, target, release)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		r.recorder.RecordStageEnd(ctx, stage, model.StageStatusRunning, elapsed)
		logger.Warnf("[%s] %s interrupted; it stays RUNNING and reruns on resume.", key, stage)
		return false, exception.NewBatchError(op, fmt.Sprintf("%s interrupted during %s", key, stage), exception.ErrInterrupted)
	}

	if !outcome.Success {
		r.recorder.RecordStageEnd(ctx, stage, model.StageStatusError, elapsed)
		r.tracer.RecordError(ctx, op, errors.New(outcome.Diagnostic))
		logger.Errorf("[%s] %s failed: %s", key, stage, outcome.Diagnostic)
		if err := r.store.SetStageStatus(ctx, batchID, key, stage, model.StageStatusError, outcome.Diagnostic); err != nil {
			return false, exception.NewBatchError(op, fmt.Sprintf("failed to record %s failure of %s", stage, key), err)
		}
		return false, nil
	}

	r.recorder.RecordStageEnd(ctx, stage, model.StageStatusDone, elapsed)
	if err := r.store.SetStageStatus(ctx, batchID, key, stage, model.StageStatusDone, ""); err != nil {
		return false, exception.NewBatchError(op, fmt.Sprintf("failed to mark %s of %s done", stage, key), err)
	}
	logger.Infof("[%s] %s done in %s.", key, stage, elapsed.Round(time.Millisecond))
	return true, nil
}

// invoke runs the worker while the stage gate is held. The gate is released even when
// the worker panics; the panic becomes a failed outcome so the stage is recorded ERROR.
func (r *EntityPipelineRunner) invoke(ctx context.Context, stage model.Stage, target worker.Target, release func()) (outcome worker.Outcome) {
	defer release()
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("[%s] %s worker panicked: %v\n%s", target.EntityKey, stage, p, debug.Stack())
			outcome = worker.Failed(fmt.Sprintf("worker panicked: %v", p))
		}
	}()
	return r.worker.Invoke(ctx, stage, target)
}
