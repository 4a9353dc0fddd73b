package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/feedpipe/pkg/batch/component/report"
	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/feedpipe/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/feedpipe/pkg/batch/core/metrics"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/limiter"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/runner"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/scheduler"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// Orchestrator creates or resumes a batch and drives the enumerated entities through
// the active stages.
type Orchestrator struct {
	repo     repository.PipelineRepository
	worker   worker.StageWorker
	cfg      config.PipelineConfig
	targets  runner.TargetResolver
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
	exporter report.Exporter

	listeners []BatchListener
}

var (
	_ PipelineLauncher = (*Orchestrator)(nil)
	_ BatchExplorer    = (*Orchestrator)(nil)
)

// NewOrchestrator creates an Orchestrator. The target resolver is built from the
// stage settings of cfg.
func NewOrchestrator(
	repo repository.PipelineRepository,
	stageWorker worker.StageWorker,
	cfg *config.Config,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	exporter report.Exporter,
) *Orchestrator {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	if exporter == nil {
		exporter = report.NoOpExporter{}
	}
	return &Orchestrator{
		repo:     repo,
		worker:   stageWorker,
		cfg:      cfg.Feedpipe.Pipeline,
		targets:  runner.NewStageTargetResolver(cfg.Feedpipe.Pipeline),
		recorder: recorder,
		tracer:   tracer,
		exporter: exporter,
	}
}

// WithListeners registers listeners notified before and after every batch run.
func (o *Orchestrator) WithListeners(listeners ...BatchListener) *Orchestrator {
	o.listeners = append(o.listeners, listeners...)
	return o
}

// Run executes one batch run. Fatal faults (until-stage, batch lookup or creation,
// entity enumeration) abort before any entity starts and leave the batch unfinished.
// An interrupted run returns the partial summary and an error wrapping
// exception.ErrInterrupted; the batch stays RUNNING so the next run resumes it.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	const op = "Orchestrator.Run"

	stages, err := model.AllStages.Until(opts.Until)
	if err != nil {
		return nil, exception.NewFatalError(op, "invalid until stage", err)
	}
	heavy, err := heavyStages(o.cfg.HeavyStages)
	if err != nil {
		return nil, exception.NewFatalError(op, "invalid heavy stages", err)
	}
	if opts.RunMode == "" {
		opts.RunMode = model.RunModeFull
	}
	finalStage := stages.Final()

	batch, resumed, err := o.repo.GetOrCreateBatch(ctx, opts.RunMode, finalStage)
	if err != nil {
		return nil, exception.NewFatalError(op, fmt.Sprintf("failed to get or create %s batch", opts.RunMode), err)
	}
	if resumed && batch.FinalStage != finalStage {
		logger.Warnf("Batch %s was created with final stage %s; this run stops at %s.", batch.ID, batch.FinalStage, finalStage)
	}
	logger.Infof("Active stages: %s", stages.String())
	o.recorder.RecordBatchStart(ctx, batch, resumed)
	for _, l := range o.listeners {
		l.BeforeBatch(ctx, batch, resumed)
	}

	ctx, endSpan := o.tracer.StartBatchSpan(ctx, batch)
	defer endSpan()

	filter := model.EntityFilter{Mall: opts.Mall, Brand: opts.Brand, Exclude: opts.Exclude}
	entities, err := o.repo.ListEntities(ctx, filter)
	if err != nil {
		o.tracer.RecordError(ctx, op, err)
		return nil, exception.NewFatalError(op, "failed to enumerate entities", err)
	}
	if err := o.repo.UpdateTotalEntities(ctx, batch.ID, len(entities)); err != nil {
		o.tracer.RecordError(ctx, op, err)
		return nil, exception.NewFatalError(op, "failed to record entity total", err)
	}
	batch.TotalEntities = len(entities)
	logger.Infof("Target entities: %d", len(entities))

	pipeline := runner.New(runner.Params{
		Store:       o.repo,
		Worker:      o.worker,
		Stages:      stages,
		HeavyStages: heavy,
		Targets:     o.targets,
		Limiter:     limiter.New(stages),
		Recorder:    o.recorder,
		Tracer:      o.tracer,
	})
	res := scheduler.New(pipeline, len(stages), o.cfg.MaxConcurrency).Run(ctx, batch, entities)
	if res.Err != nil {
		logger.Warnf("Entity pipelines reported errors: %v", res.Err)
	}

	summary := &Summary{
		BatchID:    batch.ID,
		RunMode:    batch.RunMode,
		Resumed:    resumed,
		Total:      res.Total,
		Succeeded:  res.Completed,
		Failed:     res.Failed,
		FinalStage: finalStage,
	}

	if res.Interrupted {
		summary.Interrupted = true
		o.afterBatch(ctx, summary)
		return summary, exception.NewBatchError(op, fmt.Sprintf("batch %s interrupted", batch.ID), exception.ErrInterrupted)
	}

	finished, err := o.repo.FinishBatch(ctx, batch.ID, finalStage, stages, o.requireAllStages())
	if err != nil {
		o.tracer.RecordError(ctx, op, err)
		return summary, exception.NewFatalError(op, fmt.Sprintf("failed to finish batch %s", batch.ID), err)
	}
	summary.Succeeded = finished.SuccessEntities
	summary.Failed = finished.TotalEntities - finished.SuccessEntities
	o.recorder.RecordBatchEnd(ctx, finished, summary.Failed)

	records, err := o.repo.FindStageRecords(ctx, batch.ID)
	if err != nil {
		logger.Warnf("Failed to load stage records of batch %s: %v", batch.ID, err)
	} else {
		summary.Failures = failures(entities, stages, records)
		name, err := o.exporter.Export(ctx, finished, records)
		if err != nil {
			o.tracer.RecordError(ctx, op, err)
			logger.Warnf("Report export of batch %s failed: %v", batch.ID, err)
		}
		summary.ReportObject = name
	}

	o.afterBatch(ctx, summary)
	return summary, nil
}

// Status returns the batch and its stage records.
func (o *Orchestrator) Status(ctx context.Context, batchID string) (*BatchStatus, error) {
	const op = "Orchestrator.Status"

	batch, err := o.repo.FindBatch(ctx, batchID)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find batch %s", batchID), err)
	}
	records, err := o.repo.FindStageRecords(ctx, batchID)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to load stage records of batch %s", batchID), err)
	}
	done := make(map[model.Stage]int, len(model.AllStages))
	for _, stage := range model.AllStages {
		n, err := o.repo.CountEntitiesAtStatus(ctx, batchID, stage, model.StageStatusDone)
		if err != nil {
			return nil, exception.NewBatchError(op, fmt.Sprintf("failed to count %s entities of batch %s", stage, batchID), err)
		}
		done[stage] = n
	}
	return &BatchStatus{Batch: batch, Records: records, Done: done, SuccessPolicy: o.successPolicy()}, nil
}

// RunningBatch returns the RUNNING batch of runMode.
func (o *Orchestrator) RunningBatch(ctx context.Context, runMode model.RunMode) (*model.Batch, error) {
	return o.repo.FindRunningBatch(ctx, runMode)
}

func (o *Orchestrator) successPolicy() string {
	if config.SuccessPolicy(strings.ToLower(o.cfg.SuccessPolicy)) == config.SuccessPolicyAllStages {
		return string(config.SuccessPolicyAllStages)
	}
	return string(config.SuccessPolicyFinalStage)
}

func (o *Orchestrator) requireAllStages() bool {
	return o.successPolicy() == string(config.SuccessPolicyAllStages)
}

func heavyStages(names []string) (model.StageList, error) {
	heavy := make(model.StageList, 0, len(names))
	for _, name := range names {
		stage := model.Stage(strings.ToUpper(strings.TrimSpace(name)))
		if !model.AllStages.Contains(stage) {
			return nil, fmt.Errorf("%w: %s", exception.ErrUnknownStage, name)
		}
		heavy = append(heavy, stage)
	}
	return heavy, nil
}

// failures returns, per entity in catalog order, the first active stage that is not DONE.
func failures(entities []model.Entity, stages model.StageList, records []*model.StageRecord) []Failure {
	type key struct {
		entity string
		stage  model.Stage
	}
	byKey := make(map[key]*model.StageRecord, len(records))
	for _, r := range records {
		byKey[key{r.EntityKey, r.Stage}] = r
	}

	var out []Failure
	for _, e := range entities {
		for _, s := range stages {
			r, ok := byKey[key{e.Key(), s}]
			if ok && r.Status == model.StageStatusDone {
				continue
			}
			f := Failure{EntityKey: e.Key(), Stage: s, Status: model.StageStatusPending}
			if ok {
				f.Status = r.Status
				f.Message = r.ErrorMessage
			}
			out = append(out, f)
			break
		}
	}
	return out
}

func (o *Orchestrator) afterBatch(ctx context.Context, summary *Summary) {
	for _, l := range o.listeners {
		l.AfterBatch(ctx, summary)
	}
}
