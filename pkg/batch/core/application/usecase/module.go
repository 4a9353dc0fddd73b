package usecase

import (
	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/component/report"
	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	repository "github.com/tigerroll/feedpipe/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/feedpipe/pkg/batch/core/metrics"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
)

// OrchestratorParams defines the dependencies that NewOrchestratorProvider receives from Fx.
type OrchestratorParams struct {
	fx.In
	Repo      repository.PipelineRepository
	Worker    worker.StageWorker
	Cfg       *config.Config
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
	Exporter  report.Exporter
	Listeners []BatchListener `group:"batch_listeners"`
}

// NewOrchestratorProvider builds the Orchestrator with every listener of the batch_listeners group.
func NewOrchestratorProvider(p OrchestratorParams) *Orchestrator {
	return NewOrchestrator(p.Repo, p.Worker, p.Cfg, p.Recorder, p.Tracer, p.Exporter).
		WithListeners(p.Listeners...)
}

// Module is the Fx module for the Orchestrator and the interfaces it serves.
var Module = fx.Options(
	fx.Provide(NewOrchestratorProvider),
	fx.Provide(func(o *Orchestrator) PipelineLauncher { return o }),
	fx.Provide(func(o *Orchestrator) BatchExplorer { return o }),
)
