package worker

import (
	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
)

// NewStageWorkerProvider builds the command worker from the pipeline settings.
func NewStageWorkerProvider(cfg *config.Config) (StageWorker, error) {
	w, err := NewCommandWorker(cfg.Feedpipe.Pipeline)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Module provides the StageWorker.
var Module = fx.Options(
	fx.Provide(NewStageWorkerProvider),
)
