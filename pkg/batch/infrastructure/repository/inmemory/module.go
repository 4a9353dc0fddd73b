package inmemory

import (
	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/feedpipe/pkg/batch/core/domain/repository"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// NewPipelineRepositoryProvider builds an in-memory repository whose catalog is
// the static entity list of the pipeline configuration.
func NewPipelineRepositoryProvider(cfg *config.Config) repository.PipelineRepository {
	entries := cfg.Feedpipe.Pipeline.Entities
	entities := make([]model.Entity, 0, len(entries))
	for _, e := range entries {
		entities = append(entities, model.Entity{Mall: e.Mall, SourceName: e.Source, DestinationName: e.Destination})
	}
	logger.Warnf("Using the in-memory state store: progress is lost when the process exits.")
	return NewInMemoryPipelineRepository(entities...)
}

// Module is an Fx module that provides InMemoryPipelineRepository as a repository.PipelineRepository.
var Module = fx.Options(
	fx.Provide(NewPipelineRepositoryProvider),
)
