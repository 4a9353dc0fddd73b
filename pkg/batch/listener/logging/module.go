package logging

import (
	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/core/application/usecase"
)

// Module provides the logging batch listener to the batch_listeners group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLoggingBatchListener,
		fx.As(new(usecase.BatchListener)),
		fx.ResultTags(`group:"batch_listeners"`),
	)),
)
