// Package listener aggregates the batch listeners registered with the orchestrator.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/listener/logging"
)

// Module aggregates all listener modules.
var Module = fx.Options(
	logging.Module,
)
