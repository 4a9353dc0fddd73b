// Package worker launches the external executables that perform stage work.
package worker

import (
	"context"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
)

// Target identifies what a stage worker operates on.
type Target struct {
	// Name is the entity name handed to the worker (source or destination name).
	Name string
	// Mall is the entity's source shop.
	Mall string
	// EntityKey prefixes every relayed output line.
	EntityKey string
}

// Outcome is the result of a stage invocation.
type Outcome struct {
	Success bool
	// Diagnostic explains a failure. Empty on success.
	Diagnostic string
}

// Succeeded returns a successful Outcome.
func Succeeded() Outcome {
	return Outcome{Success: true}
}

// Failed returns a failed Outcome carrying diagnostic.
func Failed(diagnostic string) Outcome {
	return Outcome{Diagnostic: diagnostic}
}

// StageWorker performs the work of one stage for one target.
// Implementations must be safe for concurrent use for different stages.
type StageWorker interface {
	Invoke(ctx context.Context, stage model.Stage, target Target) Outcome
}
