// Package limiter serialises each pipeline stage across entities.
package limiter

import (
	"context"
	"fmt"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
)

// StageLimiter holds one binary gate per stage: at most one entity occupies a stage
// at any instant, while different stages are held by different entities at once.
type StageLimiter struct {
	gates map[model.Stage]chan struct{}
}

// New creates a limiter with a free gate for every stage in stages.
func New(stages model.StageList) *StageLimiter {
	gates := make(map[model.Stage]chan struct{}, len(stages))
	for _, s := range stages {
		gates[s] = make(chan struct{}, 1)
	}
	return &StageLimiter{gates: gates}
}

// Acquire blocks until the gate of stage is free or ctx is done. There is no timeout.
// The returned release function frees the gate; calling it more than once is safe.
func (l *StageLimiter) Acquire(ctx context.Context, stage model.Stage) (func(), error) {
	gate, ok := l.gates[stage]
	if !ok {
		return nil, exception.NewBatchError("StageLimiter.Acquire", fmt.Sprintf("no gate for stage %s", stage), exception.ErrUnknownStage)
	}
	select {
	case gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-gate
	}, nil
}
