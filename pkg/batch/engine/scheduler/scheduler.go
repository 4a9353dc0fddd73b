// Package scheduler runs entity pipelines concurrently through a bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hashicorp/go-multierror"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// EntityRunner runs the pipeline of one entity.
type EntityRunner interface {
	Run(ctx context.Context, batch *model.Batch, entity model.Entity) (bool, error)
}

// Result summarises a scheduler run.
type Result struct {
	Total     int
	Completed int
	// Failed counts entities that did not complete, including those never started.
	Failed int
	// Incomplete lists the keys of entities that did not complete, in catalog order.
	Incomplete []string
	// Err aggregates task errors and recovered panics. Stage failures are not errors.
	Err error
	// Interrupted reports that the context was done before every entity finished.
	Interrupted bool
}

// Scheduler dispatches one task per entity to a pool of goroutines.
type Scheduler struct {
	runner         EntityRunner
	stageCount     int
	maxConcurrency int
}

// New creates a Scheduler. maxConcurrency <= 0 sizes the pool by Width.
func New(runner EntityRunner, stageCount, maxConcurrency int) *Scheduler {
	return &Scheduler{runner: runner, stageCount: stageCount, maxConcurrency: maxConcurrency}
}

// Width returns the pool size: maxConcurrency when positive, otherwise
// min(entities, stages). More entity pipelines than stages could only queue on
// the stage gates.
func Width(entities, stages, maxConcurrency int) int {
	if maxConcurrency > 0 {
		if entities < maxConcurrency {
			return entities
		}
		return maxConcurrency
	}
	if entities < stages {
		return entities
	}
	return stages
}

// Run executes the pipelines of entities and waits for all started tasks.
// Once ctx is done no further entity is started.
func (s *Scheduler) Run(ctx context.Context, batch *model.Batch, entities []model.Entity) Result {
	width := Width(len(entities), s.stageCount, s.maxConcurrency)
	if width < 1 && len(entities) > 0 {
		width = 1
	}
	logger.Infof("Scheduling %d entities on %d workers.", len(entities), width)

	completed := make([]bool, len(entities))
	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	tasks := make(chan int)

	for i := 0; i < width; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				ok, err := s.runTask(ctx, batch, entities[idx])
				mu.Lock()
				completed[idx] = ok
				if err != nil {
					errs = multierror.Append(errs, err)
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for idx := range entities {
		if ctx.Err() == nil {
			select {
			case tasks <- idx:
				continue
			case <-ctx.Done():
			}
		}
		logger.Warnf("Interrupted: %d of %d entities were not started.", len(entities)-idx, len(entities))
		break dispatch
	}
	close(tasks)
	wg.Wait()

	res := Result{Total: len(entities), Err: errs.ErrorOrNil(), Interrupted: ctx.Err() != nil}
	for idx, ok := range completed {
		if ok {
			res.Completed++
		} else {
			res.Incomplete = append(res.Incomplete, entities[idx].Key())
		}
	}
	res.Failed = res.Total - res.Completed
	return res
}

// runTask runs one entity pipeline, converting a panic into an error.
func (s *Scheduler) runTask(ctx context.Context, batch *model.Batch, entity model.Entity) (ok bool, err error) {
	key := entity.Key()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Pipeline of %s panicked: %v\n%s", key, r, debug.Stack())
			ok = false
			err = exception.NewBatchError("Scheduler", fmt.Sprintf("pipeline of %s panicked: %v", key, r), nil)
		}
	}()

	ok, err = s.runner.Run(ctx, batch, entity)
	if err != nil {
		logger.Errorf("Pipeline of %s aborted: %v", key, err)
	}
	return ok, err
}
