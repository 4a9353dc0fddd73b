package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/runner"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/scheduler"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
	"github.com/tigerroll/feedpipe/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/feedpipe/pkg/batch/test"
)

func newPipeline(t *testing.T, w *test.RecordingWorker) (*runner.EntityPipelineRunner, *inmemory.InMemoryPipelineRepository, *model.Batch) {
	t.Helper()
	repo := inmemory.NewInMemoryPipelineRepository()
	batch, _, err := repo.GetOrCreateBatch(context.Background(), model.RunModeFull, model.StageRegister)
	require.NoError(t, err)
	return runner.New(runner.Params{Store: repo, Worker: w, Stages: model.AllStages}), repo, batch
}

func TestWidth(t *testing.T) {
	assert.Equal(t, 3, scheduler.Width(3, 5, 0))
	assert.Equal(t, 5, scheduler.Width(12, 5, 0))
	assert.Equal(t, 2, scheduler.Width(12, 5, 2))
	assert.Equal(t, 4, scheduler.Width(4, 5, 8))
	assert.Equal(t, 0, scheduler.Width(0, 5, 0))
}

func TestRun_PipelinesStagesWithoutOverlap(t *testing.T) {
	w := test.NewRecordingWorker(15 * time.Millisecond)
	r, _, batch := newPipeline(t, w)
	entities := test.NewTestEntities("okmall", 6)

	res := scheduler.New(r, len(model.AllStages), 0).Run(context.Background(), batch, entities)

	require.NoError(t, res.Err)
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, 6, res.Completed)
	assert.Zero(t, res.Failed)
	assert.False(t, res.Interrupted)
	assert.Zero(t, w.Overlaps(), "a stage never runs two entities at once")
	assert.GreaterOrEqual(t, w.MaxBusyStages(), 2, "different entities occupy different stages simultaneously")
	assert.Len(t, w.Calls(), 6*len(model.AllStages))
}

func TestRun_FailureIsolation(t *testing.T) {
	w := test.NewRecordingWorker(time.Millisecond)
	w.FailOn("okmall/Brand2", model.StageImage, "worker failed: image_uploader")
	r, repo, batch := newPipeline(t, w)
	entities := test.NewTestEntities("okmall", 4)

	res := scheduler.New(r, len(model.AllStages), 0).Run(context.Background(), batch, entities)

	require.NoError(t, res.Err, "stage failures are not task errors")
	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"okmall/Brand2"}, res.Incomplete)

	status, err := repo.GetStageStatus(context.Background(), batch.ID, "okmall/Brand2", model.StageImage)
	require.NoError(t, err)
	assert.Equal(t, model.StageStatusError, status)
	assert.Equal(t, []model.Stage{model.StageCollect, model.StageConvert, model.StageImage}, w.StagesFor("okmall/Brand2"))
}

// scriptedRunner runs a function per entity.
type scriptedRunner struct {
	run func(entity model.Entity) (bool, error)
}

func (s scriptedRunner) Run(ctx context.Context, batch *model.Batch, entity model.Entity) (bool, error) {
	return s.run(entity)
}

func TestRun_RecoversPanicsAndAggregatesErrors(t *testing.T) {
	r := scriptedRunner{run: func(e model.Entity) (bool, error) {
		switch e.SourceName {
		case "Brand1":
			panic("nil map")
		case "Brand2":
			return false, errors.New("database is locked")
		default:
			return true, nil
		}
	}}

	res := scheduler.New(r, 5, 0).Run(context.Background(), &model.Batch{ID: "b"}, test.NewTestEntities("okmall", 4))

	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 2, res.Failed)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panicked: nil map")
	assert.Contains(t, res.Err.Error(), "database is locked")
}

func TestRun_MaxConcurrencyBoundsPool(t *testing.T) {
	var running, peak int32
	var mu sync.Mutex
	r := scriptedRunner{run: func(e model.Entity) (bool, error) {
		n := atomic.AddInt32(&running, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return true, nil
	}}

	res := scheduler.New(r, 5, 2).Run(context.Background(), &model.Batch{ID: "b"}, test.NewTestEntities("okmall", 8))

	assert.Equal(t, 8, res.Completed)
	assert.LessOrEqual(t, peak, int32(2))
}

func TestRun_InterruptedStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started int32
	r := scriptedRunner{run: func(e model.Entity) (bool, error) {
		atomic.AddInt32(&started, 1)
		cancel()
		return false, nil
	}}

	res := scheduler.New(r, 5, 1).Run(ctx, &model.Batch{ID: "b"}, test.NewTestEntities("okmall", 5))

	assert.True(t, res.Interrupted)
	assert.Equal(t, 5, res.Failed)
	assert.Less(t, atomic.LoadInt32(&started), int32(5))
}

func TestRun_PanickingWorkerFreesStageGate(t *testing.T) {
	w := test.NewRecordingWorker(time.Millisecond)
	w.OnInvoke = func(_ context.Context, stage model.Stage, target worker.Target) {
		if target.EntityKey == "okmall/Brand1" && stage == model.StageCollect {
			panic("index out of range")
		}
	}
	r, repo, batch := newPipeline(t, w)
	entities := test.NewTestEntities("okmall", 3)

	done := make(chan scheduler.Result, 1)
	go func() {
		done <- scheduler.New(r, len(model.AllStages), 0).Run(context.Background(), batch, entities)
	}()

	var res scheduler.Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("entities stayed blocked on the COLLECT gate")
	}
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"okmall/Brand1"}, res.Incomplete)

	status, err := repo.GetStageStatus(context.Background(), batch.ID, "okmall/Brand1", model.StageCollect)
	require.NoError(t, err)
	assert.Equal(t, model.StageStatusError, status)
}
