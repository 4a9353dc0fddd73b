package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/runner"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
	"github.com/tigerroll/feedpipe/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/test"
)

var heavy = model.StageList{model.StageConvert, model.StageImage}

func setup(t *testing.T, mode model.RunMode, stages model.StageList) (*runner.EntityPipelineRunner, *inmemory.InMemoryPipelineRepository, *test.RecordingWorker, *model.Batch) {
	t.Helper()
	repo := inmemory.NewInMemoryPipelineRepository()
	batch, _, err := repo.GetOrCreateBatch(context.Background(), mode, stages.Final())
	require.NoError(t, err)
	w := test.NewRecordingWorker(0)
	r := runner.New(runner.Params{Store: repo, Worker: w, Stages: stages, HeavyStages: heavy})
	return r, repo, w, batch
}

func statusOf(t *testing.T, repo *inmemory.InMemoryPipelineRepository, batchID, key string, stage model.Stage) model.StageStatus {
	t.Helper()
	s, err := repo.GetStageStatus(context.Background(), batchID, key, stage)
	require.NoError(t, err)
	return s
}

func TestRun_WalksAllStages(t *testing.T) {
	r, repo, w, batch := setup(t, model.RunModeFull, model.AllStages)
	entity := test.NewTestEntity("okmall", "Nike", "NIKE JAPAN")

	completed, err := r.Run(context.Background(), batch, entity)

	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []model.Stage(model.AllStages), w.StagesFor("okmall/Nike"))
	for _, s := range model.AllStages {
		assert.Equal(t, model.StageStatusDone, statusOf(t, repo, batch.ID, "okmall/Nike", s))
	}

	calls := w.Calls()
	assert.Equal(t, "Nike", calls[0].Target.Name, "COLLECT receives the source name")
	assert.Equal(t, "Nike", calls[1].Target.Name, "CONVERT receives the source name")
	assert.Equal(t, "NIKE JAPAN", calls[2].Target.Name, "IMAGE receives the destination name")
	assert.Equal(t, "okmall", calls[4].Target.Mall)
}

func TestRun_SkipsDoneStages(t *testing.T) {
	r, repo, w, batch := setup(t, model.RunModeFull, model.AllStages)
	ctx := context.Background()
	for _, s := range (model.StageList{model.StageCollect, model.StageConvert}) {
		require.NoError(t, repo.SetStageStatus(ctx, batch.ID, "okmall/Nike", s, model.StageStatusDone, ""))
	}

	completed, err := r.Run(ctx, batch, test.NewTestEntity("okmall", "Nike", ""))

	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []model.Stage{model.StageImage, model.StagePrice, model.StageRegister}, w.StagesFor("okmall/Nike"))
}

func TestRun_PartialModeSkipsHeavyStages(t *testing.T) {
	r, repo, w, batch := setup(t, model.RunModePartial, model.AllStages)

	completed, err := r.Run(context.Background(), batch, test.NewTestEntity("okmall", "Nike", ""))

	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []model.Stage{model.StageCollect, model.StagePrice, model.StageRegister}, w.StagesFor("okmall/Nike"))

	records, err := repo.FindStageRecords(context.Background(), batch.ID)
	require.NoError(t, err)
	notes := map[model.Stage]string{}
	for _, rec := range records {
		assert.Equal(t, model.StageStatusDone, rec.Status)
		notes[rec.Stage] = rec.ErrorMessage
	}
	assert.Equal(t, runner.PartialSkipNote, notes[model.StageConvert])
	assert.Equal(t, runner.PartialSkipNote, notes[model.StageImage])
	assert.Empty(t, notes[model.StageCollect])
}

func TestRun_FailureAbortsEntityAndRetriesOnNextRun(t *testing.T) {
	r, repo, w, batch := setup(t, model.RunModeFull, model.AllStages)
	entity := test.NewTestEntity("okmall", "Nike", "")
	w.FailOn("okmall/Nike", model.StageImage, "worker failed: image_uploader")

	completed, err := r.Run(context.Background(), batch, entity)

	require.NoError(t, err, "a stage failure is not a task error")
	assert.False(t, completed)
	assert.Equal(t, model.StageStatusError, statusOf(t, repo, batch.ID, "okmall/Nike", model.StageImage))
	assert.Equal(t, model.StageStatusPending, statusOf(t, repo, batch.ID, "okmall/Nike", model.StagePrice))

	w.ClearFailures()
	completed, err = r.Run(context.Background(), batch, entity)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []model.Stage{
		model.StageCollect, model.StageConvert, model.StageImage,
		model.StageImage, model.StagePrice, model.StageRegister,
	}, w.StagesFor("okmall/Nike"))
}

func TestRun_UntilTruncatesStages(t *testing.T) {
	stages, err := model.AllStages.Until("image")
	require.NoError(t, err)
	r, repo, w, batch := setup(t, model.RunModeFull, stages)

	completed, err := r.Run(context.Background(), batch, test.NewTestEntity("okmall", "Nike", ""))

	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, []model.Stage{model.StageCollect, model.StageConvert, model.StageImage}, w.StagesFor("okmall/Nike"))
	assert.Equal(t, model.StageStatusPending, statusOf(t, repo, batch.ID, "okmall/Nike", model.StagePrice))
}

func TestRun_InterruptLeavesStageRunning(t *testing.T) {
	r, repo, w, batch := setup(t, model.RunModeFull, model.AllStages)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, repo.SetStageStatus(ctx, batch.ID, "okmall/Nike", model.StageCollect, model.StageStatusDone, ""))
	w.Delay = 10 * time.Second
	w.OnInvoke = func(_ context.Context, stage model.Stage, _ worker.Target) {
		if stage == model.StageConvert {
			cancel()
		}
	}

	completed, err := r.Run(ctx, batch, test.NewTestEntity("okmall", "Nike", ""))

	assert.False(t, completed)
	assert.ErrorIs(t, err, exception.ErrInterrupted)
	assert.Equal(t, model.StageStatusRunning, statusOf(t, repo, batch.ID, "okmall/Nike", model.StageConvert))
	assert.Equal(t, model.StageStatusPending, statusOf(t, repo, batch.ID, "okmall/Nike", model.StageImage))
}

// failingStore fails every status read.
type failingStore struct {
	*inmemory.InMemoryPipelineRepository
}

func (failingStore) GetStageStatus(ctx context.Context, batchID, entityKey string, stage model.Stage) (model.StageStatus, error) {
	return "", errors.New("database is locked")
}

func TestRun_StoreErrorIsReturned(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository()
	batch, _, err := repo.GetOrCreateBatch(context.Background(), model.RunModeFull, model.StageRegister)
	require.NoError(t, err)
	w := test.NewRecordingWorker(0)
	r := runner.New(runner.Params{Store: failingStore{repo}, Worker: w, Stages: model.AllStages})

	completed, err := r.Run(context.Background(), batch, test.NewTestEntity("okmall", "Nike", ""))

	assert.False(t, completed)
	assert.ErrorContains(t, err, "database is locked")
	assert.Empty(t, w.Calls())
}

func TestStageTargetResolver(t *testing.T) {
	entity := test.NewTestEntity("okmall", "Nike", "NIKE JAPAN")

	def := runner.NewDefaultTargetResolver()
	assert.Equal(t, "Nike", def.Resolve(model.StageCollect, entity).Name)
	assert.Equal(t, "NIKE JAPAN", def.Resolve(model.StageRegister, entity).Name)

	configured := runner.NewStageTargetResolver(config.PipelineConfig{Stages: map[string]config.StageConfig{
		"price":   {Target: "source"},
		"convert": {Target: "destination"},
	}})
	assert.Equal(t, "Nike", configured.Resolve(model.StagePrice, entity).Name)
	assert.Equal(t, "NIKE JAPAN", configured.Resolve(model.StageConvert, entity).Name)
	target := configured.Resolve(model.StageImage, entity)
	assert.Equal(t, worker.Target{Name: "NIKE JAPAN", Mall: "okmall", EntityKey: "okmall/Nike"}, target)
}

func TestRun_WorkerPanicIsRecordedAsError(t *testing.T) {
	r, repo, w, batch := setup(t, model.RunModeFull, model.AllStages)
	w.OnInvoke = func(_ context.Context, stage model.Stage, _ worker.Target) {
		if stage == model.StageImage {
			panic("nil pointer dereference")
		}
	}

	completed, err := r.Run(context.Background(), batch, test.NewTestEntity("okmall", "Nike", ""))

	require.NoError(t, err)
	assert.False(t, completed)
	records, err := repo.FindStageRecords(context.Background(), batch.ID)
	require.NoError(t, err)
	var image *model.StageRecord
	for _, rec := range records {
		if rec.Stage == model.StageImage {
			image = rec
		}
	}
	require.NotNil(t, image)
	assert.Equal(t, model.StageStatusError, image.Status)
	assert.Equal(t, "worker panicked: nil pointer dereference", image.ErrorMessage)

	w.OnInvoke = nil
	completed, err = r.Run(context.Background(), batch, test.NewTestEntity("okmall", "Nike", ""))
	require.NoError(t, err)
	assert.True(t, completed, "the IMAGE gate was released")
}
