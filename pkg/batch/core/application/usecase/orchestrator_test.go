package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/feedpipe/pkg/batch/core/application/usecase"
	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/runner"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
	"github.com/tigerroll/feedpipe/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/test"
)

type capturingExporter struct {
	batch   *model.Batch
	records []*model.StageRecord
}

func (e *capturingExporter) Export(ctx context.Context, batch *model.Batch, records []*model.StageRecord) (string, error) {
	e.batch = batch
	e.records = records
	return "report/" + batch.ID + ".parquet", nil
}

type brokenCatalog struct {
	*inmemory.InMemoryPipelineRepository
}

func (brokenCatalog) ListEntities(ctx context.Context, filter model.EntityFilter) ([]model.Entity, error) {
	return nil, errors.New("catalog unreachable")
}

func newOrchestrator(repo *inmemory.InMemoryPipelineRepository, w worker.StageWorker) *usecase.Orchestrator {
	return usecase.NewOrchestrator(repo, w, config.NewConfig(), nil, nil, nil)
}

func statusOf(t *testing.T, repo *inmemory.InMemoryPipelineRepository, batchID, key string, stage model.Stage) model.StageStatus {
	t.Helper()
	s, err := repo.GetStageStatus(context.Background(), batchID, key, stage)
	require.NoError(t, err)
	return s
}

func TestRun_OneEntityFailsAtImage(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 3)...)
	w := test.NewRecordingWorker(5 * time.Millisecond)
	w.FailOn("okmall/Brand2", model.StageImage, "worker failed: image_uploader")

	summary, err := newOrchestrator(repo, w).Run(context.Background(), usecase.RunOptions{RunMode: model.RunModeFull})

	require.NoError(t, err)
	assert.False(t, summary.Resumed)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, model.StageRegister, summary.FinalStage)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, usecase.Failure{
		EntityKey: "okmall/Brand2",
		Stage:     model.StageImage,
		Status:    model.StageStatusError,
		Message:   "worker failed: image_uploader",
	}, summary.Failures[0])

	assert.Equal(t, []model.Stage{model.StageCollect, model.StageConvert, model.StageImage}, w.StagesFor("okmall/Brand2"))
	assert.Equal(t, model.StageStatusPending, statusOf(t, repo, summary.BatchID, "okmall/Brand2", model.StagePrice))
	assert.Zero(t, w.Overlaps())

	batch, err := repo.FindBatch(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 3, batch.TotalEntities)
	assert.Equal(t, 2, batch.SuccessEntities)
	assert.NotNil(t, batch.EndTime)
}

func TestRun_InterruptedBatchResumesWithSameID(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 3)...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := test.NewRecordingWorker(20 * time.Millisecond)
	first.OnInvoke = func(_ context.Context, stage model.Stage, target worker.Target) {
		if stage == model.StagePrice && target.EntityKey == "okmall/Brand1" {
			cancel()
		}
	}
	summary, err := newOrchestrator(repo, first).Run(ctx, usecase.RunOptions{RunMode: model.RunModeFull})

	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrInterrupted)
	require.NotNil(t, summary)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, model.StageStatusRunning, statusOf(t, repo, summary.BatchID, "okmall/Brand1", model.StagePrice))
	assert.NotContains(t, first.StagesFor("okmall/Brand1"), model.StageRegister)

	running, err := repo.FindRunningBatch(context.Background(), model.RunModeFull)
	require.NoError(t, err)
	assert.Equal(t, summary.BatchID, running.ID)

	second := test.NewRecordingWorker(0)
	resumed, err := newOrchestrator(repo, second).Run(context.Background(), usecase.RunOptions{RunMode: model.RunModeFull})

	require.NoError(t, err)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, summary.BatchID, resumed.BatchID)
	assert.Equal(t, 3, resumed.Succeeded)
	assert.Empty(t, resumed.Failures)
	assert.Equal(t, []model.Stage{model.StagePrice, model.StageRegister}, second.StagesFor("okmall/Brand1"))

	_, err = repo.FindRunningBatch(context.Background(), model.RunModeFull)
	assert.ErrorIs(t, err, exception.ErrBatchNotFound)
}

func TestRun_ResumingFinishedStagesInvokesNothing(t *testing.T) {
	entities := test.NewTestEntities("okmall", 2)
	repo := inmemory.NewInMemoryPipelineRepository(entities...)
	ctx := context.Background()
	batch, _, err := repo.GetOrCreateBatch(ctx, model.RunModeFull, model.StageRegister)
	require.NoError(t, err)
	for _, e := range entities {
		for _, s := range model.AllStages {
			require.NoError(t, repo.SetStageStatus(ctx, batch.ID, e.Key(), s, model.StageStatusDone, ""))
		}
	}

	w := test.NewRecordingWorker(0)
	summary, err := newOrchestrator(repo, w).Run(ctx, usecase.RunOptions{RunMode: model.RunModeFull})

	require.NoError(t, err)
	assert.True(t, summary.Resumed)
	assert.Equal(t, batch.ID, summary.BatchID)
	assert.Empty(t, w.Calls())
	assert.Equal(t, 2, summary.Succeeded)
}

func TestRun_UntilTruncatesStages(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 2)...)
	w := test.NewRecordingWorker(0)

	summary, err := newOrchestrator(repo, w).Run(context.Background(), usecase.RunOptions{RunMode: model.RunModeFull, Until: "price"})

	require.NoError(t, err)
	assert.Equal(t, model.StagePrice, summary.FinalStage)
	assert.Equal(t, 2, summary.Succeeded)
	for _, c := range w.Calls() {
		assert.NotEqual(t, model.StageRegister, c.Stage)
	}
	assert.Equal(t, model.StageStatusPending, statusOf(t, repo, summary.BatchID, "okmall/Brand1", model.StageRegister))

	batch, err := repo.FindBatch(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StagePrice, batch.FinalStage)
}

func TestRun_InvalidUntilIsFatalBeforeBatchCreation(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 1)...)

	_, err := newOrchestrator(repo, test.NewRecordingWorker(0)).Run(context.Background(), usecase.RunOptions{Until: "PUBLISH"})

	require.Error(t, err)
	assert.True(t, exception.IsFatal(err))
	assert.ErrorIs(t, err, exception.ErrUnknownStage)
	_, err = repo.FindRunningBatch(context.Background(), model.RunModeFull)
	assert.ErrorIs(t, err, exception.ErrBatchNotFound)
}

func TestRun_PartialModeSkipsHeavyStages(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 2)...)
	w := test.NewRecordingWorker(0)

	summary, err := newOrchestrator(repo, w).Run(context.Background(), usecase.RunOptions{RunMode: model.RunModePartial})

	require.NoError(t, err)
	assert.Equal(t, model.RunModePartial, summary.RunMode)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, []model.Stage{model.StageCollect, model.StagePrice, model.StageRegister}, w.StagesFor("okmall/Brand1"))

	status, err := newOrchestrator(repo, w).Status(context.Background(), summary.BatchID)
	require.NoError(t, err)
	for _, r := range status.Records {
		if r.Stage == model.StageConvert || r.Stage == model.StageImage {
			assert.Equal(t, model.StageStatusDone, r.Status)
			assert.Equal(t, runner.PartialSkipNote, r.ErrorMessage)
		}
	}
}

func TestRun_FiltersEntities(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(
		test.NewTestEntity("okmall", "Nike", ""),
		test.NewTestEntity("okmall", "Adidas", ""),
		test.NewTestEntity("wconcept", "Nike", ""),
	)
	w := test.NewRecordingWorker(0)

	summary, err := newOrchestrator(repo, w).Run(context.Background(), usecase.RunOptions{Mall: "okmall", Exclude: []string{"adidas"}})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Len(t, w.StagesFor("okmall/Nike"), len(model.AllStages))
	assert.Empty(t, w.StagesFor("wconcept/Nike"))
}

func TestRun_CatalogFailureIsFatal(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository()
	o := usecase.NewOrchestrator(brokenCatalog{repo}, test.NewRecordingWorker(0), config.NewConfig(), nil, nil, nil)

	_, err := o.Run(context.Background(), usecase.RunOptions{RunMode: model.RunModeFull})

	require.Error(t, err)
	assert.True(t, exception.IsFatal(err))
	running, err := repo.FindRunningBatch(context.Background(), model.RunModeFull)
	require.NoError(t, err, "the batch is left RUNNING for the next run")
	assert.True(t, running.IsRunning())
}

func TestRun_FinalStagePolicyAndReport(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 2)...)
	cfg := config.NewConfig()
	exporter := &capturingExporter{}
	w := test.NewRecordingWorker(0)
	o := usecase.NewOrchestrator(repo, w, cfg, nil, nil, exporter)

	ctx := context.Background()
	batch, _, err := repo.GetOrCreateBatch(ctx, model.RunModeFull, model.StageRegister)
	require.NoError(t, err)
	// Brand1 reached REGISTER in an earlier run while CONVERT was recorded as failed.
	require.NoError(t, repo.SetStageStatus(ctx, batch.ID, "okmall/Brand1", model.StageRegister, model.StageStatusDone, ""))
	w.FailOn("okmall/Brand1", model.StageConvert, "worker failed: converter")

	summary, err := o.Run(ctx, usecase.RunOptions{RunMode: model.RunModeFull})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded, "only the final stage is inspected")
	assert.Equal(t, "report/"+batch.ID+".parquet", summary.ReportObject)
	require.NotNil(t, exporter.batch)
	assert.Equal(t, model.BatchStatusCompleted, exporter.batch.Status)
	assert.NotEmpty(t, exporter.records)
}

func TestRun_AllStagesPolicyRequiresEveryStage(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 2)...)
	cfg := config.NewConfig()
	cfg.Feedpipe.Pipeline.SuccessPolicy = "ALL_STAGES"
	w := test.NewRecordingWorker(0)
	o := usecase.NewOrchestrator(repo, w, cfg, nil, nil, nil)

	ctx := context.Background()
	batch, _, err := repo.GetOrCreateBatch(ctx, model.RunModeFull, model.StageRegister)
	require.NoError(t, err)
	require.NoError(t, repo.SetStageStatus(ctx, batch.ID, "okmall/Brand1", model.StageRegister, model.StageStatusDone, ""))
	w.FailOn("okmall/Brand1", model.StageConvert, "worker failed: converter")

	summary, err := o.Run(ctx, usecase.RunOptions{RunMode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded, "Brand1 has CONVERT in ERROR")

	status, err := o.Status(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "all_stages", status.SuccessPolicy)
}

func TestStatus(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 2)...)
	w := test.NewRecordingWorker(0)
	w.FailOn("okmall/Brand2", model.StageCollect, "worker failed: collector")
	o := newOrchestrator(repo, w)

	summary, err := o.Run(context.Background(), usecase.RunOptions{RunMode: model.RunModeFull})
	require.NoError(t, err)

	status, err := o.Status(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, summary.BatchID, status.Batch.ID)
	keys, byKey := status.Entities()
	assert.ElementsMatch(t, []string{"okmall/Brand1", "okmall/Brand2"}, keys)
	assert.Len(t, byKey["okmall/Brand1"], len(model.AllStages))
	require.Len(t, byKey["okmall/Brand2"], 1)
	assert.Equal(t, "worker failed: collector", byKey["okmall/Brand2"][0].ErrorMessage)
	assert.Equal(t, map[model.Stage]int{
		model.StageCollect:  1,
		model.StageConvert:  1,
		model.StageImage:    1,
		model.StagePrice:    1,
		model.StageRegister: 1,
	}, status.Done)
	assert.Equal(t, "final_stage", status.SuccessPolicy)

	_, err = o.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, exception.ErrBatchNotFound)
}

type recordingListener struct {
	started   []bool
	summaries []*usecase.Summary
}

func (l *recordingListener) BeforeBatch(ctx context.Context, batch *model.Batch, resumed bool) {
	l.started = append(l.started, resumed)
}

func (l *recordingListener) AfterBatch(ctx context.Context, summary *usecase.Summary) {
	l.summaries = append(l.summaries, summary)
}

func TestRun_NotifiesListeners(t *testing.T) {
	repo := inmemory.NewInMemoryPipelineRepository(test.NewTestEntities("okmall", 2)...)
	listener := &recordingListener{}
	o := newOrchestrator(repo, test.NewRecordingWorker(0)).WithListeners(listener)

	summary, err := o.Run(context.Background(), usecase.RunOptions{RunMode: model.RunModeFull})

	require.NoError(t, err)
	assert.Equal(t, []bool{false}, listener.started)
	require.Len(t, listener.summaries, 1)
	assert.Same(t, summary, listener.summaries[0])
	assert.Equal(t, 2, listener.summaries[0].Succeeded)
}
