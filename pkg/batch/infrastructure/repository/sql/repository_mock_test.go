package sql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	reposql "github.com/tigerroll/feedpipe/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/test"
)

func TestGetOrCreateBatch_IssuesConditionalInsert(t *testing.T) {
	conn, mock := test.NewMockConnection(t)
	repo := reposql.NewSQLPipelineRepository(test.NewSingleConnectionResolver(conn), "mock", "")

	mock.ExpectExec("INSERT INTO `pipeline_batches` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `pipeline_batches` WHERE .*`running_lock` = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"batch_id", "run_mode", "status", "final_stage", "running_lock"}).
			AddRow("existing-id", "FULL", "RUNNING", "REGISTER", "FULL"))

	batch, resumed, err := repo.GetOrCreateBatch(context.Background(), model.RunModeFull, model.StageRegister)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, "existing-id", batch.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateBatch_InsertFailureIsFatal(t *testing.T) {
	conn, mock := test.NewMockConnection(t)
	repo := reposql.NewSQLPipelineRepository(test.NewSingleConnectionResolver(conn), "mock", "")

	mock.ExpectExec("INSERT INTO `pipeline_batches`").WillReturnError(errors.New("connection refused"))

	_, _, err := repo.GetOrCreateBatch(context.Background(), model.RunModeFull, model.StageRegister)
	require.Error(t, err)
	assert.True(t, exception.IsFatal(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStageStatus_UpsertsOnRecordKey(t *testing.T) {
	conn, mock := test.NewMockConnection(t)
	repo := reposql.NewSQLPipelineRepository(test.NewSingleConnectionResolver(conn), "mock", "")

	mock.ExpectQuery("SELECT \\* FROM `pipeline_control` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_id", "entity_key", "stage", "status"}))
	mock.ExpectExec("INSERT INTO `pipeline_control` .* ON DUPLICATE KEY UPDATE .*`status`.*`started_at`.*`updated_at`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.SetStageStatus(context.Background(), "b1", "okmall/Nike", model.StageCollect, model.StageStatusRunning, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStageStatus_RejectsLeavingDone(t *testing.T) {
	conn, mock := test.NewMockConnection(t)
	repo := reposql.NewSQLPipelineRepository(test.NewSingleConnectionResolver(conn), "mock", "")

	mock.ExpectQuery("SELECT \\* FROM `pipeline_control` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_id", "entity_key", "stage", "status"}).
			AddRow(7, "b1", "okmall/Nike", "COLLECT", "DONE"))

	err := repo.SetStageStatus(context.Background(), "b1", "okmall/Nike", model.StageCollect, model.StageStatusRunning, "")
	assert.ErrorIs(t, err, exception.ErrIllegalTransition)
	assert.NoError(t, mock.ExpectationsWereMet(), "no write is issued")
}

func TestFinishBatch_ClearsRunningLock(t *testing.T) {
	conn, mock := test.NewMockConnection(t)
	repo := reposql.NewSQLPipelineRepository(test.NewSingleConnectionResolver(conn), "mock", "")

	mock.ExpectQuery("SELECT \\* FROM `pipeline_control` WHERE .*`stage` = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_id", "entity_key", "stage", "status"}).
			AddRow(1, "b1", "okmall/Nike", "REGISTER", "DONE"))
	mock.ExpectExec("UPDATE `pipeline_batches` SET .*`running_lock`=.* WHERE `batch_id` = \\? AND `status` = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM `pipeline_batches` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"batch_id", "run_mode", "status", "success_entities"}).
			AddRow("b1", "FULL", "COMPLETED", 1))

	batch, err := repo.FinishBatch(context.Background(), "b1", model.StageRegister, model.AllStages, false)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 1, batch.SuccessEntities)
	assert.NoError(t, mock.ExpectationsWereMet())
}
