package sql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/feedpipe/pkg/batch/core/adapter"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/feedpipe/pkg/batch/core/domain/repository"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// MaxErrorMessageLength is the number of runes of a diagnostic kept in a stage record.
const MaxErrorMessageLength = 500

// SQLPipelineRepository implements repository.PipelineRepository on a relational database.
type SQLPipelineRepository struct {
	dbResolver coreAdapter.ResourceConnectionResolver
	// dbName is the connection holding batches and stage records.
	dbName string
	// catalogDBName is the connection holding the entity catalog.
	catalogDBName string

	// mu serialises every store access of this process. It is never held while a worker runs.
	mu sync.Mutex
	// now is replaceable in tests.
	now func() time.Time
}

var _ repository.PipelineRepository = (*SQLPipelineRepository)(nil)

// NewSQLPipelineRepository creates a repository using the named connections.
// An empty catalogDBName uses dbName.
func NewSQLPipelineRepository(dbResolver coreAdapter.ResourceConnectionResolver, dbName, catalogDBName string) *SQLPipelineRepository {
	if catalogDBName == "" {
		catalogDBName = dbName
	}
	return &SQLPipelineRepository{
		dbResolver:    dbResolver,
		dbName:        dbName,
		catalogDBName: catalogDBName,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (r *SQLPipelineRepository) getDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	connAsResource, err := r.dbResolver.ResolveConnection(ctx, name)
	if err != nil {
		return nil, exception.NewFatalError("SQLPipelineRepository", fmt.Sprintf("failed to resolve DB connection '%s'", name), err)
	}
	conn, ok := connAsResource.(database.DBConnection)
	if !ok {
		return nil, exception.NewFatalError("SQLPipelineRepository", fmt.Sprintf("resolved connection '%s' is not a database.DBConnection", name), nil)
	}
	return conn, nil
}

// wrapDBError annotates err with a hint when the schema has not been created.
func wrapDBError(conn database.DBConnection, op, message string, err error) error {
	if conn.IsTableNotExistError(err) {
		return exception.NewFatalError(op, message+" (schema missing, run migrations first)", err)
	}
	return exception.NewBatchError(op, message, err)
}

// --- StageStateStore ---

func (r *SQLPipelineRepository) findStageRecord(ctx context.Context, conn database.DBConnection, batchID, entityKey string, stage model.Stage) (*StageRecordEntity, error) {
	var rows []StageRecordEntity
	err := conn.ExecuteQueryAdvanced(ctx, &rows, map[string]interface{}{
		"batch_id":   batchID,
		"entity_key": entityKey,
		"stage":      string(stage),
	}, "", 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *SQLPipelineRepository) GetStageStatus(ctx context.Context, batchID, entityKey string, stage model.Stage) (model.StageStatus, error) {
	const op = "SQLPipelineRepository.GetStageStatus"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return "", err
	}
	record, err := r.findStageRecord(ctx, conn, batchID, entityKey, stage)
	if err != nil {
		return "", wrapDBError(conn, op, fmt.Sprintf("failed to read %s status of %s", stage, entityKey), err)
	}
	if record == nil {
		return model.StageStatusPending, nil
	}
	return model.StageStatus(record.Status), nil
}

func (r *SQLPipelineRepository) SetStageStatus(ctx context.Context, batchID, entityKey string, stage model.Stage, status model.StageStatus, errMsg string) error {
	const op = "SQLPipelineRepository.SetStageStatus"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return err
	}
	current, err := r.findStageRecord(ctx, conn, batchID, entityKey, stage)
	if err != nil {
		return wrapDBError(conn, op, fmt.Sprintf("failed to read %s status of %s", stage, entityKey), err)
	}

	previous := model.StageStatusPending
	if current != nil {
		previous = model.StageStatus(current.Status)
	}
	if !previous.CanTransitionTo(status) {
		return exception.NewBatchError(op, fmt.Sprintf("%s of %s: %s -> %s", stage, entityKey, previous, status), exception.ErrIllegalTransition)
	}
	if previous == model.StageStatusDone && status == model.StageStatusDone {
		return nil
	}

	now := r.now()
	entity := &StageRecordEntity{
		BatchID:      batchID,
		EntityKey:    entityKey,
		Stage:        string(stage),
		Status:       string(status),
		ErrorMessage: exception.Truncate(errMsg, MaxErrorMessageLength),
		UpdatedAt:    now,
	}
	if current != nil {
		entity.StartedAt = current.StartedAt
	}
	if status == model.StageStatusRunning && entity.StartedAt == nil {
		entity.StartedAt = &now
	}

	_, err = conn.ExecuteUpsert(ctx, entity, entity.TableName(),
		[]string{"batch_id", "entity_key", "stage"},
		[]string{"status", "error_message", "started_at", "updated_at"},
	)
	if err != nil {
		return wrapDBError(conn, op, fmt.Sprintf("failed to record %s %s for %s", stage, status, entityKey), err)
	}
	return nil
}

func (r *SQLPipelineRepository) FindStageRecords(ctx context.Context, batchID string) ([]*model.StageRecord, error) {
	const op = "SQLPipelineRepository.FindStageRecords"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, err
	}
	var rows []StageRecordEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &rows, map[string]interface{}{"batch_id": batchID}, "updated_at ASC, id ASC", 0); err != nil {
		return nil, wrapDBError(conn, op, fmt.Sprintf("failed to list stage records of batch %s", batchID), err)
	}
	records := make([]*model.StageRecord, 0, len(rows))
	for i := range rows {
		records = append(records, toDomainStageRecord(&rows[i]))
	}
	return records, nil
}

func (r *SQLPipelineRepository) CountEntitiesAtStatus(ctx context.Context, batchID string, stage model.Stage, status model.StageStatus) (int, error) {
	const op = "SQLPipelineRepository.CountEntitiesAtStatus"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return 0, err
	}
	return r.countEntities(ctx, conn, op, batchID, model.StageList{stage}, status)
}

// countEntities counts the distinct entities having status on every stage in stages.
func (r *SQLPipelineRepository) countEntities(ctx context.Context, conn database.DBConnection, op, batchID string, stages model.StageList, status model.StageStatus) (int, error) {
	var rows []StageRecordEntity
	err := conn.ExecuteQuery(ctx, &rows, map[string]interface{}{
		"batch_id": batchID,
		"stage":    stageNames(stages),
		"status":   string(status),
	})
	if err != nil {
		return 0, wrapDBError(conn, op, fmt.Sprintf("failed to count %s entities of batch %s", status, batchID), err)
	}
	perEntity := make(map[string]int)
	for _, row := range rows {
		perEntity[row.EntityKey]++
	}
	count := 0
	for _, n := range perEntity {
		if n == len(stages) {
			count++
		}
	}
	return count, nil
}

// --- BatchRegistry ---

func (r *SQLPipelineRepository) findRunningBatch(ctx context.Context, conn database.DBConnection, runMode model.RunMode) (*BatchEntity, error) {
	var rows []BatchEntity
	err := conn.ExecuteQueryAdvanced(ctx, &rows, map[string]interface{}{
		"running_lock": string(runMode),
		"status":       string(model.BatchStatusRunning),
	}, "start_time ASC", 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *SQLPipelineRepository) GetOrCreateBatch(ctx context.Context, runMode model.RunMode, finalStage model.Stage) (*model.Batch, bool, error) {
	const op = "SQLPipelineRepository.GetOrCreateBatch"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, false, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, exception.NewFatalError(op, "failed to generate batch id", err)
	}
	lock := string(runMode)
	candidate := &BatchEntity{
		BatchID:     id.String(),
		RunMode:     string(runMode),
		Status:      string(model.BatchStatusRunning),
		FinalStage:  string(finalStage),
		StartTime:   r.now(),
		RunningLock: &lock,
	}

	// The unique running_lock makes the insert a no-op when a RUNNING batch of this mode exists.
	if _, err := conn.ExecuteUpsert(ctx, candidate, candidate.TableName(), []string{"running_lock"}, nil); err != nil {
		return nil, false, exception.NewFatalError(op, fmt.Sprintf("failed to create %s batch", runMode), err)
	}

	existing, err := r.findRunningBatch(ctx, conn, runMode)
	if err != nil {
		return nil, false, exception.NewFatalError(op, fmt.Sprintf("failed to read running %s batch", runMode), err)
	}
	if existing == nil {
		return nil, false, exception.NewFatalError(op, fmt.Sprintf("no running %s batch after creation", runMode), exception.ErrBatchNotFound)
	}

	resumed := existing.BatchID != candidate.BatchID
	if resumed {
		logger.Infof("Resuming %s batch %s started at %s.", runMode, existing.BatchID, existing.StartTime.Format(time.RFC3339))
	} else {
		logger.Infof("Created %s batch %s.", runMode, existing.BatchID)
	}
	return toDomainBatch(existing), resumed, nil
}

func (r *SQLPipelineRepository) UpdateTotalEntities(ctx context.Context, batchID string, total int) error {
	const op = "SQLPipelineRepository.UpdateTotalEntities"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return err
	}
	rows, err := conn.ExecuteUpdateColumns(ctx, BatchEntity{}.TableName(),
		map[string]interface{}{"batch_id": batchID},
		map[string]interface{}{"total_entities": total},
	)
	if err != nil {
		return wrapDBError(conn, op, fmt.Sprintf("failed to update total entities of batch %s", batchID), err)
	}
	if rows == 0 {
		return exception.NewBatchError(op, batchID, exception.ErrBatchNotFound)
	}
	return nil
}

func (r *SQLPipelineRepository) FinishBatch(ctx context.Context, batchID string, finalStage model.Stage, stages model.StageList, requireAllStages bool) (*model.Batch, error) {
	const op = "SQLPipelineRepository.FinishBatch"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, err
	}

	counted := model.StageList{finalStage}
	if requireAllStages && len(stages) > 0 {
		counted = stages
	}
	success, err := r.countEntities(ctx, conn, op, batchID, counted, model.StageStatusDone)
	if err != nil {
		return nil, err
	}

	rows, err := conn.ExecuteUpdateColumns(ctx, BatchEntity{}.TableName(),
		map[string]interface{}{"batch_id": batchID, "status": string(model.BatchStatusRunning)},
		map[string]interface{}{
			"status":           string(model.BatchStatusCompleted),
			"end_time":         r.now(),
			"success_entities": success,
			"final_stage":      string(finalStage),
			"running_lock":     nil,
		},
	)
	if err != nil {
		return nil, wrapDBError(conn, op, fmt.Sprintf("failed to complete batch %s", batchID), err)
	}
	if rows == 0 {
		return nil, exception.NewBatchError(op, fmt.Sprintf("batch %s is not running", batchID), exception.ErrBatchNotFound)
	}

	batch, err := r.findBatch(ctx, conn, batchID)
	if err != nil {
		return nil, wrapDBError(conn, op, fmt.Sprintf("failed to read batch %s", batchID), err)
	}
	return batch, nil
}

func (r *SQLPipelineRepository) findBatch(ctx context.Context, conn database.DBConnection, batchID string) (*model.Batch, error) {
	var rows []BatchEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &rows, map[string]interface{}{"batch_id": batchID}, "", 1); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, exception.ErrBatchNotFound
	}
	return toDomainBatch(&rows[0]), nil
}

func (r *SQLPipelineRepository) FindBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	const op = "SQLPipelineRepository.FindBatch"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, err
	}
	batch, err := r.findBatch(ctx, conn, batchID)
	if errors.Is(err, exception.ErrBatchNotFound) {
		return nil, exception.NewBatchError(op, batchID, err)
	}
	if err != nil {
		return nil, wrapDBError(conn, op, fmt.Sprintf("failed to read batch %s", batchID), err)
	}
	return batch, nil
}

func (r *SQLPipelineRepository) FindRunningBatch(ctx context.Context, runMode model.RunMode) (*model.Batch, error) {
	const op = "SQLPipelineRepository.FindRunningBatch"
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.getDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, err
	}
	entity, err := r.findRunningBatch(ctx, conn, runMode)
	if err != nil {
		return nil, wrapDBError(conn, op, fmt.Sprintf("failed to read running %s batch", runMode), err)
	}
	if entity == nil {
		return nil, exception.NewBatchError(op, string(runMode), exception.ErrBatchNotFound)
	}
	return toDomainBatch(entity), nil
}

// --- EntityCatalog ---

func (r *SQLPipelineRepository) ListEntities(ctx context.Context, filter model.EntityFilter) ([]model.Entity, error) {
	const op = "SQLPipelineRepository.ListEntities"

	conn, err := r.getDBConnection(ctx, r.catalogDBName)
	if err != nil {
		return nil, err
	}
	query := map[string]interface{}{"is_active": 1}
	if filter.Mall != "" {
		query["mall_name"] = filter.Mall
	}
	var rows []MallBrandEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &rows, query, "id ASC", 0); err != nil {
		return nil, exception.NewFatalError(op, "failed to enumerate entities", err)
	}

	entities := make([]model.Entity, 0, len(rows))
	for i := range rows {
		entity := toDomainEntity(&rows[i])
		if filter.Match(entity) {
			entities = append(entities, entity)
		}
	}
	return entities, nil
}

// Close is a no-op: connections are owned by the resolver's providers.
func (r *SQLPipelineRepository) Close() error {
	return nil
}
