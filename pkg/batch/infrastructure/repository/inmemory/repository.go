// Package inmemory provides an in-memory implementation of the PipelineRepository interface.
// It stores batches and stage records in maps, suitable for tests and dry runs where
// persistence across processes is not required.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/feedpipe/pkg/batch/core/domain/repository"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
)

// MaxErrorMessageLength is the number of runes of a diagnostic kept in a stage record.
const MaxErrorMessageLength = 500

type recordKey struct {
	batchID   string
	entityKey string
	stage     model.Stage
}

// InMemoryPipelineRepository is an in-memory implementation of repository.PipelineRepository.
type InMemoryPipelineRepository struct {
	batches map[string]*model.Batch
	// running maps a run mode to the id of its RUNNING batch.
	running  map[model.RunMode]string
	records  map[recordKey]*model.StageRecord
	entities []model.Entity
	mu       sync.Mutex

	now func() time.Time
}

var _ repository.PipelineRepository = (*InMemoryPipelineRepository)(nil)

// NewInMemoryPipelineRepository creates a repository whose catalog holds entities.
func NewInMemoryPipelineRepository(entities ...model.Entity) *InMemoryPipelineRepository {
	return &InMemoryPipelineRepository{
		batches:  make(map[string]*model.Batch),
		running:  make(map[model.RunMode]string),
		records:  make(map[recordKey]*model.StageRecord),
		entities: append([]model.Entity(nil), entities...),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *InMemoryPipelineRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *InMemoryPipelineRepository) GetStageStatus(ctx context.Context, batchID, entityKey string, stage model.Stage) (model.StageStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[recordKey{batchID, entityKey, stage}]; ok {
		return rec.Status, nil
	}
	return model.StageStatusPending, nil
}

func (r *InMemoryPipelineRepository) SetStageStatus(ctx context.Context, batchID, entityKey string, stage model.Stage, status model.StageStatus, errMsg string) error {
	const op = "InMemoryPipelineRepository.SetStageStatus"
	r.mu.Lock()
	defer r.mu.Unlock()

	key := recordKey{batchID, entityKey, stage}
	current, exists := r.records[key]
	previous := model.StageStatusPending
	if exists {
		previous = current.Status
	}
	if !previous.CanTransitionTo(status) {
		return exception.NewBatchError(op, fmt.Sprintf("%s of %s: %s -> %s", stage, entityKey, previous, status), exception.ErrIllegalTransition)
	}
	if previous == model.StageStatusDone && status == model.StageStatusDone {
		return nil
	}

	now := r.now()
	if !exists {
		current = &model.StageRecord{BatchID: batchID, EntityKey: entityKey, Stage: stage}
		r.records[key] = current
	}
	current.Status = status
	current.ErrorMessage = exception.Truncate(errMsg, MaxErrorMessageLength)
	current.UpdatedAt = now
	if status == model.StageStatusRunning && current.StartedAt == nil {
		started := now
		current.StartedAt = &started
	}
	return nil
}

func (r *InMemoryPipelineRepository) FindStageRecords(ctx context.Context, batchID string) ([]*model.StageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []*model.StageRecord
	for key, rec := range r.records {
		if key.batchID == batchID {
			copied := *rec
			records = append(records, &copied)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.Before(records[j].UpdatedAt)
		}
		if records[i].EntityKey != records[j].EntityKey {
			return records[i].EntityKey < records[j].EntityKey
		}
		return model.AllStages.Index(records[i].Stage) < model.AllStages.Index(records[j].Stage)
	})
	return records, nil
}

func (r *InMemoryPipelineRepository) CountEntitiesAtStatus(ctx context.Context, batchID string, stage model.Stage, status model.StageStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countEntities(batchID, model.StageList{stage}, status), nil
}

// countEntities counts the distinct entities having status on every stage in stages.
func (r *InMemoryPipelineRepository) countEntities(batchID string, stages model.StageList, status model.StageStatus) int {
	perEntity := make(map[string]int)
	for key, rec := range r.records {
		if key.batchID == batchID && stages.Contains(key.stage) && rec.Status == status {
			perEntity[key.entityKey]++
		}
	}
	count := 0
	for _, n := range perEntity {
		if n == len(stages) {
			count++
		}
	}
	return count
}

func (r *InMemoryPipelineRepository) GetOrCreateBatch(ctx context.Context, runMode model.RunMode, finalStage model.Stage) (*model.Batch, bool, error) {
	const op = "InMemoryPipelineRepository.GetOrCreateBatch"
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.running[runMode]; ok {
		copied := *r.batches[id]
		return &copied, true, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, exception.NewFatalError(op, "failed to generate batch id", err)
	}
	batch := &model.Batch{
		ID:         id.String(),
		RunMode:    runMode,
		Status:     model.BatchStatusRunning,
		FinalStage: finalStage,
		StartTime:  r.now(),
	}
	r.batches[batch.ID] = batch
	r.running[runMode] = batch.ID
	copied := *batch
	return &copied, false, nil
}

func (r *InMemoryPipelineRepository) UpdateTotalEntities(ctx context.Context, batchID string, total int) error {
	const op = "InMemoryPipelineRepository.UpdateTotalEntities"
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return exception.NewBatchError(op, batchID, exception.ErrBatchNotFound)
	}
	batch.TotalEntities = total
	return nil
}

func (r *InMemoryPipelineRepository) FinishBatch(ctx context.Context, batchID string, finalStage model.Stage, stages model.StageList, requireAllStages bool) (*model.Batch, error) {
	const op = "InMemoryPipelineRepository.FinishBatch"
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[batchID]
	if !ok || !batch.IsRunning() {
		return nil, exception.NewBatchError(op, fmt.Sprintf("batch %s is not running", batchID), exception.ErrBatchNotFound)
	}

	counted := model.StageList{finalStage}
	if requireAllStages && len(stages) > 0 {
		counted = stages
	}
	end := r.now()
	batch.SuccessEntities = r.countEntities(batchID, counted, model.StageStatusDone)
	batch.Status = model.BatchStatusCompleted
	batch.FinalStage = finalStage
	batch.EndTime = &end
	delete(r.running, batch.RunMode)

	copied := *batch
	return &copied, nil
}

func (r *InMemoryPipelineRepository) FindBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	const op = "InMemoryPipelineRepository.FindBatch"
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return nil, exception.NewBatchError(op, batchID, exception.ErrBatchNotFound)
	}
	copied := *batch
	return &copied, nil
}

func (r *InMemoryPipelineRepository) FindRunningBatch(ctx context.Context, runMode model.RunMode) (*model.Batch, error) {
	const op = "InMemoryPipelineRepository.FindRunningBatch"
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.running[runMode]
	if !ok {
		return nil, exception.NewBatchError(op, string(runMode), exception.ErrBatchNotFound)
	}
	copied := *r.batches[id]
	return &copied, nil
}

func (r *InMemoryPipelineRepository) ListEntities(ctx context.Context, filter model.EntityFilter) ([]model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entities := make([]model.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		if filter.Match(e) {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryPipelineRepository) Close() error {
	return nil
}
