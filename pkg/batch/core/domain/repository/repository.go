package repository

import (
	"context"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
)

// StageStateStore persists the status of every (batch, entity, stage) triple.
// Implementations must be safe for concurrent use by many entity pipelines.
type StageStateStore interface {
	// GetStageStatus returns the recorded status, or StageStatusPending when no record exists.
	GetStageStatus(ctx context.Context, batchID, entityKey string, stage model.Stage) (model.StageStatus, error)

	// SetStageStatus upserts the record, refreshing its update time. The start time is
	// recorded on the first transition to RUNNING only. A transition out of DONE other
	// than DONE itself fails with exception.ErrIllegalTransition.
	SetStageStatus(ctx context.Context, batchID, entityKey string, stage model.Stage, status model.StageStatus, errMsg string) error

	// FindStageRecords returns all records of a batch, least recently updated first.
	FindStageRecords(ctx context.Context, batchID string) ([]*model.StageRecord, error)

	// CountEntitiesAtStatus counts distinct entities whose record for stage has status.
	CountEntitiesAtStatus(ctx context.Context, batchID string, stage model.Stage, status model.StageStatus) (int, error)
}

// BatchRegistry creates, resumes and finalises batches.
type BatchRegistry interface {
	// GetOrCreateBatch returns the RUNNING batch of runMode, creating one atomically when
	// none exists. resumed reports whether an existing batch was returned.
	GetOrCreateBatch(ctx context.Context, runMode model.RunMode, finalStage model.Stage) (batch *model.Batch, resumed bool, err error)

	// UpdateTotalEntities records the number of entities enumerated for the batch.
	UpdateTotalEntities(ctx context.Context, batchID string, total int) error

	// FinishBatch computes the success count, marks the batch COMPLETED and releases its run-mode lock.
	// stages are the active stages; with requireAllStages false only finalStage is inspected.
	FinishBatch(ctx context.Context, batchID string, finalStage model.Stage, stages model.StageList, requireAllStages bool) (*model.Batch, error)

	// FindBatch returns the batch by id, or exception.ErrBatchNotFound.
	FindBatch(ctx context.Context, batchID string) (*model.Batch, error)

	// FindRunningBatch returns the RUNNING batch of runMode, or exception.ErrBatchNotFound.
	FindRunningBatch(ctx context.Context, runMode model.RunMode) (*model.Batch, error)
}

// EntityCatalog enumerates the entities a batch operates on.
type EntityCatalog interface {
	// ListEntities returns the active entities passing filter, in a stable order.
	ListEntities(ctx context.Context, filter model.EntityFilter) ([]model.Entity, error)
}

// PipelineRepository groups the persistence ports used by the orchestrator.
type PipelineRepository interface {
	StageStateStore
	BatchRegistry
	EntityCatalog

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
