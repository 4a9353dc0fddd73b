package sql

import (
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
)

func toDomainBatch(e *BatchEntity) *model.Batch {
	return &model.Batch{
		ID:              e.BatchID,
		RunMode:         model.RunMode(e.RunMode),
		Status:          model.BatchStatus(e.Status),
		FinalStage:      model.Stage(e.FinalStage),
		TotalEntities:   e.TotalEntities,
		SuccessEntities: e.SuccessEntities,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
	}
}

func toDomainStageRecord(e *StageRecordEntity) *model.StageRecord {
	return &model.StageRecord{
		BatchID:      e.BatchID,
		EntityKey:    e.EntityKey,
		Stage:        model.Stage(e.Stage),
		Status:       model.StageStatus(e.Status),
		ErrorMessage: e.ErrorMessage,
		StartedAt:    e.StartedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func toDomainEntity(e *MallBrandEntity) model.Entity {
	entity := model.Entity{Mall: e.MallName, SourceName: e.MallBrandNameEn}
	if e.BuymaBrandName != nil {
		entity.DestinationName = *e.BuymaBrandName
	}
	return entity
}

func stageNames(stages model.StageList) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return names
}
