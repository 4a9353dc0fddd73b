package sql

import "time"

// BatchEntity is the persisted form of model.Batch.
type BatchEntity struct {
	BatchID         string `gorm:"column:batch_id;primaryKey"`
	RunMode         string
	Status          string
	FinalStage      string
	TotalEntities   int
	SuccessEntities int
	StartTime       time.Time
	EndTime         *time.Time
	// RunningLock equals RunMode while the batch is RUNNING and is NULL afterwards.
	// Its unique index allows at most one RUNNING batch per run mode.
	RunningLock *string
}

func (BatchEntity) TableName() string {
	return "pipeline_batches"
}

// StageRecordEntity is the persisted form of model.StageRecord.
type StageRecordEntity struct {
	ID           uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID      string
	EntityKey    string
	Stage        string
	Status       string
	ErrorMessage string
	StartedAt    *time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (StageRecordEntity) TableName() string {
	return "pipeline_control"
}

// MallBrandEntity is a row of the entity catalog.
type MallBrandEntity struct {
	ID              uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	MallName        string
	MallBrandNameEn string
	MallBrandURL    *string `gorm:"column:mall_brand_url"`
	BuymaBrandName  *string
	IsActive        int
}

func (MallBrandEntity) TableName() string {
	return "mall_brands"
}
