package usecase

import (
	"context"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
)

// PipelineLauncher runs a batch across all target entities.
type PipelineLauncher interface {
	// Run creates or resumes the RUNNING batch of opts.RunMode and drives every entity
	// through the active stages. The returned error reports a fatal fault or an
	// interruption; stage failures are reported through the Summary.
	Run(ctx context.Context, opts RunOptions) (*Summary, error)
}

// BatchExplorer queries batch metadata for operators.
type BatchExplorer interface {
	// Status returns the batch and its stage records, least recently updated first.
	Status(ctx context.Context, batchID string) (*BatchStatus, error)

	// RunningBatch returns the RUNNING batch of runMode, or exception.ErrBatchNotFound.
	RunningBatch(ctx context.Context, runMode model.RunMode) (*model.Batch, error)
}

// RunOptions selects what a run operates on.
type RunOptions struct {
	RunMode model.RunMode
	// Mall keeps only entities of this mall when set.
	Mall string
	// Brand keeps only the entity with this source name when set.
	Brand string
	// Exclude drops entities by source name.
	Exclude []string
	// Until is the last stage to run. Empty runs every stage.
	Until string
}

// Failure is the stage an entity stopped at and why.
type Failure struct {
	EntityKey string
	Stage     model.Stage
	Status    model.StageStatus
	Message   string
}

// Summary is the outcome of a run.
type Summary struct {
	BatchID     string
	RunMode     model.RunMode
	Resumed     bool
	Total       int
	Succeeded   int
	Failed      int
	FinalStage  model.Stage
	Failures    []Failure
	Interrupted bool
	// ReportObject is the name of the exported report, empty when none was written.
	ReportObject string
}

// BatchStatus is the operator view of a batch.
type BatchStatus struct {
	Batch   *model.Batch
	Records []*model.StageRecord
	// Done counts, per stage, the entities whose record for that stage is DONE.
	Done map[model.Stage]int
	// SuccessPolicy is the policy the success count is computed with.
	SuccessPolicy string
}

// Entities groups the records by entity key, keeping the order in which keys first appear.
func (s *BatchStatus) Entities() ([]string, map[string][]*model.StageRecord) {
	var keys []string
	byKey := make(map[string][]*model.StageRecord)
	for _, r := range s.Records {
		if _, ok := byKey[r.EntityKey]; !ok {
			keys = append(keys, r.EntityKey)
		}
		byKey[r.EntityKey] = append(byKey[r.EntityKey], r)
	}
	return keys, byKey
}

// BatchListener observes the life of a batch run. Listeners run synchronously on the
// orchestrator goroutine and must not block.
type BatchListener interface {
	// BeforeBatch is called once the batch is created or resumed, before any entity starts.
	BeforeBatch(ctx context.Context, batch *model.Batch, resumed bool)
	// AfterBatch is called with the summary of a finished or interrupted run.
	AfterBatch(ctx context.Context, summary *Summary)
}
