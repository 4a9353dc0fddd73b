// Package logging provides a batch listener writing the run lifecycle to the console log.
package logging

import (
	"context"

	"github.com/tigerroll/feedpipe/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

const timeLayout = "2006-01-02 15:04:05"

// LoggingBatchListener logs batch creation or resumption and the summary of every run.
type LoggingBatchListener struct{}

var _ usecase.BatchListener = (*LoggingBatchListener)(nil)

func NewLoggingBatchListener() *LoggingBatchListener {
	return &LoggingBatchListener{}
}

func (l *LoggingBatchListener) BeforeBatch(ctx context.Context, batch *model.Batch, resumed bool) {
	if resumed {
		logger.Infof("Resuming batch %s (%s mode, started %s).", batch.ID, batch.RunMode, batch.StartTime.Format(timeLayout))
		return
	}
	logger.Infof("Created batch %s (%s mode).", batch.ID, batch.RunMode)
}

// AfterBatch logs the outcome line and one warning per entity that did not reach the final stage.
func (l *LoggingBatchListener) AfterBatch(ctx context.Context, s *usecase.Summary) {
	if s.Interrupted {
		logger.Warnf("Batch %s interrupted: %d of %d entities completed. Run again to resume.", s.BatchID, s.Succeeded, s.Total)
		return
	}
	logger.Infof("Batch %s completed (successful entities: %d/%d, final stage: %s).", s.BatchID, s.Succeeded, s.Total, s.FinalStage)
	for _, f := range s.Failures {
		if f.Message != "" {
			logger.Warnf("  %s stopped at %s (%s): %s", f.EntityKey, f.Stage, f.Status, f.Message)
		} else {
			logger.Warnf("  %s stopped at %s (%s)", f.EntityKey, f.Stage, f.Status)
		}
	}
	if s.ReportObject != "" {
		logger.Infof("Batch report written to %s.", s.ReportObject)
	}
}
