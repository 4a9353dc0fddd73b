// Package report exports the stage records of a finished batch as a Parquet file.
package report

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/feedpipe/pkg/batch/adapter/storage"
	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// ContentType is the MIME type of exported reports.
const ContentType = "application/vnd.apache.parquet"

// Row is one stage record of the report.
type Row struct {
	BatchID      string `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RunMode      string `parquet:"name=run_mode, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntityKey    string `parquet:"name=entity_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Stage        string `parquet:"name=stage, type=BYTE_ARRAY, convertedtype=UTF8"`
	StageIndex   int32  `parquet:"name=stage_index, type=INT32"`
	Status       string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	ErrorMessage string `parquet:"name=error_message, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartedAt    *int64 `parquet:"name=started_at, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	UpdatedAt    int64  `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// Exporter writes the report of a finished batch.
type Exporter interface {
	// Export writes records of batch and returns the object name written, or "" when disabled.
	Export(ctx context.Context, batch *model.Batch, records []*model.StageRecord) (string, error)
}

// NoOpExporter is used when reports are disabled.
type NoOpExporter struct{}

func (NoOpExporter) Export(ctx context.Context, batch *model.Batch, records []*model.StageRecord) (string, error) {
	return "", nil
}

// ParquetExporter uploads the report as a Parquet file through a storage connection.
type ParquetExporter struct {
	resolver storage.StorageConnectionResolver
	cfg      config.ReportConfig
}

var _ Exporter = (*ParquetExporter)(nil)

// NewParquetExporter creates an exporter writing through the storage connection cfg.StorageRef.
func NewParquetExporter(resolver storage.StorageConnectionResolver, cfg config.ReportConfig) *ParquetExporter {
	return &ParquetExporter{resolver: resolver, cfg: cfg}
}

// ObjectName returns where the report of batch is written:
// <prefix>/run_mode=<mode>/<batch id>.parquet.
func ObjectName(prefix string, batch *model.Batch) string {
	return path.Join(prefix, "run_mode="+batch.RunMode.String(), batch.ID+".parquet")
}

// ToRows converts stage records into report rows.
func ToRows(batch *model.Batch, records []*model.StageRecord) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		row := Row{
			BatchID:      r.BatchID,
			RunMode:      batch.RunMode.String(),
			EntityKey:    r.EntityKey,
			Stage:        r.Stage.String(),
			StageIndex:   int32(model.AllStages.Index(r.Stage)),
			Status:       r.Status.String(),
			ErrorMessage: r.ErrorMessage,
			UpdatedAt:    r.UpdatedAt.UnixMilli(),
		}
		if r.StartedAt != nil {
			started := r.StartedAt.UnixMilli()
			row.StartedAt = &started
		}
		rows = append(rows, row)
	}
	return rows
}

func (e *ParquetExporter) Export(ctx context.Context, batch *model.Batch, records []*model.StageRecord) (string, error) {
	const op = "ParquetExporter.Export"

	codec, err := compressionCodec(e.cfg.Compression)
	if err != nil {
		return "", exception.NewBatchError(op, "invalid report compression", err)
	}
	rows := ToRows(batch, records)
	buf := new(bytes.Buffer)
	if err := encode(buf, rows, codec); err != nil {
		return "", exception.NewBatchError(op, fmt.Sprintf("failed to encode report of batch %s", batch.ID), err)
	}

	conn, err := e.resolver.ResolveStorageConnection(ctx, e.cfg.StorageRef)
	if err != nil {
		return "", exception.NewBatchError(op, fmt.Sprintf("failed to resolve storage '%s'", e.cfg.StorageRef), err)
	}
	objectName := ObjectName(e.cfg.Prefix, batch)
	size := buf.Len()
	if err := conn.Upload(ctx, e.cfg.Bucket, objectName, buf, ContentType); err != nil {
		return "", exception.NewBatchError(op, fmt.Sprintf("failed to upload report to '%s'", objectName), err)
	}
	logger.Infof("Report of batch %s written to %s (%d rows, %d bytes).", batch.ID, objectName, len(rows), size)

	if e.cfg.Retain > 0 {
		if err := e.prune(ctx, conn, batch.RunMode); err != nil {
			logger.Warnf("Failed to prune old %s reports: %v", batch.RunMode, err)
		}
	}
	return objectName, nil
}

// prune deletes all but the newest cfg.Retain reports of runMode. Batch ids are
// UUIDv7, so name order is creation order.
func (e *ParquetExporter) prune(ctx context.Context, conn storage.StorageConnection, runMode model.RunMode) error {
	dir := path.Join(e.cfg.Prefix, "run_mode="+runMode.String()) + "/"
	var names []string
	err := conn.ListObjects(ctx, e.cfg.Bucket, dir, func(objectName string) error {
		if strings.HasSuffix(objectName, ".parquet") && !strings.Contains(strings.TrimPrefix(objectName, dir), "/") {
			names = append(names, objectName)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(names) <= e.cfg.Retain {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-e.cfg.Retain] {
		if err := conn.DeleteObject(ctx, e.cfg.Bucket, name); err != nil {
			return err
		}
		logger.Infof("Deleted old report %s.", name)
	}
	return nil
}

// encode writes rows as a single row group; a panic of the library becomes an error.
func encode(buf *bytes.Buffer, rows []Row, codec parquet.CompressionCodec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()

	pw, err := writer.NewParquetWriterFromWriter(buf, new(Row), 1)
	if err != nil {
		return err
	}
	pw.CompressionType = codec
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return err
		}
	}
	return pw.WriteStop()
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "ZSTD":
		return parquet.CompressionCodec_ZSTD, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}
