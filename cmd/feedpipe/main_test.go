package main

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	usecase "github.com/tigerroll/feedpipe/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
)

func shStage(target, script string) config.StageConfig {
	return config.StageConfig{
		Target:   target,
		Commands: []config.CommandConfig{{Name: "step", Args: []string{"/bin/sh", "-c", script}}},
	}
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Feedpipe.Pipeline.Stages = map[string]config.StageConfig{
		"collect":  shStage("source", "echo collecting {target}"),
		"convert":  shStage("source", "echo converting {target}"),
		"image":    shStage("destination", "echo images {target}"),
		"price":    shStage("destination", "echo prices {target}"),
		"register": shStage("destination", "echo registering {target}"),
	}
	return cfg
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand([]string{"-mode", "partial", "-exclude", "A.P.C,NIKE", "-exclude", "ADIDAS", "-until", "PRICE"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "run", cmd.name)
	assert.Equal(t, model.RunModePartial, cmd.run.RunMode)
	assert.Equal(t, []string{"A.P.C", "NIKE", "ADIDAS"}, cmd.run.Exclude)
	assert.Equal(t, "PRICE", cmd.run.Until)

	cmd, err = parseCommand([]string{"status", "-batch", "b-1"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "status", cmd.name)
	assert.Equal(t, "b-1", cmd.batchID)

	cmd, err = parseCommand([]string{"migrate", "-down"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, cmd.down)

	_, err = parseCommand([]string{"publish"}, io.Discard)
	assert.ErrorContains(t, err, "unknown command")

	_, err = parseCommand([]string{"run", "-mode", "HALF"}, io.Discard)
	assert.Error(t, err)

	_, err = parseCommand([]string{"run", "extra"}, io.Discard)
	assert.ErrorContains(t, err, "unexpected arguments")
}

func TestApplyDefaults(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Feedpipe.Pipeline.RunMode = "partial"
	cfg.Feedpipe.Pipeline.Until = "IMAGE"

	cmd := &command{name: "run"}
	require.NoError(t, applyDefaults(cmd, cfg))
	assert.Equal(t, model.RunModePartial, cmd.run.RunMode)
	assert.Equal(t, "IMAGE", cmd.run.Until)

	cmd = &command{name: "run", run: usecase.RunOptions{RunMode: model.RunModeFull, Until: "PRICE"}}
	require.NoError(t, applyDefaults(cmd, cfg))
	assert.Equal(t, model.RunModeFull, cmd.run.RunMode)
	assert.Equal(t, "PRICE", cmd.run.Until)
}

func TestPrintStatus(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	status := &usecase.BatchStatus{
		Batch: &model.Batch{ID: "b-1", RunMode: model.RunModeFull, Status: model.BatchStatusRunning, FinalStage: model.StageRegister, TotalEntities: 2, StartTime: start},
		Records: []*model.StageRecord{
			{EntityKey: "okmall/Nike", Stage: model.StageCollect, Status: model.StageStatusDone},
			{EntityKey: "okmall/AMI", Stage: model.StageCollect, Status: model.StageStatusDone},
			{EntityKey: "okmall/AMI", Stage: model.StageConvert, Status: model.StageStatusError, ErrorMessage: "worker failed: converter"},
			{EntityKey: "okmall/Nike", Stage: model.StageConvert, Status: model.StageStatusRunning},
		},
		Done:          map[model.Stage]int{model.StageCollect: 2},
		SuccessPolicy: "final_stage",
	}

	var out bytes.Buffer
	require.NoError(t, printStatus(&out, status))

	text := out.String()
	assert.Contains(t, text, "Batch:       b-1 (FULL, RUNNING)")
	assert.Contains(t, text, "Started:     2024-03-01 09:00:00")
	assert.Contains(t, text, "Policy:      final_stage")
	assert.Contains(t, text, "Done:        COLLECT 2, CONVERT 0, IMAGE 0, PRICE 0, REGISTER 0")
	assert.Regexp(t, `okmall/Nike\s+DONE\s+RUNNING\s+PENDING\s+PENDING\s+PENDING`, text)
	assert.Regexp(t, `okmall/AMI\s+DONE\s+ERROR\s+PENDING`, text)
	assert.Contains(t, text, "okmall/AMI CONVERT: worker failed: converter")
}

func TestExecute_InMemoryRun(t *testing.T) {
	cfg := testConfig()
	cfg.Feedpipe.Pipeline.Entities = []config.EntityConfig{
		{Mall: "okmall", Source: "Nike", Destination: "NIKE"},
		{Mall: "okmall", Source: "AMI"},
	}
	require.True(t, cfg.UsesInMemoryStateStore())

	code := execute(context.Background(), &command{name: "run"}, cfg, io.Discard)
	assert.Equal(t, exitOK, code)

	var out bytes.Buffer
	code = execute(context.Background(), &command{name: "status"}, cfg, &out)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "No RUNNING FULL batch.\n", out.String())

	assert.Equal(t, exitFailure, execute(context.Background(), &command{name: "migrate"}, cfg, io.Discard))
}

func TestExecute_InterruptedRun(t *testing.T) {
	cfg := testConfig()
	cfg.Feedpipe.Pipeline.Entities = []config.EntityConfig{{Mall: "okmall", Source: "Nike"}}
	cfg.Feedpipe.Pipeline.Stages["collect"] = shStage("source", "exec sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.Equal(t, exitInterrupted, execute(ctx, &command{name: "run"}, cfg, io.Discard))
}

func TestExecute_SQLiteRunAndStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "feedpipe.db")
	cfg := testConfig()
	cfg.Feedpipe.AdaptorConfigs["metadata"] = map[string]interface{}{"type": "sqlite", "database": dbPath}
	t.Setenv("DB_ADAPTORS", "sqlite")

	require.Equal(t, exitOK, execute(context.Background(), &command{name: "migrate"}, cfg, io.Discard))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`INSERT INTO mall_brands (mall_name, mall_brand_name_en, buyma_brand_name, is_active) VALUES
		('okmall', 'Nike', 'NIKE', 1), ('okmall', 'AMI', NULL, 1), ('okmall', 'Old', NULL, 0)`)
	require.NoError(t, err)

	cfg.Feedpipe.Pipeline.Stages["price"] = shStage("destination", `test "{target}" != "AMI"`)
	require.Equal(t, exitOK, execute(context.Background(), &command{name: "run"}, cfg, io.Discard))

	var batchID string
	var total, success int
	var status string
	row := db.QueryRow("SELECT batch_id, status, total_entities, success_entities FROM pipeline_batches")
	require.NoError(t, row.Scan(&batchID, &status, &total, &success))
	assert.Equal(t, "COMPLETED", status)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, success)

	var out bytes.Buffer
	require.Equal(t, exitOK, execute(context.Background(), &command{name: "status", batchID: batchID}, cfg, &out))
	text := out.String()
	assert.Contains(t, text, "Succeeded:   1/2 (final stage REGISTER)")
	assert.Contains(t, text, "Done:        COLLECT 2, CONVERT 2, IMAGE 2, PRICE 1, REGISTER 1")
	assert.Regexp(t, `okmall/Nike\s+DONE\s+DONE\s+DONE\s+DONE\s+DONE`, text)
	assert.Regexp(t, `okmall/AMI\s+DONE\s+DONE\s+DONE\s+ERROR\s+PENDING`, text)
	assert.Contains(t, text, "okmall/AMI PRICE: worker failed: step")
}
