package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database"
	usecase "github.com/tigerroll/feedpipe/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const usageText = `Usage:
  feedpipe [run] [-mode FULL|PARTIAL] [-mall NAME] [-brand NAME] [-exclude A,B] [-until STAGE]
  feedpipe status [-batch ID] [-mode FULL|PARTIAL]
  feedpipe migrate [-down]
`

// stringList is a flag.Value collecting repeated or comma separated values.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

type command struct {
	name    string
	run     usecase.RunOptions
	batchID string
	down    bool
}

// parseCommand parses the sub command and its flags. Without a sub command "run" is assumed.
func parseCommand(args []string, output io.Writer) (*command, error) {
	name := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("feedpipe "+name, flag.ContinueOnError)
	fs.SetOutput(output)
	cmd := &command{name: name}
	var mode string
	switch name {
	case "run":
		fs.StringVar(&mode, "mode", "", "run mode FULL or PARTIAL (default pipeline.run_mode)")
		fs.StringVar(&cmd.run.Mall, "mall", "", "only entities of this mall")
		fs.StringVar(&cmd.run.Brand, "brand", "", "only the entity with this source name")
		fs.Var((*stringList)(&cmd.run.Exclude), "exclude", "source names to skip, comma separated or repeated")
		fs.StringVar(&cmd.run.Until, "until", "", "last stage to run (default pipeline.until)")
	case "status":
		fs.StringVar(&cmd.batchID, "batch", "", "batch id; empty shows the RUNNING batch of -mode")
		fs.StringVar(&mode, "mode", "", "run mode of the RUNNING batch shown without -batch")
	case "migrate":
		fs.BoolVar(&cmd.down, "down", false, "roll every migration back")
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if mode != "" {
		runMode, err := model.ParseRunMode(mode)
		if err != nil {
			return nil, err
		}
		cmd.run.RunMode = runMode
	}
	return cmd, nil
}

// applyDefaults fills options left empty on the command line from the pipeline settings.
func applyDefaults(cmd *command, cfg *config.Config) error {
	if cmd.run.RunMode == "" {
		runMode, err := model.ParseRunMode(cfg.Feedpipe.Pipeline.RunMode)
		if err != nil {
			return fmt.Errorf("pipeline.run_mode: %w", err)
		}
		cmd.run.RunMode = runMode
	}
	if cmd.name == "run" && cmd.run.Until == "" {
		cmd.run.Until = cfg.Feedpipe.Pipeline.Until
	}
	return nil
}

// execute builds the application, runs cmd and stops the application again.
func execute(ctx context.Context, cmd *command, cfg *config.Config, stdout io.Writer) int {
	if err := applyDefaults(cmd, cfg); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		return exitFailure
	}

	var (
		launcher usecase.PipelineLauncher
		explorer usecase.BatchExplorer
		resolver database.DBConnectionResolver
	)
	options := GetApplicationOptions(cfg)
	switch cmd.name {
	case "run":
		options = append(options, fx.Populate(&launcher))
	case "status":
		options = append(options, fx.Populate(&explorer))
	case "migrate":
		if cfg.UsesInMemoryStateStore() {
			logger.Errorf("State store '%s' has no database configuration; nothing to migrate.", cfg.Feedpipe.Infrastructure.StateStoreDBRef)
			return exitFailure
		}
		options = append(options, fx.Populate(&resolver))
	}

	app := fx.New(options...)
	if err := app.Err(); err != nil {
		logger.Errorf("Failed to initialise application: %v", err)
		return exitFailure
	}
	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		logger.Errorf("Failed to start application: %v", err)
		return exitFailure
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			logger.Errorf("Failed to stop application: %v", err)
		}
		logger.Infof("Application is shutting down.")
	}()

	switch cmd.name {
	case "run":
		return runPipeline(ctx, launcher, cmd.run)
	case "status":
		return showStatus(ctx, explorer, cmd, stdout)
	default:
		return runMigration(ctx, resolver, cfg, cmd.down)
	}
}

func runPipeline(ctx context.Context, launcher usecase.PipelineLauncher, opts usecase.RunOptions) int {
	if _, err := launcher.Run(ctx, opts); err != nil {
		if errors.Is(err, exception.ErrInterrupted) {
			logger.Warnf("Run interrupted; the batch stays RUNNING and resumes on the next %s run.", opts.RunMode)
			return exitInterrupted
		}
		logger.Errorf("Pipeline run failed: %v", err)
		return exitFailure
	}
	return exitOK
}

func showStatus(ctx context.Context, explorer usecase.BatchExplorer, cmd *command, stdout io.Writer) int {
	batchID := cmd.batchID
	if batchID == "" {
		batch, err := explorer.RunningBatch(ctx, cmd.run.RunMode)
		if err != nil {
			if errors.Is(err, exception.ErrBatchNotFound) {
				fmt.Fprintf(stdout, "No RUNNING %s batch.\n", cmd.run.RunMode)
				return exitOK
			}
			logger.Errorf("Failed to look up the RUNNING batch: %v", err)
			return exitFailure
		}
		batchID = batch.ID
	}

	status, err := explorer.Status(ctx, batchID)
	if err != nil {
		logger.Errorf("Failed to load batch status: %v", err)
		return exitFailure
	}
	if err := printStatus(stdout, status); err != nil {
		logger.Errorf("Failed to print batch status: %v", err)
		return exitFailure
	}
	return exitOK
}

// printStatus writes the batch header and one row per entity with the status of each stage.
func printStatus(w io.Writer, status *usecase.BatchStatus) error {
	b := status.Batch
	fmt.Fprintf(w, "Batch:       %s (%s, %s)\n", b.ID, b.RunMode, b.Status)
	fmt.Fprintf(w, "Started:     %s\n", b.StartTime.Format(time.DateTime))
	if b.EndTime != nil {
		fmt.Fprintf(w, "Finished:    %s\n", b.EndTime.Format(time.DateTime))
		fmt.Fprintf(w, "Succeeded:   %d/%d (final stage %s)\n", b.SuccessEntities, b.TotalEntities, b.FinalStage)
	} else {
		fmt.Fprintf(w, "Entities:    %d (final stage %s)\n", b.TotalEntities, b.FinalStage)
	}
	if status.SuccessPolicy != "" {
		fmt.Fprintf(w, "Policy:      %s\n", status.SuccessPolicy)
	}
	if status.Done != nil {
		counts := make([]string, 0, len(model.AllStages))
		for _, s := range model.AllStages {
			counts = append(counts, fmt.Sprintf("%s %d", s, status.Done[s]))
		}
		fmt.Fprintf(w, "Done:        %s\n", strings.Join(counts, ", "))
	}
	fmt.Fprintln(w)

	keys, byKey := status.Entities()
	if len(keys) == 0 {
		fmt.Fprintln(w, "No stage records.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"ENTITY"}
	for _, s := range model.AllStages {
		header = append(header, s.String())
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	var problems []*model.StageRecord
	for _, key := range keys {
		statuses := make(map[model.Stage]model.StageStatus)
		for _, r := range byKey[key] {
			statuses[r.Stage] = r.Status
			if r.Status == model.StageStatusError {
				problems = append(problems, r)
			}
		}
		row := []string{key}
		for _, s := range model.AllStages {
			st, ok := statuses[s]
			if !ok {
				st = model.StageStatusPending
			}
			row = append(row, st.String())
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(problems) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, r := range problems {
			fmt.Fprintf(w, "  %s %s: %s\n", r.EntityKey, r.Stage, r.ErrorMessage)
		}
	}
	return nil
}

func runMigration(ctx context.Context, resolver database.DBConnectionResolver, cfg *config.Config, down bool) int {
	ref := cfg.Feedpipe.Infrastructure.StateStoreDBRef
	conn, err := resolver.ResolveDBConnection(ctx, ref)
	if err != nil {
		logger.Errorf("Failed to resolve state store connection '%s': %v", ref, err)
		return exitFailure
	}

	m := migration.NewMigrator(conn)
	if down {
		err = m.Down(ctx)
	} else {
		err = m.Up(ctx)
	}
	if err != nil {
		logger.Errorf("Migration failed: %v", err)
		return exitFailure
	}
	if version, dirty, err := m.Version(); err == nil {
		logger.Infof("Schema version of '%s': %d (dirty: %t)", ref, version, dirty)
	}
	return exitOK
}
