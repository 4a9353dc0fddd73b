package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// waitDelay bounds how long Wait keeps relaying output after the process exits,
// e.g. when a grandchild still holds the pipe.
const waitDelay = 5 * time.Second

// Command is one external executable of a stage.
type Command struct {
	Name string
	// Args is the argv template; Args[0] is the executable.
	Args []string
}

type stageCommands struct {
	commands []Command
	timeout  time.Duration
}

// CommandWorker is a StageWorker running the configured commands of a stage in order.
type CommandWorker struct {
	stages  map[model.Stage]stageCommands
	workDir string
}

var _ StageWorker = (*CommandWorker)(nil)

// NewCommandWorker builds a worker from the stage settings of cfg.
func NewCommandWorker(cfg config.PipelineConfig) (*CommandWorker, error) {
	w := &CommandWorker{
		stages:  make(map[model.Stage]stageCommands),
		workDir: cfg.WorkDir,
	}
	for name, sc := range cfg.Stages {
		stage := model.Stage(strings.ToUpper(name))
		if !model.AllStages.Contains(stage) {
			return nil, fmt.Errorf("pipeline.stages.%s: unknown stage (valid: %s)", name, model.AllStages.String())
		}
		commands := make([]Command, 0, len(sc.Commands))
		for i, c := range sc.Commands {
			if len(c.Args) == 0 {
				return nil, fmt.Errorf("pipeline.stages.%s.commands[%d] has no args", name, i)
			}
			cmdName := c.Name
			if cmdName == "" {
				cmdName = c.Args[0]
			}
			commands = append(commands, Command{Name: cmdName, Args: append([]string(nil), c.Args...)})
		}
		w.stages[stage] = stageCommands{
			commands: commands,
			timeout:  time.Duration(sc.TimeoutSeconds) * time.Second,
		}
	}
	for _, stage := range model.AllStages {
		if sc, ok := w.stages[stage]; !ok || len(sc.commands) == 0 {
			logger.Warnf("No worker command configured for stage %s.", stage)
		}
	}
	return w, nil
}

// Invoke runs the commands of stage for target. The first failing command aborts the rest.
func (w *CommandWorker) Invoke(ctx context.Context, stage model.Stage, target Target) Outcome {
	sc, ok := w.stages[stage]
	if !ok || len(sc.commands) == 0 {
		return Failed(fmt.Sprintf("no worker configured for stage %s", stage))
	}
	for _, c := range sc.commands {
		if outcome := w.run(ctx, stage, c, sc.timeout, target); !outcome.Success {
			return outcome
		}
	}
	return Succeeded()
}

func (w *CommandWorker) run(ctx context.Context, stage model.Stage, c Command, timeout time.Duration, target Target) Outcome {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	argv := RenderArgs(c.Args, stage, target)
	console := logger.NewConsoleWriter("[" + target.EntityKey + "] ")
	defer console.Flush()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = w.workDir
	cmd.Env = append(os.Environ(),
		"FEEDPIPE_STAGE="+stage.String(),
		"FEEDPIPE_TARGET="+target.Name,
		"FEEDPIPE_MALL="+target.Mall,
		"FEEDPIPE_ENTITY="+target.EntityKey,
	)
	// One writer for both streams keeps stdout and stderr lines in arrival order.
	cmd.Stdout = console
	cmd.Stderr = console
	cmd.WaitDelay = waitDelay

	logger.Infof("[EXEC] %s", strings.Join(argv, " "))
	err := cmd.Run()
	if err == nil {
		logger.Infof("[SUCCESS] %s (%s)", c.Name, target.EntityKey)
		return Succeeded()
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && timeout > 0:
		return Failed(fmt.Sprintf("worker failed: %s (timed out after %s)", c.Name, timeout))
	case errors.As(err, &exitErr):
		logger.Debugf("Command %s exited with code %d.", c.Name, exitErr.ExitCode())
		return Failed("worker failed: " + c.Name)
	default:
		return Failed(err.Error())
	}
}

// RenderArgs substitutes {target}, {mall}, {entity} and {stage} in args.
func RenderArgs(args []string, stage model.Stage, target Target) []string {
	r := strings.NewReplacer(
		"{target}", target.Name,
		"{mall}", target.Mall,
		"{entity}", target.EntityKey,
		"{stage}", stage.String(),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
