package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	config "github.com/tigerroll/feedpipe/pkg/batch/core/config"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// embeddedConfig embeds the content of the application's YAML configuration file.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	os.Exit(run(os.Args[1:]))
}

// run parses args, loads the configuration and executes the sub command.
// The returned value is the process exit code.
func run(args []string) int {
	cmd, err := parseCommand(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stderr, usageText)
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usageText)
		return exitUsage
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown (e.g., Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Warnf("Received signal '%v'. Interrupting running stages...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Get the path to the .env file from environment variables. Use ".env" as default if not set.
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	cfg, err := config.Load(envFilePath, embeddedConfig)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return exitFailure
	}
	return execute(ctx, cmd, cfg, os.Stdout)
}
