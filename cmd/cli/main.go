package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/gridflow/internal/cli"
)

// main is the entrypoint for the gridflow application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The real main function handles errors and exit codes.
	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		stop()
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitFailure)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW, errW io.Writer, args []string) (err error) {
	cmd, shouldExit, err := cli.Parse(args, outW, nil)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// Module registration panics on programmer errors; report them as a
	// clean failure instead of a stack trace.
	defer func() {
		if r := recover(); r != nil {
			err = &cli.ExitError{Code: cli.ExitFailure, Message: fmt.Sprintf("application startup panicked: %v", r)}
		}
	}()

	return cli.Execute(ctx, cmd, outW, errW)
}
