package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vk/gridflow/internal/app"
	"github.com/vk/gridflow/internal/monitor"
	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/registry"
)

// Execute runs a parsed command. Command output goes to out, logs to logW.
// Every failure is returned as an *ExitError carrying its exit code.
func Execute(ctx context.Context, cmd *Command, out, logW io.Writer, modules ...registry.Module) error {
	a, err := app.New(ctx, &app.Config{
		Settings: cmd.Settings,
		Out:      out,
		LogW:     logW,
		Modules:  modules,
	})
	if err != nil {
		code := ExitFailure
		if errors.Is(err, app.ErrInvalidDefinitions) {
			code = ExitValidation
		}
		return &ExitError{Code: code, Message: err.Error()}
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger().Warn("Failed to close persistence backend.", "error", err)
		}
	}()

	switch cmd.Name {
	case CommandList:
		renderPipelines(out, a.List())
		return nil
	case CommandRun:
		return runPipeline(ctx, a, cmd, out)
	case CommandMonitor:
		return runMonitor(ctx, a)
	case CommandRuns:
		ids, err := a.Runs(ctx)
		if err != nil {
			return &ExitError{Code: ExitFailure, Message: err.Error()}
		}
		renderRuns(out, ids)
		return nil
	default:
		return validationError("unknown command %q", cmd.Name)
	}
}

func runPipeline(ctx context.Context, a *app.App, cmd *Command, out io.Writer) error {
	rc, err := a.RunPipeline(ctx, cmd.Pipeline, cmd.Params, cmd.StopOnFailure)
	if errors.Is(err, registry.ErrNotFound) {
		return validationError("unknown pipeline %q", cmd.Pipeline)
	}
	if rc != nil {
		renderRun(out, rc)
	}
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: err.Error()}
	}
	if rc.Status() != pipeline.StatusSucceeded {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("pipeline %q failed: steps %v", cmd.Pipeline, rc.Failed())}
	}
	return nil
}

func runMonitor(ctx context.Context, a *app.App) error {
	err := a.Monitor(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, monitor.ErrFatal) {
		a.Logger().Error("💥 Monitor stopped on a fatal error.", "error", err)
	}
	return &ExitError{Code: ExitFailure, Message: err.Error()}
}
