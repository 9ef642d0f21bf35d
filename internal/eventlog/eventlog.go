// Package eventlog renders engine events as structured log records.
package eventlog

import (
	"context"
	"log/slog"

	"github.com/vk/gridflow/internal/engine"
	"github.com/vk/gridflow/internal/pipeline"
)

// Observer logs engine events through slog.
type Observer struct {
	logger *slog.Logger
}

// New returns an observer that writes to logger, or slog.Default() when nil.
func New(logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{logger: logger}
}

// OnEvent implements engine.Observer.
func (o *Observer) OnEvent(ctx context.Context, ev engine.Event) {
	attrs := []slog.Attr{
		slog.String("event", string(ev.Type)),
		slog.String("run_id", ev.RunID),
		slog.String("pipeline", ev.Pipeline),
		slog.String("status", string(ev.Status)),
	}
	if ev.Step != "" {
		attrs = append(attrs, slog.String("step", ev.Step))
	}
	if ev.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", ev.Duration))
	}
	if ev.SkipReason != "" {
		attrs = append(attrs, slog.String("reason", string(ev.SkipReason)))
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	}

	level, msg := describe(ev)
	o.logger.LogAttrs(ctx, level, msg, attrs...)
}

func describe(ev engine.Event) (slog.Level, string) {
	switch ev.Type {
	case engine.RunStarted:
		return slog.LevelInfo, "🚀 Run started."
	case engine.RunEnded:
		if ev.Status == pipeline.StatusFailed || ev.Err != nil {
			return slog.LevelWarn, "🏁 Run finished with failures."
		}
		return slog.LevelInfo, "🏁 Run finished."
	case engine.StepStarted:
		return slog.LevelInfo, "▶️ Starting step."
	case engine.StepEnded:
		return slog.LevelInfo, "✅ Finished step."
	case engine.StepFailed:
		return slog.LevelError, "❌ Step failed."
	case engine.StepSkipped:
		return slog.LevelInfo, "⏭️ Skipped step."
	default:
		return slog.LevelDebug, "Engine event."
	}
}
