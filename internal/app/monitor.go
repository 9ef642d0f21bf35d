package app

import (
	"context"
	"time"

	"github.com/vk/gridflow/internal/monitor"
)

// NewMonitor builds a monitor over the registered triggers using the
// monitor settings. opts are applied after the settings.
func (a *App) NewMonitor(opts ...monitor.Option) *monitor.Monitor {
	m := a.settings.Monitor
	base := []monitor.Option{
		monitor.WithInterval(time.Duration(m.Interval)),
		monitor.WithWorkers(m.Workers),
		monitor.WithMaxConcurrentRuns(m.MaxConcurrentRuns),
		monitor.WithShutdownTimeout(time.Duration(m.ShutdownTimeout)),
		monitor.WithDegradedThreshold(m.DegradedThreshold),
		monitor.WithWebhookAddr(m.WebhookAddr()),
	}
	return monitor.New(a.registry, a.engine, append(base, opts...)...)
}

// Monitor runs the trigger monitor until ctx is cancelled, then drains it.
func (a *App) Monitor(ctx context.Context, opts ...monitor.Option) error {
	ctx = a.context(ctx)
	if len(a.registry.Triggers()) == 0 {
		a.logger.Warn("No triggers defined, the monitor will stay idle.")
	}
	return a.NewMonitor(opts...).Run(ctx)
}
