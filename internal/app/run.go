package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/gridflow/internal/engine"
	"github.com/vk/gridflow/internal/eventlog"
	"github.com/vk/gridflow/internal/persistence"
	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/trigger"
)

// PipelineInfo summarises one registered pipeline.
type PipelineInfo struct {
	Name          string
	Steps         []string
	Triggers      []string
	StopOnFailure bool
}

// List describes every registered pipeline, sorted by name.
func (a *App) List() []PipelineInfo {
	names := a.registry.Pipelines()
	infos := make([]PipelineInfo, 0, len(names))
	for _, name := range names {
		g, err := a.registry.Pipeline(name)
		if err != nil {
			continue
		}
		info := PipelineInfo{
			Name:          name,
			Steps:         g.Order(),
			StopOnFailure: g.StopOnFailure(),
		}
		for _, t := range a.registry.TriggersFor(name) {
			info.Triggers = append(info.Triggers, fmt.Sprintf("%s.%s", trigger.Kind(t), t.ID()))
		}
		infos = append(infos, info)
	}
	return infos
}

// RunPipeline executes one run of the named pipeline. An unknown name wraps
// registry.ErrNotFound. Step failures are reported through the returned
// RunContext; the error is reserved for runs that could not start or were
// cancelled.
func (a *App) RunPipeline(ctx context.Context, name string, params map[string]any, stopOnFailure bool) (*pipeline.RunContext, error) {
	ctx = a.context(ctx)
	g, err := a.registry.Pipeline(name)
	if err != nil {
		return nil, err
	}

	e := a.engine
	if stopOnFailure {
		e = engine.New(a.backend,
			engine.WithObserver(eventlog.New(a.logger)),
			engine.WithStopOnFailure(true),
		)
	}
	a.logger.Debug("Executing pipeline.", "pipeline", name, "params", len(params), "stop_on_failure", stopOnFailure)
	return e.Run(ctx, g, params)
}

// Runs returns the ids of the runs kept by the persistence backend, sorted.
func (a *App) Runs(ctx context.Context) ([]string, error) {
	lister, ok := a.backend.(persistence.Lister)
	if !ok {
		return nil, fmt.Errorf("%s backend cannot list runs", a.settings.Persistence.Backend)
	}
	ids, err := lister.Runs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
