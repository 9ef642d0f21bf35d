package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/trigger"
)

// ErrNotFound is returned for unknown pipeline, trigger or handler names.
var ErrNotFound = errors.New("not found")

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the handlers, pipelines and triggers of a single
// application instance. It is populated during startup and read-only
// afterwards.
type Registry struct {
	handlers  map[string]*Handler
	pipelines map[string]*pipeline.Graph
	triggers  []trigger.Trigger
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		handlers:  make(map[string]*Handler),
		pipelines: make(map[string]*pipeline.Graph),
	}
}

// RegisterModules registers every module in order.
func (r *Registry) RegisterModules(modules ...Module) {
	for _, m := range modules {
		m.Register(r)
	}
}

// RegisterPipeline adds a finalized pipeline. Names must be unique.
func (r *Registry) RegisterPipeline(g *pipeline.Graph) error {
	if g == nil {
		return errors.New("pipeline is nil")
	}
	if !g.Finalized() {
		return fmt.Errorf("pipeline %q is not finalized", g.Name())
	}
	if _, exists := r.pipelines[g.Name()]; exists {
		return fmt.Errorf("pipeline %q already registered", g.Name())
	}
	slog.Debug("Registering pipeline.", "pipeline", g.Name(), "steps", g.Len())
	r.pipelines[g.Name()] = g
	return nil
}

// RegisterTrigger adds a trigger. Trigger ids must be unique; the bound
// pipeline is checked by Validate so triggers may be registered first.
func (r *Registry) RegisterTrigger(t trigger.Trigger) error {
	if t == nil {
		return errors.New("trigger is nil")
	}
	if _, ok := r.Trigger(t.ID()); ok {
		return fmt.Errorf("trigger %q already registered", t.ID())
	}
	slog.Debug("Registering trigger.", "trigger_id", t.ID(), "kind", trigger.Kind(t), "pipeline", t.Pipeline())
	r.triggers = append(r.triggers, t)
	return nil
}

// Pipelines returns the registered pipeline names, sorted.
func (r *Registry) Pipelines() []string {
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pipeline returns the named pipeline.
func (r *Registry) Pipeline(name string) (*pipeline.Graph, error) {
	g, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}
	return g, nil
}

// Triggers returns the triggers in registration order.
func (r *Registry) Triggers() []trigger.Trigger {
	return slices.Clone(r.triggers)
}

// Trigger looks a trigger up by id.
func (r *Registry) Trigger(id string) (trigger.Trigger, bool) {
	for _, t := range r.triggers {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// TriggersFor returns the triggers bound to the named pipeline.
func (r *Registry) TriggersFor(pipelineName string) []trigger.Trigger {
	var out []trigger.Trigger
	for _, t := range r.triggers {
		if t.Pipeline() == pipelineName {
			out = append(out, t)
		}
	}
	return out
}
