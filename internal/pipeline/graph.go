package pipeline

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/vk/gridflow/internal/persistence"
)

type node struct {
	step       Step
	cond       Condition
	seq        int
	deps       []string
	dependents []string
}

// Graph is a pipeline definition: steps, dependency edges and conditions.
type Graph struct {
	mu sync.RWMutex

	name          string
	stopOnFailure bool
	nodes         []*node
	index         map[string]*node
	order         []string
	finalized     bool
}

// NewGraph creates an empty pipeline graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:  name,
		index: make(map[string]*node),
	}
}

// Name returns the pipeline name.
func (g *Graph) Name() string { return g.name }

// AddStep adds a step whose dependencies must already be part of the graph.
// The effective dependency set is dependsOn plus the step's declared inputs.
func (g *Graph) AddStep(step Step, dependsOn []string, cond Condition) error {
	return g.add(step, dependsOn, cond, true)
}

// AddStepDeferred adds a step without checking that its dependencies exist
// yet. Finalize performs the check.
func (g *Graph) AddStepDeferred(step Step, dependsOn []string, cond Condition) error {
	return g.add(step, dependsOn, cond, false)
}

func (g *Graph) add(step Step, dependsOn []string, cond Condition, strict bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finalized {
		return ErrFinalized
	}
	if step.Name == "" {
		return fmt.Errorf("%w: pipeline %q: step name must not be empty", ErrInvalidStep, g.name)
	}
	if err := persistence.ValidateKey("run", step.Name); err != nil {
		return fmt.Errorf("%w: pipeline %q: step name %q cannot be stored: %v", ErrInvalidStep, g.name, step.Name, err)
	}
	if step.Fn == nil {
		return fmt.Errorf("%w: pipeline %q: step %q has no function", ErrInvalidStep, g.name, step.Name)
	}
	if _, ok := g.index[step.Name]; ok {
		return &DuplicateStepError{Pipeline: g.name, Step: step.Name}
	}

	deps := mergeNames(dependsOn, step.Inputs)
	for _, dep := range deps {
		if dep == step.Name {
			return &CycleError{Pipeline: g.name, Steps: []string{step.Name}}
		}
		if _, ok := g.index[dep]; strict && !ok {
			return &UnknownDependencyError{Pipeline: g.name, Step: step.Name, Dependency: dep}
		}
	}

	n := &node{
		step: step.clone(),
		cond: cond,
		seq:  len(g.nodes),
		deps: deps,
	}
	g.nodes = append(g.nodes, n)
	g.index[step.Name] = n
	return nil
}

// Finalize validates the graph and fixes its execution order using Kahn's
// algorithm. Ready steps are taken in insertion order. Calling Finalize on a
// finalized graph is a no-op.
func (g *Graph) Finalize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finalized {
		return nil
	}

	for _, n := range g.nodes {
		for _, dep := range n.deps {
			if _, ok := g.index[dep]; !ok {
				return &UnknownDependencyError{Pipeline: g.name, Step: n.step.Name, Dependency: dep}
			}
		}
	}

	for _, n := range g.nodes {
		n.dependents = nil
	}
	indegree := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indegree[n.step.Name] = len(n.deps)
		for _, dep := range n.deps {
			up := g.index[dep]
			up.dependents = append(up.dependents, n.step.Name)
		}
	}

	var ready []*node
	push := func(n *node) {
		i := sort.Search(len(ready), func(i int) bool { return ready[i].seq > n.seq })
		ready = slices.Insert(ready, i, n)
	}
	for _, n := range g.nodes {
		if indegree[n.step.Name] == 0 {
			push(n)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n.step.Name)
		for _, name := range n.dependents {
			indegree[name]--
			if indegree[name] == 0 {
				push(g.index[name])
			}
		}
	}

	if len(order) != len(g.nodes) {
		var stuck []string
		for _, n := range g.nodes {
			if indegree[n.step.Name] > 0 {
				stuck = append(stuck, n.step.Name)
			}
		}
		return &CycleError{Pipeline: g.name, Steps: stuck}
	}

	g.order = order
	g.finalized = true
	return nil
}

// Finalized reports whether Finalize has succeeded.
func (g *Graph) Finalized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.finalized
}

// Order returns the canonical execution order, or nil before Finalize.
func (g *Graph) Order() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.order)
}

// Steps returns the step names in insertion order.
func (g *Graph) Steps() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.step.Name
	}
	return names
}

// Len returns the number of steps.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Step returns the named step and its condition.
func (g *Graph) Step(name string) (Step, Condition, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.index[name]
	if !ok {
		return Step{}, nil, false
	}
	return n.step.clone(), n.cond, true
}

// Dependencies returns the upstream step names of a step.
func (g *Graph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.index[name]; ok {
		return slices.Clone(n.deps)
	}
	return nil
}

// Dependents returns the steps that depend directly on name. Only populated
// after Finalize.
func (g *Graph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.index[name]; ok {
		return slices.Clone(n.dependents)
	}
	return nil
}

// StopOnFailure reports the pipeline-level failure policy.
func (g *Graph) StopOnFailure() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stopOnFailure
}

// SetStopOnFailure configures whether the first failed step skips every
// remaining step. It must be set before Finalize.
func (g *Graph) SetStopOnFailure(v bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalized {
		return ErrFinalized
	}
	g.stopOnFailure = v
	return nil
}

// mergeNames concatenates name lists, dropping empties and duplicates while
// keeping first-seen order.
func mergeNames(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, name := range list {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
