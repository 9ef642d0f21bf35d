package pipeline

import (
	"context"
	"slices"
)

// StepInput is everything a step function receives when it runs.
type StepInput struct {
	RunID    string
	Pipeline string
	// Params are the run parameters supplied by the caller or trigger.
	Params map[string]any
	// Inputs holds the persisted results of the declared upstream inputs,
	// keyed by upstream step name.
	Inputs map[string]any
	// Run is the live run state; step functions must treat it as read-only.
	Run *RunContext
}

// StepFunc is the executable unit of a step.
type StepFunc func(ctx context.Context, in StepInput) (any, error)

// Condition decides whether a step should execute. It sees the results of
// every step that finished before it.
type Condition func(rc *RunContext) bool

// Step is a named unit of work. Inputs names the upstream steps whose
// persisted results are loaded and passed to Fn; every input is implicitly a
// dependency of the step.
type Step struct {
	Name        string
	Description string
	Inputs      []string
	Fn          StepFunc
}

func (s Step) clone() Step {
	s.Inputs = slices.Clone(s.Inputs)
	return s
}
