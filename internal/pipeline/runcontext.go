package pipeline

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// Status is the lifecycle state of a step or of a whole run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// SkipReason annotates why a step was skipped.
type SkipReason string

const (
	SkipUpstream      SkipReason = "upstream"
	SkipCondition     SkipReason = "condition"
	SkipStopOnFailure SkipReason = "stop_on_failure"
	SkipCancelled     SkipReason = "cancelled"
)

// StepState is a snapshot of one step within a run.
type StepState struct {
	Name       string
	Status     Status
	Result     any
	StartedAt  time.Time
	EndedAt    time.Time
	Err        error
	SkipReason SkipReason
}

// Duration is the time spent running the step, zero if it never ran.
func (s StepState) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// RunContext is the state of a single pipeline run.
type RunContext struct {
	mu sync.RWMutex

	runID     string
	graph     *Graph
	params    map[string]any
	states    map[string]*StepState
	startedAt time.Time
	endedAt   time.Time
	sealed    bool
}

// NewRunContext creates a run with every step of the graph pending.
func NewRunContext(runID string, g *Graph, params map[string]any, now time.Time) *RunContext {
	rc := &RunContext{
		runID:     runID,
		graph:     g,
		params:    maps.Clone(params),
		states:    make(map[string]*StepState, g.Len()),
		startedAt: now,
	}
	if rc.params == nil {
		rc.params = map[string]any{}
	}
	for _, name := range g.Steps() {
		rc.states[name] = &StepState{Name: name, Status: StatusPending}
	}
	return rc
}

// RunID identifies the run.
func (rc *RunContext) RunID() string { return rc.runID }

// Graph is the pipeline being executed.
func (rc *RunContext) Graph() *Graph { return rc.graph }

// Pipeline is the name of the pipeline being executed.
func (rc *RunContext) Pipeline() string { return rc.graph.Name() }

// StartedAt is the time the run was created.
func (rc *RunContext) StartedAt() time.Time { return rc.startedAt }

// EndedAt is zero until the run is sealed.
func (rc *RunContext) EndedAt() time.Time {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.endedAt
}

// Params returns a copy of the run parameters.
func (rc *RunContext) Params() map[string]any {
	return maps.Clone(rc.params)
}

// Param returns a single run parameter.
func (rc *RunContext) Param(key string) (any, bool) {
	v, ok := rc.params[key]
	return v, ok
}

// GetResult returns the result of a succeeded step.
func (rc *RunContext) GetResult(step string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	st, ok := rc.states[step]
	if !ok || st.Status != StatusSucceeded {
		return nil, false
	}
	return st.Result, true
}

// StepState returns a snapshot of one step.
func (rc *RunContext) StepState(step string) (StepState, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	st, ok := rc.states[step]
	if !ok {
		return StepState{}, false
	}
	return *st, true
}

// StepStatus is a shorthand for StepState(step).Status.
func (rc *RunContext) StepStatus(step string) Status {
	st, _ := rc.StepState(step)
	return st.Status
}

// Steps returns snapshots of every step, in execution order when the graph
// is finalized and insertion order otherwise.
func (rc *RunContext) Steps() []StepState {
	names := rc.graph.Order()
	if names == nil {
		names = rc.graph.Steps()
	}
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]StepState, 0, len(names))
	for _, name := range names {
		out = append(out, *rc.states[name])
	}
	return out
}

// Status is failed as soon as any step failed, running until the run is
// sealed, and succeeded afterwards.
func (rc *RunContext) Status() Status {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	for _, st := range rc.states {
		if st.Status == StatusFailed {
			return StatusFailed
		}
	}
	if !rc.sealed {
		return StatusRunning
	}
	return StatusSucceeded
}

// Failed returns the names of failed steps in execution order.
func (rc *RunContext) Failed() []string {
	var names []string
	for _, st := range rc.Steps() {
		if st.Status == StatusFailed {
			names = append(names, st.Name)
		}
	}
	return names
}

// Sealed reports whether the run has completed.
func (rc *RunContext) Sealed() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.sealed
}

// The mutators below are driven by the engine that owns the run.

// MarkRunning moves a pending step to running.
func (rc *RunContext) MarkRunning(step string, now time.Time) error {
	return rc.transition(step, func(st *StepState) error {
		if st.Status != StatusPending {
			return rc.badTransition(st, StatusRunning)
		}
		st.Status = StatusRunning
		st.StartedAt = now
		return nil
	})
}

// MarkSucceeded records the result of a running step.
func (rc *RunContext) MarkSucceeded(step string, result any, now time.Time) error {
	return rc.transition(step, func(st *StepState) error {
		if st.Status != StatusRunning {
			return rc.badTransition(st, StatusSucceeded)
		}
		st.Status = StatusSucceeded
		st.Result = result
		st.EndedAt = now
		return nil
	})
}

// MarkFailed records a step error. Steps may fail before they start running
// when their inputs cannot be loaded.
func (rc *RunContext) MarkFailed(step string, err error, now time.Time) error {
	return rc.transition(step, func(st *StepState) error {
		if st.Status.Terminal() {
			return rc.badTransition(st, StatusFailed)
		}
		st.Status = StatusFailed
		st.Err = err
		st.EndedAt = now
		return nil
	})
}

// MarkSkipped skips a step that has not finished.
func (rc *RunContext) MarkSkipped(step string, reason SkipReason, now time.Time) error {
	return rc.transition(step, func(st *StepState) error {
		if st.Status.Terminal() {
			return rc.badTransition(st, StatusSkipped)
		}
		st.Status = StatusSkipped
		st.SkipReason = reason
		st.EndedAt = now
		return nil
	})
}

// Seal ends the run. Every later mutation fails with ErrSealed.
func (rc *RunContext) Seal(now time.Time) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.sealed {
		return
	}
	rc.sealed = true
	rc.endedAt = now
}

func (rc *RunContext) transition(step string, fn func(*StepState) error) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.sealed {
		return ErrSealed
	}
	st, ok := rc.states[step]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	return fn(st)
}

func (rc *RunContext) badTransition(st *StepState, to Status) error {
	return fmt.Errorf("%w: step %q from %s to %s", ErrInvalidTransition, st.Name, st.Status, to)
}
