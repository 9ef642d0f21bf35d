package engine

import (
	"errors"
	"fmt"
)

// ErrExecution is matched by every error recorded against a step.
var ErrExecution = errors.New("step execution error")

// ErrNotFinalized is returned by Run for graphs that were never finalized.
var ErrNotFinalized = errors.New("engine: graph must be finalized before it can run")

// InputLoadError means an upstream result could not be loaded or decoded.
type InputLoadError struct {
	Step  string
	Input string
	Err   error
}

func (e *InputLoadError) Error() string {
	return fmt.Sprintf("step %q: load input %q: %v", e.Step, e.Input, e.Err)
}

func (e *InputLoadError) Unwrap() error        { return e.Err }
func (e *InputLoadError) Is(target error) bool { return target == ErrExecution }

// PersistenceError means a step result could not be encoded or saved.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("step %q: persist result: %v", e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrExecution }

// StepRuntimeError wraps an error returned, or a panic raised, by a step
// function or its condition.
type StepRuntimeError struct {
	Step  string
	Phase string
	Err   error
}

func (e *StepRuntimeError) Error() string {
	if e.Phase != "" && e.Phase != PhaseRun {
		return fmt.Sprintf("step %q: %s: %v", e.Step, e.Phase, e.Err)
	}
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepRuntimeError) Unwrap() error        { return e.Err }
func (e *StepRuntimeError) Is(target error) bool { return target == ErrExecution }

// Phases of a StepRuntimeError.
const (
	PhaseRun       = "run"
	PhaseCondition = "condition"
)
