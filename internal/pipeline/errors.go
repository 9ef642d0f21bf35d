package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDefinition is matched by every error raised while building a graph.
var ErrDefinition = errors.New("pipeline definition error")

var (
	// ErrFinalized is returned when a finalized graph is mutated.
	ErrFinalized = fmt.Errorf("%w: graph is already finalized", ErrDefinition)
	// ErrInvalidStep is returned for steps without a name or executable.
	ErrInvalidStep = fmt.Errorf("%w: invalid step", ErrDefinition)
)

var (
	// ErrSealed is returned when a completed RunContext is mutated.
	ErrSealed = errors.New("run context is sealed")
	// ErrUnknownStep is returned when a RunContext is asked about a step the graph does not contain.
	ErrUnknownStep = errors.New("unknown step")
	// ErrInvalidTransition is returned for status changes the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid step status transition")
)

// DuplicateStepError reports a second step registered under an existing name.
type DuplicateStepError struct {
	Pipeline string
	Step     string
}

func (e *DuplicateStepError) Error() string {
	return fmt.Sprintf("pipeline %q: step %q is already defined", e.Pipeline, e.Step)
}

func (e *DuplicateStepError) Is(target error) bool { return target == ErrDefinition }

// UnknownDependencyError reports a dependency on a step that is not in the graph.
type UnknownDependencyError struct {
	Pipeline   string
	Step       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("pipeline %q: step %q depends on unknown step %q", e.Pipeline, e.Step, e.Dependency)
}

func (e *UnknownDependencyError) Is(target error) bool { return target == ErrDefinition }

// CycleError reports steps that could not be ordered because they form or
// depend on a cycle.
type CycleError struct {
	Pipeline string
	Steps    []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline %q: cycle detected involving steps [%s]", e.Pipeline, strings.Join(e.Steps, ", "))
}

func (e *CycleError) Is(target error) bool { return target == ErrDefinition }
