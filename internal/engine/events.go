package engine

import (
	"context"
	"time"

	"github.com/vk/gridflow/internal/pipeline"
)

// EventType names a point in the run lifecycle.
type EventType string

const (
	RunStarted  EventType = "run_started"
	RunEnded    EventType = "run_ended"
	StepStarted EventType = "step_started"
	StepEnded   EventType = "step_ended"
	StepFailed  EventType = "step_failed"
	StepSkipped EventType = "step_skipped"
)

// Event is a structured progress record. Step is empty for run events.
type Event struct {
	Type       EventType
	RunID      string
	Pipeline   string
	Step       string
	Time       time.Time
	Status     pipeline.Status
	Duration   time.Duration
	SkipReason pipeline.SkipReason
	Err        error
}

// Observer consumes engine events. Implementations must be safe for
// concurrent use when one engine serves several runs at once.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }
