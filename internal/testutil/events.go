package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/gridflow/internal/engine"
)

// EventRecorder is an engine.Observer that keeps every event it sees.
type EventRecorder struct {
	mu     sync.Mutex
	events []engine.Event
}

// OnEvent implements engine.Observer.
func (r *EventRecorder) OnEvent(_ context.Context, ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Event(nil), r.events...)
}

// Trace renders events as "type" or "type:step" strings, which keeps
// ordering assertions readable.
func (r *EventRecorder) Trace() []string {
	var out []string
	for _, ev := range r.Events() {
		if ev.Step == "" {
			out = append(out, string(ev.Type))
			continue
		}
		out = append(out, fmt.Sprintf("%s:%s", ev.Type, ev.Step))
	}
	return out
}
