package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vk/gridflow/internal/persistence"
)

// Option customizes an Engine.
type Option func(*Engine)

// WithObserver adds an event observer. Observers are called in the order
// they were added.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRunIDGenerator overrides how run ids are built.
func WithRunIDGenerator(gen func(pipeline string, now time.Time) string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newRunID = gen
		}
	}
}

// WithCodec overrides the result codec. The default is JSON.
func WithCodec(c persistence.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithStopOnFailure makes every run stop at its first failed step,
// regardless of the pipeline setting.
func WithStopOnFailure(v bool) Option {
	return func(e *Engine) {
		e.stopOnFailure = v
	}
}

// NewRunID builds ids of the form <pipeline>-<UTC timestamp>-<8 hex chars>.
func NewRunID(pipeline string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", sanitize(pipeline), now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

func sanitize(name string) string {
	if name == "" {
		return "run"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
