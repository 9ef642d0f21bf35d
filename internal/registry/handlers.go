package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
)

// Handler holds the compiled Go parts of a step handler.
type Handler struct {
	Description string
	// NewInput returns a pointer to a fresh input struct whose fields carry
	// `gf:"name[,optional]"` tags. Nil means the handler takes no arguments.
	NewInput func() any
	Fn       func(ctx context.Context, input any) (any, error)
}

// NewHandler adapts a typed function to a Handler.
func NewHandler[I any](description string, fn func(ctx context.Context, in *I) (any, error)) *Handler {
	return &Handler{
		Description: description,
		NewInput:    func() any { return new(I) },
		Fn: func(ctx context.Context, input any) (any, error) {
			in, ok := input.(*I)
			if !ok {
				return nil, fmt.Errorf("handler expected input %T, got %T", in, input)
			}
			return fn(ctx, in)
		},
	}
}

// RegisterHandler registers a Go function under name. Registering the same
// name twice is a programming error and panics.
func (r *Registry) RegisterHandler(name string, handler *Handler) {
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("step handler with name '%s' already registered", name))
	}
	slog.Debug("Registering step handler.", "name", name)
	r.handlers[name] = handler
}

// Handler returns the handler registered under name.
func (r *Registry) Handler(name string) (*Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Handlers returns the registered handler names, sorted.
func (r *Registry) Handlers() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type outputKey struct{}

// WithOutput sets the writer handlers use for human-readable output.
func WithOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, outputKey{}, w)
}

// Output returns the writer set by WithOutput, or os.Stdout.
func Output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(outputKey{}).(io.Writer); ok && w != nil {
		return w
	}
	return os.Stdout
}
