package print

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the print step.
type Input struct {
	Value map[string]any `gf:"input,optional"`
}

// OnRunPrint writes the input as sorted key/value lines to the step output
// stream and returns it unchanged.
func OnRunPrint(ctx context.Context, input *Input) (any, error) {
	ctxlog.FromContext(ctx).Debug("Printing input.", "keys", len(input.Value))
	out := registry.Output(ctx)

	if input.Value == nil {
		fmt.Fprintln(out, "      (null)")
		return map[string]any{}, nil
	}

	// Sort keys for consistent output
	keys := make([]string, 0, len(input.Value))
	for k := range input.Value {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(out, "      %s = %s\n", k, render(input.Value[k]))
	}

	return input.Value, nil
}

func render(v any) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case json.Number:
		return v.String()
	case nil:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("print", registry.NewHandler("Print the input map to the step output.", OnRunPrint))
}
