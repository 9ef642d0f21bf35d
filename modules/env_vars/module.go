package env_vars

import (
	"context"
	"os"
	"strings"

	"github.com/vk/gridflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input narrows the returned variables to names starting with Prefix.
type Input struct {
	Prefix string `gf:"prefix,optional"`
}

// OnRunEnvVars returns the process environment under "all".
func OnRunEnvVars(ctx context.Context, input *Input) (any, error) {
	envMap := make(map[string]any)
	for _, e := range os.Environ() {
		name, value, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(name, input.Prefix) {
			continue
		}
		envMap[name] = value
	}

	return map[string]any{"all": envMap}, nil
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("env_vars", registry.NewHandler("Read process environment variables.", OnRunEnvVars))
}
