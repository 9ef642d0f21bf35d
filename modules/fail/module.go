// Package fail provides a step that always fails. Definitions use it to
// exercise failure handling.
package fail

import (
	"context"
	"errors"

	"github.com/vk/gridflow/internal/registry"
)

type Module struct{}

type Input struct {
	Message string `gf:"message,optional"`
}

func OnRunFail(ctx context.Context, input *Input) (any, error) {
	if input.Message == "" {
		return nil, errors.New("step failed")
	}
	return nil, errors.New(input.Message)
}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("fail", registry.NewHandler("Fail with the given message.", OnRunFail))
}
