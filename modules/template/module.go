// Package template renders Go text templates with the sprig function set.
package template

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/vk/gridflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type Input struct {
	Template string         `gf:"template"`
	Data     map[string]any `gf:"data,optional"`
	// Strict fails on keys missing from Data instead of rendering "<no value>".
	Strict bool `gf:"strict,optional"`
}

// OnRunTemplate renders Template against Data and returns it under "text".
func OnRunTemplate(ctx context.Context, input *Input) (any, error) {
	tmpl := template.New("step").Funcs(sprig.TxtFuncMap())
	if input.Strict {
		tmpl = tmpl.Option("missingkey=error")
	}
	tmpl, err := tmpl.Parse(input.Template)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	data := input.Data
	if data == nil {
		data = map[string]any{}
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return map[string]any{"text": sb.String()}, nil
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("template", registry.NewHandler("Render a text template with sprig functions.", OnRunTemplate))
}
