package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/trigger"
)

// InputTag is the struct tag that binds handler input fields to arguments.
const InputTag = "gf"

// Validate checks that every trigger is bound to a registered pipeline, that
// webhook endpoints are unique, and that handler input structs are tagged.
func (r *Registry) Validate(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	endpoints := make(map[string]string)
	for _, t := range r.triggers {
		if _, ok := r.pipelines[t.Pipeline()]; !ok {
			errs = append(errs, fmt.Sprintf("trigger '%s': bound to unknown pipeline '%s'", t.ID(), t.Pipeline()))
		}
		if w, ok := t.(*trigger.Webhook); ok {
			if prev, dup := endpoints[w.Endpoint()]; dup {
				errs = append(errs, fmt.Sprintf("trigger '%s': webhook endpoint '%s' already used by trigger '%s'", t.ID(), w.Endpoint(), prev))
			}
			endpoints[w.Endpoint()] = t.ID()
		}
	}

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := r.handlers[name]
		if h.Fn == nil {
			errs = append(errs, fmt.Sprintf("handler '%s': function is nil", name))
		}
		if h.NewInput == nil {
			continue
		}
		if _, err := InputFields(h.NewInput()); err != nil {
			errs = append(errs, fmt.Sprintf("handler '%s': %v", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Debug("Registry validated.", "pipelines", len(r.pipelines), "triggers", len(r.triggers), "handlers", len(r.handlers))
	return nil
}

// InputField describes one tagged field of a handler input struct.
type InputField struct {
	Name     string
	Index    int
	Optional bool
}

// InputFields reads the `gf` tags of a pointer to a struct. Every exported
// field must be tagged; "-" excludes a field.
func InputFields(input any) ([]InputField, error) {
	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("input must be a non-nil pointer to a struct, got %T", input)
	}
	t := v.Elem().Type()

	var fields []InputField
	seen := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, ok := f.Tag.Lookup(InputTag)
		if !ok || tag == "" {
			return nil, fmt.Errorf("field %s.%s has no %q tag", t.Name(), f.Name, InputTag)
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "-" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("argument %q is bound to more than one field of %s", name, t.Name())
		}
		seen[name] = true
		fields = append(fields, InputField{Name: name, Index: i, Optional: opts == "optional"})
	}
	return fields, nil
}
