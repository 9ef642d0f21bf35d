package hcl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vk/gridflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// toCty converts a native Go value through its JSON form, so results of any
// shape can be referenced from expressions.
func toCty(v any) (cty.Value, error) {
	if v == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to encode value: %w", err)
	}
	ty, err := ctyjson.ImpliedType(b)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return ctyjson.Unmarshal(b, ty)
}

// toNative converts a cty value to plain Go values: maps, slices, strings,
// bools, json.Number and nil.
func toNative(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	b, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeArguments populates the handler input struct from evaluated
// arguments, keyed by `gf` tag name.
func decodeArguments(args map[string]cty.Value, input any) error {
	fields, err := registry.InputFields(input)
	if err != nil {
		return err
	}
	structVal := reflect.ValueOf(input).Elem()
	for _, f := range fields {
		val, provided := args[f.Name]
		if !provided || val.IsNull() {
			if f.Optional {
				continue
			}
			return fmt.Errorf("missing required argument %q", f.Name)
		}
		if err := decodeValue(val, structVal.Field(f.Index)); err != nil {
			return fmt.Errorf("failed to decode argument '%s': %w", f.Name, err)
		}
	}
	return nil
}

func decodeValue(val cty.Value, target reflect.Value) error {
	goType := target.Type()

	if goType == reflect.TypeOf(cty.Value{}) {
		target.Set(reflect.ValueOf(val))
		return nil
	}

	// Untyped targets receive plain native values.
	if goType.Kind() == reflect.Interface || goType == reflect.TypeOf(map[string]any(nil)) || goType == reflect.TypeOf([]any(nil)) {
		native, err := toNative(val)
		if err != nil {
			return err
		}
		if native == nil {
			return nil
		}
		nv := reflect.ValueOf(native)
		if !nv.Type().AssignableTo(goType) {
			return fmt.Errorf("cannot use %s value as %s", val.Type().FriendlyName(), goType)
		}
		target.Set(nv)
		return nil
	}

	want, err := gocty.ImpliedType(reflect.Zero(goType).Interface())
	if err != nil {
		return fmt.Errorf("cannot imply cty type for %s: %w", goType, err)
	}
	converted, err := convert.Convert(val, want)
	if err != nil {
		return fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), want.FriendlyName(), err)
	}
	return gocty.FromCtyValue(converted, target.Addr().Interface())
}
