package hcl

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/tryfunc"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Variable roots available to expressions.
const (
	rootParams = "params"
	rootStep   = "step"
)

var functions = map[string]function.Function{
	"upper":      stdlib.UpperFunc,
	"lower":      stdlib.LowerFunc,
	"format":     stdlib.FormatFunc,
	"join":       stdlib.JoinFunc,
	"split":      stdlib.SplitFunc,
	"concat":     stdlib.ConcatFunc,
	"length":     stdlib.LengthFunc,
	"coalesce":   stdlib.CoalesceFunc,
	"contains":   stdlib.ContainsFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
	"jsondecode": stdlib.JSONDecodeFunc,
	"tostring":   stdlib.MakeToFunc(cty.String),
	"tonumber":   stdlib.MakeToFunc(cty.Number),
	"try":        tryfunc.TryFunc,
	"can":        tryfunc.CanFunc,
}

// isExprDefined reports whether an optional attribute was present in the
// source. gohcl fills omitted hcl.Expression fields with a zero-width
// placeholder, so a nil check is not enough.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	return r.End.Byte > r.Start.Byte
}

// stepReferences returns the step names referenced as step.<name>, sorted,
// and reports any variable outside the params and step roots.
func stepReferences(exprs ...hcl.Expression) ([]string, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	seen := make(map[string]struct{})
	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		for _, traversal := range expr.Variables() {
			switch traversal.RootName() {
			case rootParams:
			case rootStep:
				if len(traversal) < 2 {
					diags = append(diags, &hcl.Diagnostic{
						Severity: hcl.DiagError,
						Summary:  "Invalid step reference",
						Detail:   "A step reference must name the step, as in step.fetch.",
						Subject:  traversal.SourceRange().Ptr(),
					})
					continue
				}
				attr, ok := traversal[1].(hcl.TraverseAttr)
				if !ok {
					diags = append(diags, &hcl.Diagnostic{
						Severity: hcl.DiagError,
						Summary:  "Invalid step reference",
						Detail:   "Steps are referenced by attribute, as in step.fetch.",
						Subject:  traversal[1].SourceRange().Ptr(),
					})
					continue
				}
				seen[attr.Name] = struct{}{}
			default:
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Unknown variable",
					Detail:   fmt.Sprintf("There is no variable named %q; expressions may use params and step.", traversal.RootName()),
					Subject:  traversal.SourceRange().Ptr(),
				})
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, diags
}

// evalContext exposes params and step results to expressions.
func evalContext(params map[string]any, results map[string]any) (*hcl.EvalContext, error) {
	paramsVal, err := toCtyObject(params)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	stepVals := make(map[string]cty.Value, len(results))
	for name, result := range results {
		v, err := toCty(result)
		if err != nil {
			return nil, fmt.Errorf("step.%s: %w", name, err)
		}
		stepVals[name] = v
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			rootParams: paramsVal,
			rootStep:   cty.ObjectVal(stepVals),
		},
		Functions: functions,
	}, nil
}

func toCtyObject(m map[string]any) (cty.Value, error) {
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		cv, err := toCty(v)
		if err != nil {
			return cty.NilVal, fmt.Errorf("%s: %w", k, err)
		}
		vals[k] = cv
	}
	return cty.ObjectVal(vals), nil
}
