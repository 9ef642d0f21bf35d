package hcl

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/fsutil"
	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/trigger"
	"github.com/zclconf/go-cty/cty"
)

// Extension is the file extension of definition files.
const Extension = ".hcl"

// Loader translates HCL definitions into pipelines and triggers and
// registers them. Handlers must be registered before Load.
type Loader struct {
	reg *registry.Registry
}

// NewLoader creates a loader bound to reg.
func NewLoader(reg *registry.Registry) *Loader {
	return &Loader{reg: reg}
}

// Load parses every definitions file under paths. Directories are searched
// recursively for *.hcl files.
func (l *Loader) Load(ctx context.Context, paths ...string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.CollectFiles(Extension, paths...)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Warn("No definition files found.", "paths", paths)
		return nil
	}
	logger.Debug("Discovered HCL files.", "files", files)

	parser := hclparse.NewParser()
	pipelines, triggers := 0, 0
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, pb := range root.Pipelines {
			g, err := l.translatePipeline(ctx, pb)
			if err != nil {
				return fmt.Errorf("%s: %w", pb.DefRange, err)
			}
			if err := l.reg.RegisterPipeline(g); err != nil {
				return fmt.Errorf("%s: %w", pb.DefRange, err)
			}
			pipelines++
		}
		for _, tb := range root.Triggers {
			t, err := translateTrigger(tb)
			if err != nil {
				return fmt.Errorf("%s: %w", tb.DefRange, err)
			}
			if err := l.reg.RegisterTrigger(t); err != nil {
				return fmt.Errorf("%s: %w", tb.DefRange, err)
			}
			triggers++
		}
	}

	logger.Info("Definitions loaded.", "files", len(files), "pipelines", pipelines, "triggers", triggers)
	return nil
}

func (l *Loader) translatePipeline(ctx context.Context, pb *pipelineBlock) (*pipeline.Graph, error) {
	g := pipeline.NewGraph(pb.Name)
	if pb.StopOnFailure != nil {
		if err := g.SetStopOnFailure(*pb.StopOnFailure); err != nil {
			return nil, err
		}
	}
	logger := ctxlog.FromContext(ctx).With("pipeline", pb.Name)

	for _, sb := range pb.Steps {
		step, dependsOn, cond, err := l.translateStep(logger, sb)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", sb.Name, err)
		}
		if err := g.AddStepDeferred(step, dependsOn, cond); err != nil {
			return nil, err
		}
	}
	if err := g.Finalize(); err != nil {
		return nil, err
	}
	return g, nil
}

func (l *Loader) translateStep(logger *slog.Logger, sb *stepBlock) (pipeline.Step, []string, pipeline.Condition, error) {
	h, ok := l.reg.Handler(sb.Handler)
	if !ok {
		return pipeline.Step{}, nil, nil, fmt.Errorf("unknown handler %q", sb.Handler)
	}

	args, err := argumentExprs(sb.Arguments)
	if err != nil {
		return pipeline.Step{}, nil, nil, err
	}
	if err := checkArguments(h, args); err != nil {
		return pipeline.Step{}, nil, nil, err
	}

	exprs := make([]hcl.Expression, 0, len(args))
	for _, expr := range args {
		exprs = append(exprs, expr)
	}
	inputs, diags := stepReferences(exprs...)
	if diags.HasErrors() {
		return pipeline.Step{}, nil, nil, diags
	}

	dependsOn := slices.Clone(sb.DependsOn)
	var cond pipeline.Condition
	if isExprDefined(sb.Condition) {
		refs, diags := stepReferences(sb.Condition)
		if diags.HasErrors() {
			return pipeline.Step{}, nil, nil, diags
		}
		// The condition reads results from the run, so its steps must finish first.
		dependsOn = append(dependsOn, refs...)
		cond = compileCondition(logger.With("step", sb.Name), sb.Condition, refs)
	}

	step := pipeline.Step{
		Name:   sb.Name,
		Inputs: inputs,
		Fn:     stepFunc(h, args),
	}
	if sb.Description != nil {
		step.Description = *sb.Description
	}
	return step, dependsOn, cond, nil
}

func argumentExprs(block *argumentsBlock) (map[string]hcl.Expression, error) {
	if block == nil || block.Body == nil {
		return nil, nil
	}
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	out := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		out[name] = attr.Expr
	}
	return out, nil
}

// checkArguments rejects unknown arguments and missing required ones.
func checkArguments(h *registry.Handler, args map[string]hcl.Expression) error {
	if h.NewInput == nil {
		for name := range args {
			return fmt.Errorf("handler takes no arguments, got %q", name)
		}
		return nil
	}
	fields, err := registry.InputFields(h.NewInput())
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
		if _, ok := args[f.Name]; !ok && !f.Optional {
			return fmt.Errorf("missing required argument %q", f.Name)
		}
	}
	for name := range args {
		if !known[name] {
			return fmt.Errorf("unsupported argument %q", name)
		}
	}
	return nil
}

// stepFunc evaluates the arguments at execution time, with the run params
// and the loaded inputs in scope, and calls the handler.
func stepFunc(h *registry.Handler, args map[string]hcl.Expression) pipeline.StepFunc {
	return func(ctx context.Context, in pipeline.StepInput) (any, error) {
		evalCtx, err := evalContext(in.Params, in.Inputs)
		if err != nil {
			return nil, err
		}
		values := make(map[string]cty.Value, len(args))
		for name, expr := range args {
			v, diags := expr.Value(evalCtx)
			if diags.HasErrors() {
				return nil, fmt.Errorf("argument %q: %w", name, diags)
			}
			values[name] = v
		}

		var input any
		if h.NewInput != nil {
			input = h.NewInput()
			if err := decodeArguments(values, input); err != nil {
				return nil, err
			}
		}
		return h.Fn(ctx, input)
	}
}

// compileCondition turns an expression into a Condition. Evaluation errors
// and non-bool results make the condition false.
func compileCondition(logger *slog.Logger, expr hcl.Expression, refs []string) pipeline.Condition {
	return func(rc *pipeline.RunContext) bool {
		results := make(map[string]any, len(refs))
		for _, name := range refs {
			if v, ok := rc.GetResult(name); ok {
				results[name] = v
			}
		}
		evalCtx, err := evalContext(rc.Params(), results)
		if err != nil {
			logger.Warn("Condition context could not be built; treating as false.", "run_id", rc.RunID(), "error", err)
			return false
		}
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			logger.Warn("Condition failed to evaluate; treating as false.", "run_id", rc.RunID(), "error", diags.Error())
			return false
		}
		if val.IsNull() || !val.IsKnown() || val.Type() != cty.Bool {
			logger.Warn("Condition is not a bool; treating as false.", "run_id", rc.RunID(), "type", val.Type().FriendlyName())
			return false
		}
		return val.True()
	}
}

func translateTrigger(tb *triggerBlock) (trigger.Trigger, error) {
	switch tb.Kind {
	case "cron":
		var b cronBlock
		if diags := gohcl.DecodeBody(tb.Body, nil, &b); diags.HasErrors() {
			return nil, diags
		}
		return trigger.NewCron(trigger.CronConfig{ID: tb.ID, Pipeline: tb.Pipeline, Schedule: b.Schedule})

	case "file":
		var b fileBlock
		if diags := gohcl.DecodeBody(tb.Body, nil, &b); diags.HasErrors() {
			return nil, diags
		}
		cfg := trigger.FileWatcherConfig{
			ID:                tb.ID,
			Pipeline:          tb.Pipeline,
			Path:              b.Path,
			Patterns:          b.Patterns,
			Recursive:         deref(b.Recursive),
			WatchCreation:     deref(b.WatchCreation),
			WatchModification: deref(b.WatchModification),
		}
		if b.Debounce != nil {
			d, err := time.ParseDuration(*b.Debounce)
			if err != nil {
				return nil, fmt.Errorf("file trigger %q: invalid debounce: %w", tb.ID, err)
			}
			cfg.Debounce = d
		}
		return trigger.NewFileWatcher(cfg)

	case "webhook":
		var b webhookBlock
		if diags := gohcl.DecodeBody(tb.Body, nil, &b); diags.HasErrors() {
			return nil, diags
		}
		return trigger.NewWebhook(trigger.WebhookConfig{ID: tb.ID, Pipeline: tb.Pipeline, Endpoint: b.Endpoint, QueueSize: deref(b.QueueSize)})

	default:
		return nil, fmt.Errorf("unknown trigger kind %q (want cron, file or webhook)", tb.Kind)
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
