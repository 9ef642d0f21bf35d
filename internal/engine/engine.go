package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/persistence"
	"github.com/vk/gridflow/internal/pipeline"
)

// Engine executes pipeline runs. One Engine may serve many runs
// concurrently; each run owns its own RunContext.
type Engine struct {
	backend       persistence.Backend
	codec         persistence.Codec
	observers     []Observer
	clock         func() time.Time
	newRunID      func(pipeline string, now time.Time) string
	stopOnFailure bool
}

// New creates an engine that persists step results in backend.
func New(backend persistence.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		codec:    persistence.JSONCodec{},
		clock:    time.Now,
		newRunID: NewRunID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

// Run executes every step of g and returns the sealed RunContext. Step
// failures are reported through the RunContext, not the returned error. The
// error is non-nil only when g is not finalized or when ctx was cancelled
// before every step had a chance to start.
func (e *Engine) Run(ctx context.Context, g *pipeline.Graph, params map[string]any) (*pipeline.RunContext, error) {
	if g == nil || !g.Finalized() {
		return nil, ErrNotFinalized
	}

	start := e.now()
	rc := pipeline.NewRunContext(e.newRunID(g.Name(), start), g, params, start)
	ctx = ctxlog.With(ctx, "run_id", rc.RunID(), "pipeline", g.Name())
	logger := ctxlog.FromContext(ctx)

	logger.Debug("Run created.", "steps", g.Len(), "params", len(rc.Params()))
	e.emit(ctx, Event{Type: RunStarted, RunID: rc.RunID(), Pipeline: g.Name(), Time: start, Status: pipeline.StatusRunning})

	stopOnFailure := e.stopOnFailure || g.StopOnFailure()
	var (
		halt   pipeline.SkipReason
		runErr error
	)
	for _, name := range g.Order() {
		if halt == "" && ctx.Err() != nil {
			halt = pipeline.SkipCancelled
			runErr = fmt.Errorf("run %s cancelled before step %q: %w", rc.RunID(), name, context.Cause(ctx))
			logger.Warn("Run cancelled, skipping remaining steps.", "next_step", name)
		}
		if halt != "" {
			e.skip(ctx, rc, name, halt)
			continue
		}

		e.runStep(ctx, rc, name)

		if stopOnFailure && rc.StepStatus(name) == pipeline.StatusFailed {
			halt = pipeline.SkipStopOnFailure
			logger.Warn("Stopping run after first failure.", "step", name)
		}
	}

	end := e.now()
	rc.Seal(end)
	e.emit(ctx, Event{
		Type:     RunEnded,
		RunID:    rc.RunID(),
		Pipeline: g.Name(),
		Time:     end,
		Status:   rc.Status(),
		Duration: end.Sub(start),
		Err:      runErr,
	})
	return rc, runErr
}

func (e *Engine) runStep(ctx context.Context, rc *pipeline.RunContext, name string) {
	g := rc.Graph()
	step, cond, _ := g.Step(name)
	logger := ctxlog.FromContext(ctx).With("step", name)

	for _, dep := range g.Dependencies(name) {
		if st := rc.StepStatus(dep); st == pipeline.StatusFailed || st == pipeline.StatusSkipped {
			logger.Debug("Upstream step did not succeed.", "dependency", dep, "dependency_status", st)
			e.skip(ctx, rc, name, pipeline.SkipUpstream)
			return
		}
	}

	if cond != nil {
		ok, err := evalCondition(cond, rc)
		if err != nil {
			e.fail(ctx, rc, name, time.Time{}, &StepRuntimeError{Step: name, Phase: PhaseCondition, Err: err})
			return
		}
		if !ok {
			e.skip(ctx, rc, name, pipeline.SkipCondition)
			return
		}
	}

	inputs := make(map[string]any, len(step.Inputs))
	for _, input := range step.Inputs {
		v, err := e.loadInput(ctx, rc.RunID(), input)
		if err != nil {
			e.fail(ctx, rc, name, time.Time{}, &InputLoadError{Step: name, Input: input, Err: err})
			return
		}
		inputs[input] = v
	}

	start := e.now()
	if err := rc.MarkRunning(name, start); err != nil {
		logger.Error("Unable to start step.", "error", err)
		return
	}
	e.emit(ctx, Event{Type: StepStarted, RunID: rc.RunID(), Pipeline: g.Name(), Step: name, Time: start, Status: pipeline.StatusRunning})

	// A started step runs to completion even if the run is cancelled.
	stepCtx := context.WithoutCancel(ctx)
	result, err := invoke(stepCtx, step, pipeline.StepInput{
		RunID:    rc.RunID(),
		Pipeline: g.Name(),
		Params:   rc.Params(),
		Inputs:   inputs,
		Run:      rc,
	})
	if err != nil {
		e.fail(ctx, rc, name, start, &StepRuntimeError{Step: name, Phase: PhaseRun, Err: err})
		return
	}

	data, err := e.codec.Encode(result)
	if err == nil {
		err = e.backend.Save(stepCtx, rc.RunID(), name, data)
	}
	if err != nil {
		e.fail(ctx, rc, name, start, &PersistenceError{Step: name, Err: err})
		return
	}

	end := e.now()
	if err := rc.MarkSucceeded(name, result, end); err != nil {
		logger.Error("Unable to record step result.", "error", err)
		return
	}
	e.emit(ctx, Event{
		Type:     StepEnded,
		RunID:    rc.RunID(),
		Pipeline: g.Name(),
		Step:     name,
		Time:     end,
		Status:   pipeline.StatusSucceeded,
		Duration: end.Sub(start),
	})
}

func (e *Engine) loadInput(ctx context.Context, runID, input string) (any, error) {
	data, err := e.backend.Load(context.WithoutCancel(ctx), runID, input)
	if err != nil {
		return nil, err
	}
	v, err := e.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return v, nil
}

func (e *Engine) skip(ctx context.Context, rc *pipeline.RunContext, name string, reason pipeline.SkipReason) {
	now := e.now()
	if err := rc.MarkSkipped(name, reason, now); err != nil {
		ctxlog.FromContext(ctx).Error("Unable to skip step.", "step", name, "error", err)
		return
	}
	e.emit(ctx, Event{
		Type:       StepSkipped,
		RunID:      rc.RunID(),
		Pipeline:   rc.Pipeline(),
		Step:       name,
		Time:       now,
		Status:     pipeline.StatusSkipped,
		SkipReason: reason,
	})
}

func (e *Engine) fail(ctx context.Context, rc *pipeline.RunContext, name string, started time.Time, cause error) {
	now := e.now()
	if err := rc.MarkFailed(name, cause, now); err != nil {
		ctxlog.FromContext(ctx).Error("Unable to fail step.", "step", name, "error", err)
		return
	}
	var d time.Duration
	if !started.IsZero() {
		d = now.Sub(started)
	}
	e.emit(ctx, Event{
		Type:     StepFailed,
		RunID:    rc.RunID(),
		Pipeline: rc.Pipeline(),
		Step:     name,
		Time:     now,
		Status:   pipeline.StatusFailed,
		Duration: d,
		Err:      cause,
	})
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	for _, o := range e.observers {
		o.OnEvent(ctx, ev)
	}
}

func invoke(ctx context.Context, step pipeline.Step, in pipeline.StepInput) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return step.Fn(ctx, in)
}

func evalCondition(cond pipeline.Condition, rc *pipeline.RunContext) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("panic: ", r))
		}
	}()
	return cond(rc), nil
}
