package monitor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/trigger"
	"github.com/vk/gridflow/internal/webhook"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a Monitor.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateDraining State = "draining"
)

// Runner executes a pipeline run. *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, g *pipeline.Graph, params map[string]any) (*pipeline.RunContext, error)
}

// RunResult reports the outcome of one fire.
type RunResult struct {
	Pipeline  string
	TriggerID string
	// RunID is empty when the fire never started or the run was abandoned.
	RunID   string
	Status  pipeline.Status
	Err     error
	FiredAt time.Time
	Started time.Time
	Ended   time.Time
}

// TriggerStatus is a snapshot of one trigger's health.
type TriggerStatus struct {
	ID                  string
	Pipeline            string
	Kind                string
	Fires               int
	ConsecutiveFailures int
	Degraded            bool
	LastFire            time.Time
	LastError           error
}

type triggerState struct {
	t       trigger.Trigger
	fires   int
	fails   int
	degr    bool
	lastAt  time.Time
	lastErr error
}

// Monitor polls the registry's triggers and dispatches their fires to a
// Runner.
type Monitor struct {
	reg    *registry.Registry
	runner Runner

	interval          time.Duration
	workers           int
	maxConcurrent     int
	shutdownTimeout   time.Duration
	degradedThreshold int
	webhookAddr       string
	maxFiresPerPoll   int
	runHook           func(RunResult)
	clock             func() time.Time

	mu       sync.Mutex
	state    State
	triggers map[string]*triggerState
	order    []string
	session  *session
	server   *webhook.Server
}

// New creates a monitor for every trigger registered in reg.
func New(reg *registry.Registry, runner Runner, opts ...Option) *Monitor {
	m := &Monitor{
		reg:               reg,
		runner:            runner,
		interval:          DefaultInterval,
		workers:           DefaultWorkers,
		maxConcurrent:     DefaultMaxConcurrentRuns,
		shutdownTimeout:   DefaultShutdownTimeout,
		degradedThreshold: DefaultDegradedThreshold,
		webhookAddr:       DefaultWebhookAddr,
		maxFiresPerPoll:   DefaultMaxFiresPerPoll,
		clock:             time.Now,
		state:             StateStopped,
		triggers:          make(map[string]*triggerState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	for _, t := range reg.Triggers() {
		m.triggers[t.ID()] = &triggerState{t: t}
		m.order = append(m.order, t.ID())
	}
	return m
}

func (m *Monitor) now() time.Time { return m.clock().UTC() }

// State returns the lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TriggerStatus returns a snapshot of every trigger in registration order.
func (m *Monitor) TriggerStatus() []TriggerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TriggerStatus, 0, len(m.order))
	for _, id := range m.order {
		ts := m.triggers[id]
		out = append(out, TriggerStatus{
			ID:                  id,
			Pipeline:            ts.t.Pipeline(),
			Kind:                trigger.Kind(ts.t),
			Fires:               ts.fires,
			ConsecutiveFailures: ts.fails,
			Degraded:            ts.degr,
			LastFire:            ts.lastAt,
			LastError:           ts.lastErr,
		})
	}
	return out
}

// ResetTrigger clears the failure count of a trigger and resumes polling it
// if it was degraded.
func (m *Monitor) ResetTrigger(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.triggers[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, id)
	}
	ts.fails = 0
	ts.degr = false
	ts.lastErr = nil
	return nil
}

// WebhookAddr returns the bound address of the webhook server, or "" when it
// is not running.
func (m *Monitor) WebhookAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return ""
	}
	return m.server.Addr()
}

// QueueStats reports the fires waiting for dispatch and the active runs per
// pipeline. Both are zero while the monitor is stopped.
func (m *Monitor) QueueStats() (pending int, active map[string]int) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return 0, map[string]int{}
	}
	return s.queue.stats()
}

// Run starts polling and dispatching and blocks until ctx is done, then
// drains. It returns a *FatalError when the monitor is already running or a
// trigger or the webhook listener cannot start; otherwise it returns nil
// after the drain.
func (m *Monitor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return &FatalError{Err: ErrAlreadyRunning}
	}
	s := newSession(m.maxConcurrent)
	m.session = s
	m.state = StateRunning
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state = StateStopped
		m.session = nil
		m.server = nil
		m.mu.Unlock()
	}()

	triggers := m.reg.Triggers()
	started, err := startTriggers(ctx, triggers)
	if err != nil {
		stopTriggers(ctx, started)
		return &FatalError{Err: err}
	}
	defer stopTriggers(ctx, started)

	server, err := m.startWebhookServer(ctx, triggers)
	if err != nil {
		return &FatalError{Err: err}
	}
	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	logger.Info("📡 Monitor started.",
		"triggers", len(triggers),
		"interval", m.interval,
		"workers", m.workers,
		"max_concurrent_runs", m.maxConcurrent,
	)

	// Runs outlive ctx so they can drain; runCancel aborts them at the timeout.
	runCtx, runCancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer runCancel(nil)

	var workers errgroup.Group
	for i := 0; i < m.workers; i++ {
		workers.Go(func() error {
			m.work(runCtx, s)
			return nil
		})
	}

	var pollers errgroup.Group
	for _, t := range triggers {
		pollers.Go(func() error {
			m.poll(ctx, s, t)
			return nil
		})
	}

	<-ctx.Done()
	m.setState(StateDraining)
	logger.Info("📡 Monitor stopping, draining in-flight runs...", "timeout", m.shutdownTimeout)
	deadline := time.NewTimer(m.shutdownTimeout)
	defer deadline.Stop()

	_ = pollers.Wait()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Webhook server shutdown failed", "error", err)
		}
		cancel()
	}

	for _, f := range s.queue.close() {
		logger.Warn("Fire dropped at shutdown.", "trigger_id", f.triggerID, "pipeline", f.pipeline)
		m.report(ctx, RunResult{
			Pipeline:  f.pipeline,
			TriggerID: f.triggerID,
			Status:    pipeline.StatusSkipped,
			Err:       ErrNotDispatched,
			FiredAt:   f.firedAt,
		})
	}

	drained := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logger.Info("📡 Monitor stopped.")
	case <-deadline.C:
		runCancel(ErrMonitorShutdown)
		abandoned := s.abandonAll()
		for _, r := range abandoned {
			m.report(ctx, RunResult{
				Pipeline:  r.fire.pipeline,
				TriggerID: r.fire.triggerID,
				Status:    pipeline.StatusFailed,
				Err:       ErrMonitorShutdown,
				FiredAt:   r.fire.firedAt,
				Started:   r.started,
				Ended:     m.now(),
			})
		}
		logger.Warn("📡 Monitor stopped after drain timeout.", "abandoned_runs", len(abandoned))
	}
	return nil
}

func (m *Monitor) setState(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
}

func startTriggers(ctx context.Context, triggers []trigger.Trigger) ([]trigger.Starter, error) {
	var started []trigger.Starter
	for _, t := range triggers {
		s, ok := t.(trigger.Starter)
		if !ok {
			continue
		}
		if err := s.Start(ctx); err != nil {
			return started, fmt.Errorf("start trigger %q: %w", t.ID(), err)
		}
		started = append(started, s)
	}
	return started, nil
}

func stopTriggers(ctx context.Context, started []trigger.Starter) {
	for _, s := range started {
		if err := s.Stop(); err != nil {
			ctxlog.FromContext(ctx).Warn("Trigger did not stop cleanly.", "error", err)
		}
	}
}

func (m *Monitor) startWebhookServer(ctx context.Context, triggers []trigger.Trigger) (*webhook.Server, error) {
	var hooks []*trigger.Webhook
	for _, t := range triggers {
		if w, ok := t.(*trigger.Webhook); ok {
			hooks = append(hooks, w)
		}
	}
	if len(hooks) == 0 {
		return nil, nil
	}
	if m.webhookAddr == "" {
		ctxlog.FromContext(ctx).Warn("Webhook triggers are registered but the webhook server is disabled.", "webhook_triggers", len(hooks))
		return nil, nil
	}
	server, err := webhook.NewServer(m.webhookAddr, hooks)
	if err != nil {
		return nil, err
	}
	if err := server.Start(ctx); err != nil {
		return nil, err
	}
	return server, nil
}

// poll checks t immediately and then on every tick until ctx is done.
func (m *Monitor) poll(ctx context.Context, s *session, t trigger.Trigger) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.checkTrigger(ctx, s, t)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) checkTrigger(ctx context.Context, s *session, t trigger.Trigger) {
	logger := ctxlog.FromContext(ctx).With("trigger_id", t.ID(), "pipeline", t.Pipeline())
	for i := 0; i < m.maxFiresPerPoll; i++ {
		if ctx.Err() != nil || m.degraded(t.ID()) {
			return
		}
		fired, params, err := safeCheck(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.recordFailure(ctx, t, &trigger.CheckError{TriggerID: t.ID(), Err: err})
			return
		}
		m.recordSuccess(t.ID())
		if !fired {
			return
		}

		f := fire{triggerID: t.ID(), pipeline: t.Pipeline(), params: params, firedAt: m.now()}
		m.recordFire(t.ID(), f.firedAt)
		if !s.queue.push(f) {
			return
		}
		logger.Info("🔔 Trigger fired.", "params", len(params))
	}
	logger.Debug("Trigger reached the fire limit for this poll.", "limit", m.maxFiresPerPoll)
}

type checkResult struct {
	fired  bool
	params map[string]any
	err    error
}

// safeCheck runs t.Check and recovers panics. It returns as soon as ctx is
// done even if Check ignores ctx; the stuck call is left to finish on its
// own and its result is discarded.
func safeCheck(ctx context.Context, t trigger.Trigger) (bool, map[string]any, error) {
	done := make(chan checkResult, 1)
	go func() {
		var r checkResult
		defer func() {
			if p := recover(); p != nil {
				r = checkResult{err: fmt.Errorf("panic: %v", p)}
			}
			done <- r
		}()
		r.fired, r.params, r.err = t.Check(ctx)
	}()

	select {
	case r := <-done:
		return r.fired, r.params, r.err
	case <-ctx.Done():
		return false, nil, context.Cause(ctx)
	}
}

func (m *Monitor) degraded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers[id].degr
}

func (m *Monitor) recordSuccess(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[id].fails = 0
}

func (m *Monitor) recordFire(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.triggers[id]
	ts.fires++
	ts.lastAt = at
}

func (m *Monitor) recordFailure(ctx context.Context, t trigger.Trigger, err error) {
	m.mu.Lock()
	ts := m.triggers[t.ID()]
	ts.fails++
	ts.lastErr = err
	fails := ts.fails
	becameDegraded := !ts.degr && fails >= m.degradedThreshold
	if becameDegraded {
		ts.degr = true
	}
	m.mu.Unlock()

	logger := ctxlog.FromContext(ctx).With("trigger_id", t.ID(), "pipeline", t.Pipeline())
	if becameDegraded {
		logger.Error("Trigger degraded, polling suspended until reset.", "consecutive_failures", fails, "error", err)
		return
	}
	logger.Warn("Trigger check failed, retrying next interval.", "consecutive_failures", fails, "error", err)
}

// work runs fires until the queue closes.
func (m *Monitor) work(ctx context.Context, s *session) {
	for {
		f, ok := s.queue.next()
		if !ok {
			return
		}
		m.dispatch(ctx, s, f)
	}
}

func (m *Monitor) dispatch(ctx context.Context, s *session, f fire) {
	logger := ctxlog.FromContext(ctx).With("trigger_id", f.triggerID, "pipeline", f.pipeline)
	r := s.track(f, m.now())
	defer s.queue.done(f.pipeline)

	result := RunResult{Pipeline: f.pipeline, TriggerID: f.triggerID, FiredAt: f.firedAt, Started: r.started}

	g, err := m.reg.Pipeline(f.pipeline)
	if err == nil {
		var rc *pipeline.RunContext
		rc, err = safeRun(ctx, m.runner, g, maps.Clone(f.params))
		if rc != nil {
			result.RunID = rc.RunID()
			result.Status = rc.Status()
		}
	}
	result.Ended = m.now()
	result.Err = err
	if result.Status == "" || (err != nil && result.Status == pipeline.StatusSucceeded) {
		result.Status = pipeline.StatusFailed
	}

	if !s.untrack(r) {
		logger.Warn("Abandoned run finished after shutdown.", "run_id", result.RunID, "status", result.Status)
		return
	}
	m.report(ctx, result)
}

func safeRun(ctx context.Context, runner Runner, g *pipeline.Graph, params map[string]any) (rc *pipeline.RunContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()
	return runner.Run(ctx, g, params)
}

func (m *Monitor) report(ctx context.Context, r RunResult) {
	logger := ctxlog.FromContext(ctx).With("trigger_id", r.TriggerID, "pipeline", r.Pipeline, "run_id", r.RunID, "status", r.Status)
	switch {
	case errors.Is(r.Err, ErrNotDispatched):
	case r.Err != nil || r.Status == pipeline.StatusFailed:
		logger.Error("Triggered run failed.", "error", r.Err, "duration", r.Ended.Sub(r.Started))
	default:
		logger.Info("Triggered run finished.", "duration", r.Ended.Sub(r.Started))
	}
	if m.runHook != nil {
		m.runHook(r)
	}
}

// session is the dispatch state of one Run call.
type session struct {
	queue *dispatchQueue

	mu       sync.Mutex
	inflight map[*inflightRun]struct{}
}

type inflightRun struct {
	fire    fire
	started time.Time
}

func newSession(limit int) *session {
	return &session{
		queue:    newDispatchQueue(limit),
		inflight: make(map[*inflightRun]struct{}),
	}
}

func (s *session) track(f fire, started time.Time) *inflightRun {
	r := &inflightRun{fire: f, started: started}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[r] = struct{}{}
	return r
}

// untrack reports false if r was abandoned in the meantime.
func (s *session) untrack(r *inflightRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[r]; !ok {
		return false
	}
	delete(s.inflight, r)
	return true
}

func (s *session) abandonAll() []*inflightRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*inflightRun, 0, len(s.inflight))
	for r := range s.inflight {
		out = append(out, r)
	}
	clear(s.inflight)
	return out
}
