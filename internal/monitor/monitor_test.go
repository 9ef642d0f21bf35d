package monitor_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridflow/internal/engine"
	"github.com/vk/gridflow/internal/inmemorystore"
	"github.com/vk/gridflow/internal/monitor"
	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/trigger"
)

const tick = 5 * time.Millisecond

// manualTrigger fires once per call to Fire and fails while errs is non-empty.
type manualTrigger struct {
	id, pipeline string

	mu     sync.Mutex
	fires  []map[string]any
	errs   []error
	panics bool
	checks int
}

func (m *manualTrigger) ID() string       { return m.id }
func (m *manualTrigger) Pipeline() string { return m.pipeline }

func (m *manualTrigger) Fire(params map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fires = append(m.fires, params)
}

func (m *manualTrigger) FailWith(err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < times; i++ {
		m.errs = append(m.errs, err)
	}
}

func (m *manualTrigger) Checks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

func (m *manualTrigger) Check(ctx context.Context) (bool, map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.panics {
		panic("check exploded")
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return false, nil, err
	}
	if len(m.fires) == 0 {
		return false, nil, nil
	}
	p := m.fires[0]
	m.fires = m.fires[1:]
	if p == nil {
		p = map[string]any{}
	}
	p[trigger.ParamTriggerID] = m.id
	return true, p, nil
}

// stuckTrigger blocks in Check until release is closed, ignoring ctx.
type stuckTrigger struct {
	id, pipeline string
	entered      chan struct{}
	release      chan struct{}
	once         sync.Once
}

func (s *stuckTrigger) ID() string       { return s.id }
func (s *stuckTrigger) Pipeline() string { return s.pipeline }

func (s *stuckTrigger) Check(context.Context) (bool, map[string]any, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return false, nil, nil
}

// gate blocks steps until released and tracks how many run at once.
type gate struct {
	release chan struct{}
	started chan string

	active    atomic.Int32
	maxActive atomic.Int32
}

func newGate() *gate {
	return &gate{release: make(chan struct{}), started: make(chan string, 16)}
}

func (g *gate) step(ctx context.Context, in pipeline.StepInput) (any, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		m := g.maxActive.Load()
		if n <= m || g.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	label, _ := in.Params["label"].(string)
	g.started <- label
	<-g.release
	return label, nil
}

func blockingPipeline(t *testing.T, name string, g *gate) *pipeline.Graph {
	t.Helper()
	p := pipeline.NewGraph(name)
	require.NoError(t, p.AddStep(pipeline.Step{Name: "work", Fn: g.step}, nil, nil))
	require.NoError(t, p.Finalize())
	return p
}

// results collects RunResults from the run hook.
type results struct {
	mu  sync.Mutex
	all []monitor.RunResult
}

func (r *results) add(res monitor.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, res)
}

func (r *results) list() []monitor.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]monitor.RunResult(nil), r.all...)
}

func startMonitor(t *testing.T, m *monitor.Monitor) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, func() bool { return m.State() == monitor.StateRunning }, time.Second, time.Millisecond)

	var once sync.Once
	var err error
	cancel = func() error {
		once.Do(func() {
			stop()
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				err = errors.New("monitor did not stop")
			}
		})
		return err
	}
	t.Cleanup(func() { _ = cancel() })
	return cancel
}

func expectStart(t *testing.T, g *gate) string {
	t.Helper()
	select {
	case label := <-g.started:
		return label
	case <-time.After(2 * time.Second):
		t.Fatal("no run started")
		return ""
	}
}

func expectNoStart(t *testing.T, g *gate) {
	t.Helper()
	select {
	case label := <-g.started:
		t.Fatalf("run %q started while it should wait", label)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_SerializesRunsOfOnePipeline(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	g := newGate()
	reg := registry.New()
	require.NoError(t, reg.RegisterPipeline(blockingPipeline(t, "etl", g)))
	trig := &manualTrigger{id: "manual", pipeline: "etl"}
	require.NoError(t, reg.RegisterTrigger(trig))
	res := &results{}
	m := monitor.New(reg, engine.New(inmemorystore.New()),
		monitor.WithInterval(tick),
		monitor.WithWorkers(4),
		monitor.WithWebhookAddr(""),
		monitor.WithRunHook(res.add),
	)
	stop := startMonitor(t, m)

	// --- Act ---
	trig.Fire(map[string]any{"label": "first"})
	trig.Fire(map[string]any{"label": "second"})

	// --- Assert ---
	assert.Equal(t, "first", expectStart(t, g))
	expectNoStart(t, g)
	pending, active := m.QueueStats()
	assert.Equal(t, 1, pending, "the second fire is queued, not dropped")
	assert.Equal(t, map[string]int{"etl": 1}, active)

	g.release <- struct{}{}
	assert.Equal(t, "second", expectStart(t, g))
	g.release <- struct{}{}

	require.Eventually(t, func() bool { return len(res.list()) == 2 }, 2*time.Second, tick)
	require.NoError(t, stop())
	assert.EqualValues(t, 1, g.maxActive.Load())
	for _, r := range res.list() {
		assert.Equal(t, pipeline.StatusSucceeded, r.Status)
		assert.NoError(t, r.Err)
		assert.Equal(t, "manual", r.TriggerID)
		assert.NotEmpty(t, r.RunID)
	}
	assert.Equal(t, monitor.StateStopped, m.State())
}

func TestMonitor_DifferentPipelinesRunConcurrently(t *testing.T) {
	t.Parallel()

	g := newGate()
	reg := registry.New()
	require.NoError(t, reg.RegisterPipeline(blockingPipeline(t, "a", g)))
	require.NoError(t, reg.RegisterPipeline(blockingPipeline(t, "b", g)))
	ta := &manualTrigger{id: "ta", pipeline: "a"}
	tb := &manualTrigger{id: "tb", pipeline: "b"}
	require.NoError(t, reg.RegisterTrigger(ta))
	require.NoError(t, reg.RegisterTrigger(tb))
	m := monitor.New(reg, engine.New(inmemorystore.New()), monitor.WithInterval(tick), monitor.WithWebhookAddr(""))
	startMonitor(t, m)

	ta.Fire(map[string]any{"label": "a"})
	tb.Fire(map[string]any{"label": "b"})

	expectStart(t, g)
	expectStart(t, g)
	assert.EqualValues(t, 2, g.maxActive.Load())
	g.release <- struct{}{}
	g.release <- struct{}{}
}

func TestMonitor_MaxConcurrentRunsOption(t *testing.T) {
	t.Parallel()

	g := newGate()
	reg := registry.New()
	require.NoError(t, reg.RegisterPipeline(blockingPipeline(t, "etl", g)))
	trig := &manualTrigger{id: "manual", pipeline: "etl"}
	require.NoError(t, reg.RegisterTrigger(trig))
	m := monitor.New(reg, engine.New(inmemorystore.New()),
		monitor.WithInterval(tick),
		monitor.WithWebhookAddr(""),
		monitor.WithMaxConcurrentRuns(2),
	)
	startMonitor(t, m)

	trig.Fire(map[string]any{"label": "1"})
	trig.Fire(map[string]any{"label": "2"})

	expectStart(t, g)
	expectStart(t, g)
	assert.EqualValues(t, 2, g.maxActive.Load())
	g.release <- struct{}{}
	g.release <- struct{}{}
}

func TestMonitor_DegradesAndResetsTrigger(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	reg := registry.New()
	p := pipeline.NewGraph("etl")
	require.NoError(t, p.AddStep(pipeline.Step{Name: "noop", Fn: func(context.Context, pipeline.StepInput) (any, error) { return nil, nil }}, nil, nil))
	require.NoError(t, p.Finalize())
	require.NoError(t, reg.RegisterPipeline(p))
	trig := &manualTrigger{id: "flaky", pipeline: "etl"}
	trig.FailWith(errors.New("disk unavailable"), 3)
	require.NoError(t, reg.RegisterTrigger(trig))
	res := &results{}
	m := monitor.New(reg, engine.New(inmemorystore.New()),
		monitor.WithInterval(tick),
		monitor.WithWebhookAddr(""),
		monitor.WithDegradedThreshold(3),
		monitor.WithRunHook(res.add),
	)

	// --- Act ---
	startMonitor(t, m)
	require.Eventually(t, func() bool { return m.TriggerStatus()[0].Degraded }, 2*time.Second, tick)
	checks := trig.Checks()
	trig.Fire(nil)
	time.Sleep(10 * tick)

	// --- Assert ---
	st := m.TriggerStatus()[0]
	assert.Equal(t, 3, st.ConsecutiveFailures)
	assert.ErrorIs(t, st.LastError, trigger.ErrTrigger)
	assert.ErrorContains(t, st.LastError, "disk unavailable")
	assert.Equal(t, checks, trig.Checks(), "a degraded trigger is not polled")
	assert.Empty(t, res.list())

	require.NoError(t, m.ResetTrigger("flaky"))
	require.Eventually(t, func() bool { return len(res.list()) == 1 }, 2*time.Second, tick)
	st = m.TriggerStatus()[0]
	assert.False(t, st.Degraded)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.Fires)

	assert.ErrorIs(t, m.ResetTrigger("nope"), monitor.ErrUnknownTrigger)
}

func TestMonitor_PanickingCheckCountsAsFailure(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	g := newGate()
	require.NoError(t, reg.RegisterPipeline(blockingPipeline(t, "etl", g)))
	trig := &manualTrigger{id: "bad", pipeline: "etl", panics: true}
	require.NoError(t, reg.RegisterTrigger(trig))
	m := monitor.New(reg, engine.New(inmemorystore.New()),
		monitor.WithInterval(tick),
		monitor.WithWebhookAddr(""),
		monitor.WithDegradedThreshold(2),
	)
	startMonitor(t, m)

	require.Eventually(t, func() bool { return m.TriggerStatus()[0].Degraded }, 2*time.Second, tick)
	assert.ErrorContains(t, m.TriggerStatus()[0].LastError, "check exploded")
}

func TestMonitor_DrainTimeoutAbandonsRuns(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	g := newGate()
	t.Cleanup(func() { close(g.release) })
	reg := registry.New()
	require.NoError(t, reg.RegisterPipeline(blockingPipeline(t, "etl", g)))
	trig := &manualTrigger{id: "manual", pipeline: "etl"}
	require.NoError(t, reg.RegisterTrigger(trig))
	res := &results{}
	m := monitor.New(reg, engine.New(inmemorystore.New()),
		monitor.WithInterval(tick),
		monitor.WithWebhookAddr(""),
		monitor.WithShutdownTimeout(50*time.Millisecond),
		monitor.WithRunHook(res.add),
	)
	stop := startMonitor(t, m)
	trig.Fire(map[string]any{"label": "stuck"})
	trig.Fire(map[string]any{"label": "queued"})
	expectStart(t, g)
	require.Eventually(t, func() bool { p, _ := m.QueueStats(); return p == 1 }, time.Second, tick)

	// --- Act ---
	start := time.Now()
	require.NoError(t, stop())

	// --- Assert ---
	assert.Less(t, time.Since(start), 2*time.Second)
	got := res.list()
	require.Len(t, got, 2)

	var abandoned, dropped monitor.RunResult
	for _, r := range got {
		switch {
		case errors.Is(r.Err, monitor.ErrMonitorShutdown):
			abandoned = r
		case errors.Is(r.Err, monitor.ErrNotDispatched):
			dropped = r
		}
	}
	assert.Equal(t, pipeline.StatusFailed, abandoned.Status)
	assert.Equal(t, "monitor shutdown", abandoned.Err.Error())
	assert.Equal(t, "etl", dropped.Pipeline)
	assert.Equal(t, monitor.StateStopped, m.State())
}

func TestMonitor_StuckCheckDoesNotBlockOthersOrShutdown(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	g := newGate()
	reg := registry.New()
	require.NoError(t, reg.RegisterPipeline(blockingPipeline(t, "etl", g)))
	stuck := &stuckTrigger{id: "stuck", pipeline: "etl", entered: make(chan struct{}), release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	trig := &manualTrigger{id: "manual", pipeline: "etl"}
	require.NoError(t, reg.RegisterTrigger(stuck))
	require.NoError(t, reg.RegisterTrigger(trig))
	res := &results{}
	m := monitor.New(reg, engine.New(inmemorystore.New()),
		monitor.WithInterval(tick),
		monitor.WithWebhookAddr(""),
		monitor.WithShutdownTimeout(100*time.Millisecond),
		monitor.WithRunHook(res.add),
	)
	stop := startMonitor(t, m)
	select {
	case <-stuck.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("stuck trigger was never checked")
	}

	// --- Act ---
	trig.Fire(map[string]any{"label": "fast"})
	assert.Equal(t, "fast", expectStart(t, g), "a blocked check must not delay other triggers")
	g.release <- struct{}{}
	require.Eventually(t, func() bool { return len(res.list()) == 1 }, 2*time.Second, tick)

	start := time.Now()
	err := stop()

	// --- Assert ---
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "shutdown is bounded while a check is stuck")
	assert.Equal(t, monitor.StateStopped, m.State())
}

func TestMonitor_GracefulDrainWaitsForRuns(t *testing.T) {
	t.Parallel()

	g := newGate()
	reg := registry.New()
	require.NoError(t, reg.RegisterPipeline(blockingPipeline(t, "etl", g)))
	trig := &manualTrigger{id: "manual", pipeline: "etl"}
	require.NoError(t, reg.RegisterTrigger(trig))
	res := &results{}
	m := monitor.New(reg, engine.New(inmemorystore.New()),
		monitor.WithInterval(tick),
		monitor.WithWebhookAddr(""),
		monitor.WithShutdownTimeout(5*time.Second),
		monitor.WithRunHook(res.add),
	)
	stop := startMonitor(t, m)
	trig.Fire(map[string]any{"label": "slow"})
	expectStart(t, g)

	stopped := make(chan error, 1)
	go func() { stopped <- stop() }()
	require.Eventually(t, func() bool { return m.State() == monitor.StateDraining }, time.Second, time.Millisecond)
	g.release <- struct{}{}

	require.NoError(t, <-stopped)
	got := res.list()
	require.Len(t, got, 1)
	assert.Equal(t, pipeline.StatusSucceeded, got[0].Status)
	assert.NoError(t, got[0].Err)
}

func TestMonitor_WebhookFireRunsPipeline(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	reg := registry.New()
	seen := make(chan map[string]any, 1)
	p := pipeline.NewGraph("deploy")
	require.NoError(t, p.AddStep(pipeline.Step{Name: "record", Fn: func(ctx context.Context, in pipeline.StepInput) (any, error) {
		seen <- in.Params
		return nil, nil
	}}, nil, nil))
	require.NoError(t, p.Finalize())
	require.NoError(t, reg.RegisterPipeline(p))
	hook, err := trigger.NewWebhook(trigger.WebhookConfig{ID: "gh", Pipeline: "deploy", Endpoint: "github"})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTrigger(hook))
	m := monitor.New(reg, engine.New(inmemorystore.New()), monitor.WithInterval(tick), monitor.WithWebhookAddr("127.0.0.1:0"))
	startMonitor(t, m)
	require.NotEmpty(t, m.WebhookAddr())

	// --- Act ---
	resp, err := http.Post("http://"+m.WebhookAddr()+"/hooks/github", "application/json", strings.NewReader(`{"ref":"main"}`))
	require.NoError(t, err)
	resp.Body.Close()

	// --- Assert ---
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	select {
	case params := <-seen:
		assert.Equal(t, "main", params["ref"])
		assert.Equal(t, "gh", params[trigger.ParamTriggerID])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook fire did not run the pipeline")
	}
}

func TestMonitor_WebhookBindFailureIsFatal(t *testing.T) {
	t.Parallel()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { occupied.Close() })

	reg := registry.New()
	hook, err := trigger.NewWebhook(trigger.WebhookConfig{ID: "gh", Pipeline: "deploy", Endpoint: "github"})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTrigger(hook))
	m := monitor.New(reg, engine.New(inmemorystore.New()), monitor.WithWebhookAddr(occupied.Addr().String()))

	err = m.Run(context.Background())

	var fatal *monitor.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, monitor.ErrFatal)
	assert.Equal(t, monitor.StateStopped, m.State())
}

func TestMonitor_SecondRunIsFatal(t *testing.T) {
	t.Parallel()

	m := monitor.New(registry.New(), engine.New(inmemorystore.New()), monitor.WithWebhookAddr(""))
	startMonitor(t, m)

	err := m.Run(context.Background())

	assert.ErrorIs(t, err, monitor.ErrAlreadyRunning)
	assert.ErrorIs(t, err, monitor.ErrFatal)
}

func TestMonitor_TriggerStartFailureIsFatal(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	w, err := trigger.NewFileWatcher(trigger.FileWatcherConfig{ID: "inbox", Pipeline: "etl", Path: t.TempDir() + "/missing"})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTrigger(w))
	m := monitor.New(reg, engine.New(inmemorystore.New()), monitor.WithWebhookAddr(""))

	err = m.Run(context.Background())

	assert.ErrorIs(t, err, monitor.ErrFatal)
	assert.ErrorContains(t, err, "inbox")
}
