package integrationtests

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/gridflow/internal/app"
	"github.com/vk/gridflow/internal/pipeline"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/settings"
	"github.com/vk/gridflow/internal/testutil"
	"github.com/vk/gridflow/modules/fail"
	"github.com/vk/gridflow/modules/print"
	"github.com/vk/gridflow/modules/template"
)

// harness is an App built over a temporary definitions directory.
type harness struct {
	App  *app.App
	Logs *testutil.SafeBuffer
	Out  *bytes.Buffer
}

// newHarness loads files into a fresh App with the memory backend. The
// print, template and fail modules are always registered next to extra.
func newHarness(t *testing.T, files map[string]string, extra ...registry.Module) (*harness, error) {
	t.Helper()

	s := settings.Default()
	s.Definitions = testutil.WriteFiles(t, files)
	s.Log.Level = "debug"
	s.Log.Format = settings.FormatText
	s.Persistence.Backend = settings.BackendMemory
	s.Monitor.WebhookPort = 0
	s.Monitor.Interval = settings.Duration(10 * time.Millisecond)

	h := &harness{Logs: &testutil.SafeBuffer{}, Out: &bytes.Buffer{}}
	modules := append([]registry.Module{&print.Module{}, &template.Module{}, &fail.Module{}}, extra...)
	a, err := app.New(context.Background(), &app.Config{Settings: s, Out: h.Out, LogW: h.Logs, Modules: modules})
	t.Cleanup(func() {
		if a != nil {
			_ = a.Close()
		}
		if os.Getenv("GRIDFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), h.Logs.String())
		}
	})
	h.App = a
	return h, err
}

// mustHarness is newHarness for definitions expected to load.
func mustHarness(t *testing.T, hcl string, extra ...registry.Module) *harness {
	t.Helper()
	h, err := newHarness(t, map[string]string{"main.hcl": hcl}, extra...)
	require.NoError(t, err, "the definitions should load")
	return h
}

// run executes the pipeline and requires that the run itself started.
func (h *harness) run(t *testing.T, name string, params map[string]any) *pipeline.RunContext {
	t.Helper()
	rc, err := h.App.RunPipeline(context.Background(), name, params, false)
	require.NoError(t, err)
	require.NotNil(t, rc)
	return rc
}

// statuses maps each step of the run to its final status.
func statuses(rc *pipeline.RunContext) map[string]pipeline.Status {
	out := make(map[string]pipeline.Status)
	for _, st := range rc.Steps() {
		out[st.Name] = st.Status
	}
	return out
}

type echoInput struct {
	Value any    `gf:"value,optional"`
	Label string `gf:"label,optional"`
}

// recorder is a test module whose "echo" handler returns its input and
// records the order in which steps ran.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) Register(reg *registry.Registry) {
	reg.RegisterHandler("echo", registry.NewHandler("Return the input value.", func(ctx context.Context, in *echoInput) (any, error) {
		r.mu.Lock()
		r.calls = append(r.calls, in.Label)
		r.mu.Unlock()
		return map[string]any{"value": in.Value, "label": in.Label}, nil
	}))
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
