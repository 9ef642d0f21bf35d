package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridflow/internal/settings"
	"github.com/vk/gridflow/internal/testutil"
)

const executeHCL = `
pipeline "hello" {
  step "template" "greeting" {
    arguments {
      template = "hi {{ .who }}"
      data     = { who = params.who }
    }
  }
}

pipeline "broken" {
  step "fail" "boom" {
    arguments {
      message = "boom"
    }
  }

  step "print" "after" {
    depends_on = ["boom"]
  }
}

trigger "webhook" "hello_hook" {
  pipeline = "hello"
  endpoint = "hello"
}
`

func newCommand(t *testing.T, name, definitions string) *Command {
	t.Helper()
	s := settings.Default()
	s.Definitions = testutil.WriteFiles(t, map[string]string{"main.hcl": definitions})
	s.Persistence.Backend = settings.BackendMemory
	s.Log.Format = settings.FormatText
	s.Monitor.WebhookPort = 0
	return &Command{Name: name, Settings: s}
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected an *ExitError, got %v", err)
	return exitErr.Code
}

func TestExecute_List(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	cmd := newCommand(t, CommandList, executeHCL)
	out := &bytes.Buffer{}

	// --- Act ---
	err := Execute(context.Background(), cmd, out, &testutil.SafeBuffer{})

	// --- Assert ---
	require.NoError(t, err)
	assert.Contains(t, out.String(), "PIPELINE")
	assert.Contains(t, out.String(), "boom → after")
	assert.Contains(t, out.String(), "webhook.hello_hook")
	assert.NotContains(t, out.String(), "\x1b[", "no colours when output is not a terminal")
}

func TestExecute_Run(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		pipeline   string
		params     map[string]any
		wantCode   int
		wantOutput []string
	}{
		{
			name:       "success",
			pipeline:   "hello",
			params:     map[string]any{"who": "there"},
			wantCode:   ExitOK,
			wantOutput: []string{"greeting", "succeeded", `{"text":"hi there"}`},
		},
		{
			name:       "step failure",
			pipeline:   "broken",
			wantCode:   ExitFailure,
			wantOutput: []string{"boom", "failed", "skipped: upstream"},
		},
		{
			name:     "unknown pipeline",
			pipeline: "ghost",
			wantCode: ExitValidation,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cmd := newCommand(t, CommandRun, executeHCL)
			cmd.Pipeline = tc.pipeline
			cmd.Params = tc.params
			out := &bytes.Buffer{}

			err := Execute(context.Background(), cmd, out, &testutil.SafeBuffer{})

			assert.Equal(t, tc.wantCode, exitCode(t, err))
			for _, want := range tc.wantOutput {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func TestExecute_RunsListsStoredRuns(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The file backend keeps results between commands.
	stateDir := t.TempDir()
	run := newCommand(t, CommandRun, executeHCL)
	run.Pipeline = "hello"
	run.Settings.Persistence.Backend = settings.BackendFile
	run.Settings.Persistence.Dir = stateDir
	require.NoError(t, Execute(context.Background(), run, &bytes.Buffer{}, &testutil.SafeBuffer{}))

	runs := newCommand(t, CommandRuns, executeHCL)
	runs.Settings.Persistence.Backend = settings.BackendFile
	runs.Settings.Persistence.Dir = stateDir
	out := &bytes.Buffer{}

	// --- Act ---
	err := Execute(context.Background(), runs, out, &testutil.SafeBuffer{})

	// --- Assert ---
	require.NoError(t, err)
	assert.Contains(t, out.String(), "RUN")
	assert.Contains(t, out.String(), "hello-")
}

func TestExecute_InvalidDefinitionsIsValidationError(t *testing.T) {
	t.Parallel()

	cmd := newCommand(t, CommandList, "pipeline \"a\" {\n  step \"missing_handler\" \"x\" {}\n}\n")

	err := Execute(context.Background(), cmd, &bytes.Buffer{}, &testutil.SafeBuffer{})

	assert.Equal(t, ExitValidation, exitCode(t, err))
}

func TestExecute_MonitorStopsOnCancel(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	cmd := newCommand(t, CommandMonitor, executeHCL)
	logs := &testutil.SafeBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)

	// --- Act ---
	go func() { errc <- Execute(ctx, cmd, &bytes.Buffer{}, logs) }()
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("Monitor started."))
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	// --- Assert ---
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestExecute_MonitorBindFailureExitsWithFailure(t *testing.T) {
	t.Parallel()

	cmd := newCommand(t, CommandMonitor, executeHCL)
	cmd.Settings.Monitor.WebhookHost = "256.0.0.1"

	err := Execute(context.Background(), cmd, &bytes.Buffer{}, &testutil.SafeBuffer{})

	assert.Equal(t, ExitFailure, exitCode(t, err))
}
