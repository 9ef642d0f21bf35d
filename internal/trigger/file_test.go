package trigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, cfg FileWatcherConfig, clock *fakeClock) *FileWatcher {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "files"
	}
	if cfg.Pipeline == "" {
		cfg.Pipeline = "ingest"
	}
	if cfg.Path == "" {
		cfg.Path = t.TempDir()
	}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	w, err := NewFileWatcher(cfg)
	require.NoError(t, err)
	return w
}

func TestFileWatcher_DebouncesBursts(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	w := newTestWatcher(t, FileWatcherConfig{Debounce: 2 * time.Second}, clock)
	path := filepath.Join(w.Path(), "data.csv")
	ctx := context.Background()

	// --- Act & Assert ---
	w.observe(path, EventCreated)
	clock.Advance(time.Second)
	w.observe(path, EventModified)
	clock.Advance(time.Second)

	fired, _, err := w.Check(ctx)
	require.NoError(t, err)
	assert.False(t, fired, "the path was written one second ago")

	clock.Advance(time.Second)
	fired, params, err := w.Check(ctx)
	require.NoError(t, err)
	require.True(t, fired)
	assert.Equal(t, map[string]any{
		ParamTriggerID: "files",
		ParamEventType: EventCreated,
		ParamSrcPath:   path,
	}, params)

	fired, _, _ = w.Check(ctx)
	assert.False(t, fired, "a burst fires once")
	assert.Zero(t, w.Pending())
}

func TestFileWatcher_FiresOldestQuietPathFirst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	w := newTestWatcher(t, FileWatcherConfig{Debounce: time.Second}, clock)
	a := filepath.Join(w.Path(), "a.txt")
	b := filepath.Join(w.Path(), "b.txt")

	w.observe(a, EventModified)
	w.observe(b, EventModified)
	clock.Advance(time.Second)

	_, p1, _ := w.Check(context.Background())
	_, p2, _ := w.Check(context.Background())
	assert.Equal(t, a, p1[ParamSrcPath])
	assert.Equal(t, b, p2[ParamSrcPath])
}

func TestFileWatcher_Filters(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		cfg  FileWatcherConfig
		rel  string
		kind string
		want bool
	}{
		{name: "no patterns matches all", rel: "x.bin", kind: EventCreated, want: true},
		{name: "base name pattern", cfg: FileWatcherConfig{Patterns: []string{"*.csv"}}, rel: "in/x.csv", kind: EventCreated, want: true},
		{name: "pattern miss", cfg: FileWatcherConfig{Patterns: []string{"*.csv"}}, rel: "x.json", kind: EventCreated, want: false},
		{name: "relative doublestar", cfg: FileWatcherConfig{Patterns: []string{"in/**/*.json"}}, rel: "in/a/b/x.json", kind: EventModified, want: true},
		{name: "creation only ignores writes", cfg: FileWatcherConfig{WatchCreation: true}, rel: "x", kind: EventModified, want: false},
		{name: "modification only ignores creates", cfg: FileWatcherConfig{WatchModification: true}, rel: "x", kind: EventCreated, want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
			w := newTestWatcher(t, tc.cfg, clock)

			w.observe(filepath.Join(w.Path(), filepath.FromSlash(tc.rel)), tc.kind)

			assert.Equal(t, tc.want, w.Pending() == 1)
		})
	}
}

func TestNewFileWatcher_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewFileWatcher(FileWatcherConfig{ID: "f", Pipeline: "p"})
	assert.Error(t, err, "path is required")

	_, err = NewFileWatcher(FileWatcherConfig{ID: "f", Pipeline: "p", Path: ".", Patterns: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestFileWatcher_StartRequiresExistingPath(t *testing.T) {
	t.Parallel()

	w := newTestWatcher(t, FileWatcherConfig{Path: filepath.Join(t.TempDir(), "missing")}, nil)
	assert.Error(t, w.Start(context.Background()))
}

func TestFileWatcher_ObservesRealFiles(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	w := newTestWatcher(t, FileWatcherConfig{Patterns: []string{"*.csv"}, Recursive: true, Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	require.Error(t, w.Start(context.Background()), "double start")

	// --- Act ---
	require.NoError(t, os.WriteFile(filepath.Join(w.Path(), "ignored.txt"), []byte("x"), 0o644))
	target := filepath.Join(w.Path(), "report.csv")
	require.NoError(t, os.WriteFile(target, []byte("a,b\n"), 0o644))

	// --- Assert ---
	var params map[string]any
	require.Eventually(t, func() bool {
		fired, p, err := w.Check(context.Background())
		if err != nil || !fired {
			return false
		}
		params = p
		return true
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, target, params[ParamSrcPath])
	assert.Equal(t, EventCreated, params[ParamEventType])
}
