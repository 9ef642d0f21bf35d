package trigger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Parameters of a file watcher fire.
const (
	ParamEventType = "event_type"
	ParamSrcPath   = "src_path"

	EventCreated  = "created"
	EventModified = "modified"
)

// DefaultDebounce is the quiet window used when FileWatcherConfig.Debounce is zero.
const DefaultDebounce = time.Second

type FileWatcherConfig struct {
	ID       string
	Pipeline string
	// Path is a directory to watch, or a single file.
	Path string
	// Patterns are doublestar globs matched against the file name and the
	// slash-separated path relative to Path. Empty matches every file.
	Patterns  []string
	Recursive bool
	// When neither is set, both creation and modification are watched.
	WatchCreation     bool
	WatchModification bool
	Debounce          time.Duration
	Clock             func() time.Time
}

type pendingFile struct {
	kind string
	last time.Time
}

// FileWatcher fires for created or modified files. Repeated events on the
// same path are merged until the path has been quiet for the debounce
// window, then the path fires once.
type FileWatcher struct {
	cfg   FileWatcherConfig
	root  string
	only  string
	clock func() time.Time

	mu       sync.Mutex
	pending  map[string]*pendingFile
	order    []string
	watchErr error

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileWatcher validates the configuration. Watching begins with Start.
func NewFileWatcher(cfg FileWatcherConfig) (*FileWatcher, error) {
	if err := validateBinding("file", cfg.ID, cfg.Pipeline); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("file trigger %q: path is required", cfg.ID)
	}
	for _, p := range cfg.Patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("file trigger %q: invalid pattern %q", cfg.ID, p)
		}
	}
	if !cfg.WatchCreation && !cfg.WatchModification {
		cfg.WatchCreation, cfg.WatchModification = true, true
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("file trigger %q: %w", cfg.ID, err)
	}
	return &FileWatcher{
		cfg:     cfg,
		root:    abs,
		clock:   clockOrNow(cfg.Clock),
		pending: make(map[string]*pendingFile),
	}, nil
}

func (w *FileWatcher) ID() string       { return w.cfg.ID }
func (w *FileWatcher) Pipeline() string { return w.cfg.Pipeline }
func (w *FileWatcher) Path() string     { return w.root }

// Start begins watching. The watched path must exist.
func (w *FileWatcher) Start(ctx context.Context) error {
	if w.watcher != nil {
		return fmt.Errorf("file trigger %q: already started", w.cfg.ID)
	}
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("file trigger %q: %w", w.cfg.ID, err)
	}
	if !info.IsDir() && w.only == "" {
		w.only = w.root
		w.root = filepath.Dir(w.root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file trigger %q: create watcher: %w", w.cfg.ID, err)
	}
	if err := w.addDir(watcher, w.root); err != nil {
		watcher.Close()
		return fmt.Errorf("file trigger %q: %w", w.cfg.ID, err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *FileWatcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	w.watcher = nil
	return err
}

func (w *FileWatcher) addDir(watcher *fsnotify.Watcher, dir string) error {
	if w.only != "" || !w.cfg.Recursive {
		return watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (w *FileWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			w.watchErr = errors.Join(w.watchErr, err)
			w.mu.Unlock()
		}
	}
}

func (w *FileWatcher) handle(ev fsnotify.Event) {
	var kind string
	switch {
	case ev.Has(fsnotify.Create):
		kind = EventCreated
	case ev.Has(fsnotify.Write):
		kind = EventModified
	default:
		return
	}

	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if kind == EventCreated && w.cfg.Recursive && w.only == "" {
			if err := w.addDir(w.watcher, ev.Name); err != nil {
				w.mu.Lock()
				w.watchErr = errors.Join(w.watchErr, err)
				w.mu.Unlock()
			}
		}
		return
	}
	w.observe(ev.Name, kind)
}

// observe records a filesystem event for path.
func (w *FileWatcher) observe(path, kind string) {
	if kind == EventCreated && !w.cfg.WatchCreation {
		return
	}
	if kind == EventModified && !w.cfg.WatchModification {
		return
	}
	if !w.matches(path) {
		return
	}

	now := w.clock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		// A create followed by writes is still a creation.
		p.last = now
		return
	}
	w.pending[path] = &pendingFile{kind: kind, last: now}
	w.order = append(w.order, path)
}

func (w *FileWatcher) matches(path string) bool {
	if w.only != "" {
		return path == w.only
	}
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	base := filepath.Base(path)
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = base
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.cfg.Patterns {
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Check returns the oldest path that has been quiet for the debounce
// window. Errors reported by the watcher since the previous check are
// returned first.
func (w *FileWatcher) Check(ctx context.Context) (bool, map[string]any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watchErr != nil {
		err := w.watchErr
		w.watchErr = nil
		return false, nil, err
	}

	now := w.clock()
	for i, path := range w.order {
		p := w.pending[path]
		if now.Sub(p.last) < w.cfg.Debounce {
			continue
		}
		w.order = slices.Delete(w.order, i, i+1)
		delete(w.pending, path)
		return true, map[string]any{
			ParamTriggerID: w.cfg.ID,
			ParamEventType: p.kind,
			ParamSrcPath:   path,
		}, nil
	}
	return false, nil, nil
}

// Pending returns the number of paths waiting for their quiet window.
func (w *FileWatcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}
