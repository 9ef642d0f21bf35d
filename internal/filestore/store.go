// Package filestore persists step results as JSON files on the local
// filesystem, one directory per run:
//
//	<root>/<run id>/<step>.json
//
// Writes go to a temporary file in the run directory and are renamed into
// place, so a reader never observes a partially written result.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/vk/gridflow/internal/persistence"
)

const ext = ".json"

// Store is a filesystem persistence.Backend.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store rooted there.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("filestore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory the store writes to.
func (s *Store) Root() string { return s.root }

func (s *Store) path(runID, step string) string {
	return filepath.Join(s.root, runID, step+ext)
}

// Save atomically writes the result of a step.
func (s *Store) Save(ctx context.Context, runID, step string, data []byte) error {
	if err := persistence.ValidateKey(runID, step); err != nil {
		return err
	}
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create run directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+step+"-*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write %s: %w", step, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: sync %s: %w", step, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close %s: %w", step, err)
	}
	if err := os.Rename(tmp.Name(), s.path(runID, step)); err != nil {
		return fmt.Errorf("filestore: commit %s: %w", step, err)
	}
	return nil
}

// Load reads the result of a step.
func (s *Store) Load(ctx context.Context, runID, step string) ([]byte, error) {
	if err := persistence.ValidateKey(runID, step); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(runID, step))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", step, err)
	}
	return data, nil
}

// Runs lists the run directories under the root, sorted.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("filestore: list runs: %w", err)
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}
