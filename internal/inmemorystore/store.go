// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the persistence.Backend interface.
//
// # Purpose
//
// Step results of a run live only as long as the process. This is the
// backend used by tests and by `gridflow run --backend memory`, where the
// results are only needed for data handoff within the same run.
//
// # Concurrency Model
//
// Records are stored in a sync.Map keyed by run id and step name:
//   - Each (run id, step) key is written once by the step that owns it
//   - Downstream steps and conditions read keys that are no longer written
//
// sync.Map is optimized for exactly this write-once, read-many pattern.
// Stored byte slices are copied on the way in and on the way out so callers
// can never mutate a persisted result.
package inmemorystore

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/vk/gridflow/internal/persistence"
)

type key struct {
	runID string
	step  string
}

// Store is an in-memory persistence.Backend.
type Store struct {
	records sync.Map // Key: key, Value: []byte
}

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{}
}

// Save records the serialized result of a step.
func (s *Store) Save(ctx context.Context, runID, step string, data []byte) error {
	if err := persistence.ValidateKey(runID, step); err != nil {
		return err
	}
	s.records.Store(key{runID, step}, slices.Clone(data))
	return nil
}

// Load retrieves the serialized result of a step.
func (s *Store) Load(ctx context.Context, runID, step string) ([]byte, error) {
	if err := persistence.ValidateKey(runID, step); err != nil {
		return nil, err
	}
	v, ok := s.records.Load(key{runID, step})
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return slices.Clone(v.([]byte)), nil
}

// Runs returns the ids of every run with at least one record, sorted.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	s.records.Range(func(k, _ any) bool {
		seen[k.(key).runID] = struct{}{}
		return true
	})
	runs := make([]string, 0, len(seen))
	for id := range seen {
		runs = append(runs, id)
	}
	sort.Strings(runs)
	return runs, nil
}

// Delete removes every record of a run.
func (s *Store) Delete(ctx context.Context, runID string) {
	s.records.Range(func(k, _ any) bool {
		if k.(key).runID == runID {
			s.records.Delete(k)
		}
		return true
	})
}
