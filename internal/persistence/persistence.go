// Package persistence defines the storage contract for step results.
//
// Results are keyed by (run id, step name). Each key is written at most once
// per run by the step that owns it, so backends need no write-write
// coordination; concurrent reads of a written key must be safe.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Load when no record exists for the key.
var ErrNotFound = errors.New("persistence: record not found")

// ErrInvalidKey is returned when a run id or step name cannot be used as a
// storage key.
var ErrInvalidKey = errors.New("persistence: invalid key")

// Backend stores serialized step results.
type Backend interface {
	Save(ctx context.Context, runID, step string, data []byte) error
	Load(ctx context.Context, runID, step string) ([]byte, error)
}

// Lister is implemented by backends that can enumerate stored runs.
type Lister interface {
	Runs(ctx context.Context) ([]string, error)
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}

// ValidateKey rejects identifiers that are empty or could escape a path or
// object prefix.
func ValidateKey(runID, step string) error {
	for _, part := range []struct{ kind, v string }{{"run id", runID}, {"step name", step}} {
		if part.v == "" {
			return fmt.Errorf("%w: empty %s", ErrInvalidKey, part.kind)
		}
		if part.v == "." || part.v == ".." || strings.ContainsAny(part.v, "/\\\x00") {
			return fmt.Errorf("%w: %s %q", ErrInvalidKey, part.kind, part.v)
		}
	}
	return nil
}
