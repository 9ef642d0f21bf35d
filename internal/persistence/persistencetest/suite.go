// Package persistencetest holds the behavioural test suite every
// persistence.Backend implementation runs.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridflow/internal/persistence"
)

// Run exercises a backend. newBackend must return an empty backend.
func Run(t *testing.T, newBackend func(t *testing.T) persistence.Backend) {
	t.Helper()

	t.Run("save then load", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		require.NoError(t, b.Save(ctx, "run-1", "extract", []byte(`{"rows":3}`)))

		got, err := b.Load(ctx, "run-1", "extract")
		require.NoError(t, err)
		assert.JSONEq(t, `{"rows":3}`, string(got))
	})

	t.Run("missing record is not found", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Save(ctx, "run-1", "extract", []byte(`1`)))

		_, err := b.Load(ctx, "run-1", "transform")
		assert.ErrorIs(t, err, persistence.ErrNotFound)

		_, err = b.Load(ctx, "run-2", "extract")
		assert.ErrorIs(t, err, persistence.ErrNotFound, "records are scoped to their run")
	})

	t.Run("invalid keys are rejected", func(t *testing.T) {
		b := newBackend(t)
		err := b.Save(context.Background(), "run-1", "../escape", []byte(`1`))
		assert.ErrorIs(t, err, persistence.ErrInvalidKey)
	})

	t.Run("loaded bytes are not aliased", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		data := []byte(`"abc"`)
		require.NoError(t, b.Save(ctx, "run-1", "a", data))
		data[1] = 'z'

		got, err := b.Load(ctx, "run-1", "a")
		require.NoError(t, err)
		assert.Equal(t, `"abc"`, string(got))
	})

	t.Run("concurrent writers on distinct keys", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		const n = 32
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, b.Save(ctx, "run-1", fmt.Sprintf("step%d", i), []byte(fmt.Sprint(i))))
			}(i)
		}
		wg.Wait()

		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				got, err := b.Load(ctx, "run-1", fmt.Sprintf("step%d", i))
				assert.NoError(t, err)
				assert.Equal(t, fmt.Sprint(i), string(got))
			}(i)
		}
		wg.Wait()
	})

	if _, ok := newBackend(t).(persistence.Lister); ok {
		t.Run("lists runs", func(t *testing.T) {
			b := newBackend(t)
			ctx := context.Background()
			require.NoError(t, b.Save(ctx, "run-b", "a", []byte(`1`)))
			require.NoError(t, b.Save(ctx, "run-a", "a", []byte(`1`)))
			require.NoError(t, b.Save(ctx, "run-a", "b", []byte(`1`)))

			runs, err := b.(persistence.Lister).Runs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"run-a", "run-b"}, runs)
		})
	}
}
