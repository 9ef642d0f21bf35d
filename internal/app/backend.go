package app

import (
	"context"
	"fmt"

	"github.com/vk/gridflow/internal/filestore"
	"github.com/vk/gridflow/internal/inmemorystore"
	"github.com/vk/gridflow/internal/objectstore"
	"github.com/vk/gridflow/internal/persistence"
	"github.com/vk/gridflow/internal/pgstore"
	"github.com/vk/gridflow/internal/settings"
)

// OpenBackend builds the persistence backend selected by s. Backends that
// hold connections implement persistence.Closer.
func OpenBackend(ctx context.Context, s settings.PersistenceSettings) (persistence.Backend, error) {
	var (
		backend persistence.Backend
		err     error
	)
	switch s.Backend {
	case settings.BackendMemory:
		backend = inmemorystore.New()
	case settings.BackendFile:
		var store *filestore.Store
		if store, err = filestore.New(s.Dir); err == nil {
			backend = store
		}
	case settings.BackendPostgres:
		var store *pgstore.Store
		if store, err = pgstore.Open(ctx, pgstore.Config{DSN: s.Postgres.DSN, Table: s.Postgres.Table}); err == nil {
			backend = store
		}
	case settings.BackendS3:
		var store *objectstore.Store
		store, err = objectstore.Open(ctx, objectstore.Config{
			Endpoint:  s.S3.Endpoint,
			AccessKey: s.S3.AccessKey,
			SecretKey: s.S3.SecretKey,
			Bucket:    s.S3.Bucket,
			Prefix:    s.S3.Prefix,
			Region:    s.S3.Region,
			UseSSL:    s.S3.UseSSL,
		})
		if err == nil {
			backend = store
		}
	default:
		err = fmt.Errorf("unknown persistence backend %q", s.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", s.Backend, err)
	}
	return backend, nil
}
