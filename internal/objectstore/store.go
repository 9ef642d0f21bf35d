// Package objectstore persists step results in an S3-compatible bucket
// using minio-go. Objects are laid out as
//
//	<prefix>/<run id>/<step>.json
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/vk/gridflow/internal/persistence"
)

// Store is an object storage persistence.Backend.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// Open builds a client and makes sure the bucket exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.Bucket, cfg.Prefix)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *minio.Client, bucket, prefix string) (*Store, error) {
	if client == nil {
		return nil, errors.New("objectstore: client is required")
	}
	if bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectKey returns the key a step result is stored under.
func ObjectKey(prefix, runID, step string) string {
	return path.Join(strings.Trim(prefix, "/"), runID, step+".json")
}

// Save uploads the result of a step.
func (s *Store) Save(ctx context.Context, runID, step string, data []byte) error {
	if err := persistence.ValidateKey(runID, step); err != nil {
		return err
	}
	key := ObjectKey(s.prefix, runID, step)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

// Load downloads the result of a step.
func (s *Store) Load(ctx context.Context, runID, step string) ([]byte, error) {
	if err := persistence.ValidateKey(runID, step); err != nil {
		return nil, err
	}
	key := ObjectKey(s.prefix, runID, step)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if IsNotFound(err) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if IsNotFound(err) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: read %s: %w", key, err)
	}
	return data, nil
}

// Runs lists the run prefixes in the bucket, sorted.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}
	var runs []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: listPrefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objectstore: list runs: %w", obj.Err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, listPrefix), "/")
		if name != "" && strings.HasSuffix(obj.Key, "/") {
			runs = append(runs, name)
		}
	}
	sort.Strings(runs)
	return runs, nil
}
