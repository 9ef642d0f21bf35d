package objectstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/gridflow/internal/persistence"
	"github.com/vk/gridflow/internal/persistence/persistencetest"
)

func TestObjectKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "runs/r1/extract.json", ObjectKey("/runs/", "r1", "extract"))
	assert.Equal(t, "r1/extract.json", ObjectKey("", "r1", "extract"))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Endpoint: "localhost:9000"}.Validate())
	assert.NoError(t, Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}.Validate())
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.True(t, IsNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
}

func TestOpen_RequiresBucket(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.ErrorContains(t, err, "bucket is required")
}

// TestStore_Backend runs against a real endpoint when
// GRIDFLOW_TEST_S3_ENDPOINT is set; each case uses its own prefix.
func TestStore_Backend(t *testing.T) {
	endpoint := os.Getenv("GRIDFLOW_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("GRIDFLOW_TEST_S3_ENDPOINT not set")
	}
	cfg := Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("GRIDFLOW_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("GRIDFLOW_TEST_S3_SECRET_KEY"),
		Bucket:    "gridflow-test",
	}

	persistencetest.Run(t, func(t *testing.T) persistence.Backend {
		c := cfg
		c.Prefix = "t-" + uuid.NewString()
		s, err := Open(context.Background(), c)
		require.NoError(t, err)
		return s
	})
}
