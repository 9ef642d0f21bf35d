package s3

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/objectstore"
	"github.com/vk/gridflow/internal/registry"
)

// Credentials fall back to these variables when the arguments omit them.
const (
	EnvAccessKey = "AWS_ACCESS_KEY_ID"
	EnvSecretKey = "AWS_SECRET_ACCESS_KEY"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the 'arguments' HCL block.
type Input struct {
	Action    string `gf:"action"`
	Endpoint  string `gf:"endpoint"`
	Bucket    string `gf:"bucket"`
	Path      string `gf:"path"`
	Key       string `gf:"key,optional"`
	Region    string `gf:"region,optional"`
	UseSSL    bool   `gf:"use_ssl,optional"`
	AccessKey string `gf:"access_key,optional"`
	SecretKey string `gf:"secret_key,optional"`
	// ContentType defaults to a guess from the file extension on upload.
	ContentType string `gf:"content_type,optional"`
}

// normalize fills defaults and checks the arguments before any network call.
func (in *Input) normalize() error {
	in.Action = strings.ToLower(in.Action)
	if in.Action != "upload" && in.Action != "download" {
		return fmt.Errorf("unknown s3 action: '%s'", in.Action)
	}
	if in.Path == "" {
		return errors.New("path is required")
	}
	if in.Key == "" {
		in.Key = filepath.Base(in.Path)
	}
	in.Key = strings.TrimPrefix(in.Key, "/")
	if in.AccessKey == "" {
		in.AccessKey = os.Getenv(EnvAccessKey)
	}
	if in.SecretKey == "" {
		in.SecretKey = os.Getenv(EnvSecretKey)
	}
	if in.Action == "upload" && in.ContentType == "" {
		in.ContentType = mime.TypeByExtension(filepath.Ext(in.Path))
		if in.ContentType == "" {
			in.ContentType = "application/octet-stream"
		}
	}
	return nil
}

// OnRunS3 uploads Path to Bucket/Key or downloads Bucket/Key to Path.
func OnRunS3(ctx context.Context, input *Input) (any, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}
	client, err := objectstore.NewClient(objectstore.Config{
		Endpoint:  input.Endpoint,
		AccessKey: input.AccessKey,
		SecretKey: input.SecretKey,
		Region:    input.Region,
		UseSSL:    input.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx).With("action", input.Action, "bucket", input.Bucket, "key", input.Key)

	switch input.Action {
	case "upload":
		logger.Info("Uploading file to S3.", "source", input.Path, "content_type", input.ContentType)
		info, err := client.FPutObject(ctx, input.Bucket, input.Key, input.Path, minio.PutObjectOptions{
			ContentType: input.ContentType,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 upload failed: %w", err)
		}
		logger.Info("Successfully uploaded file.", "size", info.Size)
		return result(info.Bucket, info.Key, info.Size, info.ETag), nil
	default:
		stat, err := client.StatObject(ctx, input.Bucket, input.Key, minio.StatObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("s3 stat failed: %w", err)
		}
		logger.Info("Downloading file from S3.", "destination", input.Path, "size", stat.Size)
		if err := client.FGetObject(ctx, input.Bucket, input.Key, input.Path, minio.GetObjectOptions{}); err != nil {
			return nil, fmt.Errorf("s3 download failed: %w", err)
		}
		return result(input.Bucket, stat.Key, stat.Size, stat.ETag), nil
	}
}

func result(bucket, key string, size int64, etag string) map[string]any {
	return map[string]any{
		"bucket": bucket,
		"key":    key,
		"size":   size,
		"etag":   etag,
	}
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("s3", registry.NewHandler("Upload or download a file through an S3-compatible API.", OnRunS3))
}
