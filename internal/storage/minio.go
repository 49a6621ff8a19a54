package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/example/oralscan/internal/config"
	"github.com/example/oralscan/internal/intake"
	"github.com/example/oralscan/internal/logging"
)

const objectPrefix = "analyses/"

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// MinioStore uploads images to an S3-compatible bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
	logger  *zap.Logger
}

// NewMinioStore connects to MinIO and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.Minio, logger *zap.Logger) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, logging.NewOperationError("storage.minio_connect", "", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, logging.NewOperationError("storage.bucket_exists", "", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, logging.NewOperationError("storage.make_bucket", "", err)
		}
		logger.Info("created image bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinioStore{
		client:  cli,
		bucket:  cfg.Bucket,
		baseURL: fmt.Sprintf("%s/%s/", strings.TrimRight(cli.EndpointURL().String(), "/"), cfg.Bucket),
		logger:  logger.Named("minio"),
	}, nil
}

// Put uploads img under analyses/<key><ext> and returns its URL.
func (s *MinioStore) Put(ctx context.Context, key string, img *intake.Image) (string, error) {
	object := ObjectName(key, img.MIMEType)
	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(img.Data), int64(len(img.Data)), minio.PutObjectOptions{
		ContentType: img.MIMEType,
	})
	if err != nil {
		return "", logging.NewOperationError("storage.put_object", logging.RequestID(ctx), err)
	}
	return s.baseURL + object, nil
}

// Delete removes the object behind ref. References outside this bucket are ignored.
func (s *MinioStore) Delete(ctx context.Context, ref string) error {
	object, ok := strings.CutPrefix(ref, s.baseURL)
	if !ok {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return logging.NewOperationError("storage.remove_object", logging.RequestID(ctx), err)
	}
	return nil
}

// Check reports whether the bucket is reachable.
func (s *MinioStore) Check(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// ObjectName builds the object key for an analysis image.
func ObjectName(key, mimeType string) string {
	ext, ok := extensions[mimeType]
	if !ok {
		ext = ".bin"
	}
	return path.Join(strings.TrimSuffix(objectPrefix, "/"), key+ext)
}
