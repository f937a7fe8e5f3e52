package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/engramlabs/engram-backend/internal/platform/envutil"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// Store archives large raw source payloads so the relational rows stay
// small. Ingestion treats it as best-effort: a missing or failing store
// never blocks extraction.
type Store interface {
	PutPayload(ctx context.Context, key, contentType string, payload []byte) error
	GetPayload(ctx context.Context, key string) ([]byte, error)
}

type store struct {
	log    *logger.Logger
	client *minio.Client
	bucket string
}

// New connects to the MinIO endpoint named by MINIO_* and ensures the
// sources bucket exists. Returns (nil, nil) when MINIO_ENDPOINT is unset so
// callers can treat the store as disabled.
func New(ctx context.Context, log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}

	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("missing MINIO_ACCESS_KEY/MINIO_SECRET_KEY")
	}
	useSSL := envutil.Bool("MINIO_USE_SSL", false)
	bucket := envutil.Str("SOURCES_BUCKET", "memory-sources")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}

	log.Info("object store connected", "endpoint", endpoint, "bucket", bucket)
	return &store{
		log:    log.With("service", "ObjectStore"),
		client: client,
		bucket: bucket,
	}, nil
}

func (s *store) PutPayload(ctx context.Context, key, contentType string, payload []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("object key required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *store) GetPayload(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("object key required")
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return raw, nil
}
