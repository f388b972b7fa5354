package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const awsEndpoint = "s3.amazonaws.com"

// MinIOConfig holds S3/MinIO connection configuration.
type MinIOConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// CreateBucket makes Put create a missing bucket on first use.
	CreateBucket bool
}

// MinIOStore implements Store on any S3-compatible service via minio-go.
type MinIOStore struct {
	client  *minio.Client
	cfg     MinIOConfig
	mu      sync.Mutex
	ensured map[string]bool
}

// NewMinIOStore creates a MinIOStore. No network call is made.
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = awsEndpoint
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object store client: %w", err)
	}
	return &MinIOStore{client: client, cfg: cfg, ensured: make(map[string]bool)}, nil
}

func (s *MinIOStore) Put(ctx context.Context, bucket, key string, content []byte, metadata map[string]string) error {
	if s.cfg.CreateBucket {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return err
		}
	}

	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Ping checks that bucket exists and the credentials can see it.
func (s *MinIOStore) Ping(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists && !s.cfg.CreateBucket {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	return nil
}

// ObjectURL builds the public URL of key. AWS endpoints use virtual-hosted
// style addressing; any other endpoint uses path style.
func (s *MinIOStore) ObjectURL(bucket, key string) string {
	return ObjectURL(s.cfg.Endpoint, s.cfg.Region, s.cfg.UseSSL, bucket, key)
}

func ObjectURL(endpoint, region string, useSSL bool, bucket, key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if endpoint == "" || endpoint == awsEndpoint {
		if region == "" {
			region = "us-east-1"
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, escaped)
	}

	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, strings.TrimRight(endpoint, "/"), bucket, escaped)
}

func (s *MinIOStore) ensureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[bucket] {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	s.ensured[bucket] = true
	return nil
}

// Compile-time interface check.
var _ Store = (*MinIOStore)(nil)
