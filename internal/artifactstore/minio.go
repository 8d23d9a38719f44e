package artifactstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// MinioConfig configures an S3-compatible artifact bucket.
type MinioConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// Validate reports missing required settings.
func (c MinioConfig) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		missing = append(missing, "access_key/secret_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("object store settings missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MinioStore keeps artifacts as object prefixes in one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("artifact bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create artifact bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// NewMinioStoreWithClient wraps an existing client.
func NewMinioStoreWithClient(client *minio.Client, bucket string) (*MinioStore, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put implements Store.
func (s *MinioStore) Put(ctx context.Context, run, name, dir string) (pipeline.Location, error) {
	key, err := objectKey(run, name)
	if err != nil {
		return pipeline.Location{}, err
	}
	var total int64
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := s.client.FPutObject(ctx, s.bucket, path.Join(key, filepath.ToSlash(rel)), p, minio.PutObjectOptions{})
		if err != nil {
			return err
		}
		total += info.Size
		return nil
	})
	if err != nil {
		return pipeline.Location{}, fmt.Errorf("failed to upload artifact %q: %w", name, err)
	}
	ctxlog.FromContext(ctx).Debug("Uploaded artifact.", "artifact", name, "bucket", s.bucket, "key", key, "size", humanize.Bytes(uint64(total)))
	return pipeline.Location{
		Bucket: s.bucket,
		Key:    key,
		URI:    fmt.Sprintf("s3://%s/%s", s.bucket, key),
	}, nil
}

// Fetch implements Store.
func (s *MinioStore) Fetch(ctx context.Context, loc pipeline.Location, dir string) error {
	if loc.Bucket != s.bucket {
		return fmt.Errorf("location %s is not in bucket %q", loc, s.bucket)
	}
	prefix := strings.TrimSuffix(loc.Key, "/") + "/"
	found := false
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := s.client.FGetObject(ctx, s.bucket, obj.Key, target, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("download %s: %w", obj.Key, err)
		}
		found = true
	}
	if !found {
		return fmt.Errorf("artifact %s has no objects", loc)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
