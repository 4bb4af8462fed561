package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/multierr"
)

// S3Config locates a bucket for [S3Remote].
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// ParseS3URL splits "s3://bucket/prefix" into bucket and prefix.
func ParseS3URL(raw string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URL: %q", raw)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", raw)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// S3Remote pushes cache entries to an S3-compatible bucket and pulls them
// back, using the same layout and manifest as [Export].
type S3Remote struct {
	client *minio.Client
	bucket string
	prefix string
	region string
	logger *log.Logger

	initOnce sync.Once
	initErr  error
}

// NewS3Remote creates a remote for cfg. A nil logger uses log.Default().
func NewS3Remote(cfg S3Config, logger *log.Logger) (*S3Remote, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	if logger == nil {
		logger = log.Default()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Remote{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: region,
		logger: logger,
	}, nil
}

// String returns the remote as an s3:// URL.
func (r *S3Remote) String() string { return "s3://" + path.Join(r.bucket, r.prefix) }

func (r *S3Remote) objectKey(rel string) string {
	if r.prefix == "" {
		return rel
	}
	return r.prefix + "/" + rel
}

func (r *S3Remote) ensureBucket(ctx context.Context) error {
	r.initOnce.Do(func() {
		exists, err := r.client.BucketExists(ctx, r.bucket)
		if err != nil {
			r.initErr = err
			return
		}
		if !exists {
			r.initErr = r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{Region: r.region})
		}
	})
	return r.initErr
}

// Push uploads every entry of store and then the manifest. Entries already
// present remotely are overwritten.
func (r *S3Remote) Push(ctx context.Context, store Store) (int, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return 0, fmt.Errorf("ensure bucket: %w", err)
	}
	entries, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	var errs error
	var done []Entry
	for _, e := range entries {
		_, err := r.client.FPutObject(ctx, r.bucket, r.objectKey(bundlePath(e)), e.Path, minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: map[string]string{"sha256": e.SHA256},
		})
		if err != nil {
			if ctx.Err() != nil {
				return len(done), ctx.Err()
			}
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", e.Name, e.Version, err))
			continue
		}
		r.logger.Debug("pushed artifact", "package", e.Name, "version", e.Version, "remote", r)
		e.Path = ""
		done = append(done, e)
	}

	data, err := json.MarshalIndent(Manifest{Version: 1, Entries: done}, "", "  ")
	if err != nil {
		return len(done), multierr.Append(errs, err)
	}
	_, err = r.client.PutObject(ctx, r.bucket, r.objectKey(ManifestName), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return len(done), multierr.Append(errs, err)
}

// Pull downloads the manifest and every listed entry into store, staging
// files under scratch. Files that fail verification are skipped.
func (r *S3Remote) Pull(ctx context.Context, store Store, scratch string) (int, error) {
	m, err := r.manifest(ctx)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return 0, err
	}

	var errs error
	n := 0
	for _, e := range m.Entries {
		dst := filepath.Join(scratch, e.Key+"-"+e.Filename)
		err := r.client.FGetObject(ctx, r.bucket, r.objectKey(bundlePath(e)), dst, minio.GetObjectOptions{})
		if err != nil {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", e.Name, e.Version, err))
			continue
		}
		_, err = store.Put(ctx, artifactOf(e), dst)
		_ = os.Remove(dst)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", e.Name, e.Version, err))
			continue
		}
		n++
	}
	return n, errs
}

func (r *S3Remote) manifest(ctx context.Context) (*Manifest, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, r.objectKey(ManifestName), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil, fmt.Errorf("%w: no manifest at %s", ErrMiss, r)
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
