package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/flowcache/flowdag/internal/model"
)

// S3Store is an S3-compatible BlobStore backend built on minio-go, for
// remotes configured as `remote.<name>.url = s3://bucket/prefix`.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
	name   string
}

// S3Config is the subset of remote configuration an S3 remote needs.
type S3Config struct {
	Name            string
	Endpoint        string // empty defaults to AWS's endpoint
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// NewS3Store builds an S3Store from cfg.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, name: cfg.Name}, nil
}

func (s *S3Store) key(h model.Hash) string {
	if s.prefix == "" {
		return objectKey(h)
	}
	return s.prefix + "/" + objectKey(h)
}

func (s *S3Store) Name() string { return s.name }

func (s *S3Store) Exists(ctx context.Context, h model.Hash) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(h), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: s3 stat %s: %w", h, err)
	}
	return true, nil
}

func (s *S3Store) Put(ctx context.Context, h model.Hash, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(h), r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("blobstore: s3 put %s: %w", h, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, h model.Hash) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(h), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blobstore: s3 get %s: %w", h, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return nil, fmt.Errorf("blobstore: s3 get %s: %w", h, ErrNotExist)
		}
		return nil, fmt.Errorf("blobstore: s3 get %s: %w", h, err)
	}
	return obj, nil
}

func (s *S3Store) List(ctx context.Context) ([]model.Hash, error) {
	var out []model.Hash
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("blobstore: s3 list: %w", obj.Err)
		}
		if h, ok := parseObjectKey(obj.Key); ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *S3Store) Remove(ctx context.Context, h model.Hash) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(h), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blobstore: s3 remove %s: %w", h, err)
	}
	return nil
}

