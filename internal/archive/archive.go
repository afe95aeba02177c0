// Package archive stores request bodies in S3-compatible object storage,
// keyed by run id, so the pre-rewrite original survives every repair.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/router-for-me/chatscrub/internal/config"
)

const defaultRegion = "us-east-1"

// ErrNotFound reports a missing archived object.
var ErrNotFound = errors.New("archive: object not found")

// Object names written per run.
const (
	OriginalObject = "original.json"
	ScrubbedObject = "scrubbed.json"
)

// Store writes request bodies to a bucket.
type Store struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error
}

// New builds a store from the archive configuration.
func New(cfg config.ArchiveConfig) (*Store, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("archive: endpoint is not configured")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: client: %w", err)
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		region: region,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// PutOriginal archives the pre-rewrite body and returns its object key.
func (s *Store) PutOriginal(ctx context.Context, runID string, body []byte) (string, error) {
	return s.put(ctx, runID, OriginalObject, body)
}

// PutScrubbed archives the post-rewrite body next to the original.
func (s *Store) PutScrubbed(ctx context.Context, runID string, body []byte) (string, error) {
	return s.put(ctx, runID, ScrubbedObject, body)
}

func (s *Store) put(ctx context.Context, runID, name string, body []byte) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", fmt.Errorf("archive: run id is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("archive: ensure bucket: %w", err)
	}
	if body == nil {
		body = []byte{}
	}
	key := s.ObjectKey(runID, name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	return key, nil
}

// Get retrieves one archived object by run id and name.
func (s *Store) Get(ctx context.Context, runID, name string) ([]byte, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("archive: run id is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("archive: ensure bucket: %w", err)
	}
	key := s.ObjectKey(runID, name)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive: get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: read %s: %w", key, err)
	}
	return data, nil
}

// ObjectKey returns the bucket key for one archived file.
func (s *Store) ObjectKey(runID, name string) string {
	parts := make([]string, 0, 3)
	if s.prefix != "" {
		parts = append(parts, s.prefix)
	}
	parts = append(parts, strings.TrimSpace(runID), strings.TrimLeft(name, "/"))
	return strings.Join(parts, "/")
}
