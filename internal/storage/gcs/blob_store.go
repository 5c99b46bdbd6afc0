// Package gcs stores downloaded assets in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// assetCacheControl lets readers cache chapter pages for a day.
const assetCacheControl = "public, max-age=86400"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
}

// BlobStore writes assets to a configured GCS bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// objectKey places name under the configured prefix. A trailing slash
// survives so that "manga/alpha/" never matches "manga/alpha-2/...".
func (s *BlobStore) objectKey(name string) string {
	name = strings.TrimLeft(name, "/")
	if s.prefix == "" {
		return name
	}
	key := path.Join(s.prefix, name)
	if strings.HasSuffix(name, "/") {
		key += "/"
	}
	return key
}

// PutObject uploads data and returns a gs:// URI. A failed copy aborts the
// upload instead of committing a truncated object.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("gcs: object path is required")
	}
	key := s.objectKey(name)

	uploadCtx, abort := context.WithCancel(ctx)
	defer abort()
	w := s.bucket.Object(key).NewWriter(uploadCtx)
	w.ContentType = contentType
	w.CacheControl = assetCacheControl

	if _, err := io.Copy(w, r); err != nil {
		abort()
		_ = w.Close()
		return "", fmt.Errorf("gcs: upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: commit %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, key), nil
}

// DeletePrefix removes every object under prefix. Directory-like prefixes
// are matched on whole path segments.
func (s *BlobStore) DeletePrefix(ctx context.Context, prefix string) error {
	if strings.Trim(prefix, "/ ") == "" {
		return errors.New("gcs: prefix is required")
	}
	if !strings.HasSuffix(prefix, "/") && path.Ext(prefix) == "" {
		prefix += "/"
	}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.objectKey(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gcs: list %s: %w", prefix, err)
		}
		err = s.bucket.Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gcs: delete %s: %w", attrs.Name, err)
		}
	}
}
