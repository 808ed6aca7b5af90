// Package storage stages normalized audio in durable object storage so the
// recognition backend can read it by locator.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"transcript-pipeline/internal/domain"
	. "transcript-pipeline/internal/logging"
)

// OpenFunc opens a bucket from a gocloud URL such as gs://bucket.
type OpenFunc func(ctx context.Context, urlstr string) (*blob.Bucket, error)

// Stager uploads local files to buckets. Buckets are opened once per
// namespace and reused until Close.
type Stager struct {
	open OpenFunc

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewStager returns a stager that opens buckets with blob.OpenBucket.
func NewStager() *Stager {
	return NewStagerWithOpener(blob.OpenBucket)
}

// NewStagerWithOpener returns a stager with a custom bucket opener.
func NewStagerWithOpener(open OpenFunc) *Stager {
	return &Stager{
		open:    open,
		buckets: make(map[string]*blob.Bucket),
	}
}

// Upload copies localPath to namespace/key, overwriting any existing object.
func (s *Stager) Upload(ctx context.Context, localPath, namespace, key string) (domain.StagedRef, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return domain.StagedRef{}, fmt.Errorf("%w: object key is required", domain.ErrUpload)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return domain.StagedRef{}, fmt.Errorf("%w: open %s: %w", domain.ErrUpload, localPath, err)
	}
	defer f.Close()

	bucket, err := s.bucket(ctx, namespace)
	if err != nil {
		return domain.StagedRef{}, err
	}

	uri, err := ObjectURI(namespace, key)
	if err != nil {
		return domain.StagedRef{}, fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}

	started := time.Now()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "audio/wav"})
	if err != nil {
		return domain.StagedRef{}, fmt.Errorf("%w: create object %s: %w", domain.ErrUpload, uri, err)
	}
	n, copyErr := io.Copy(w, f)
	closeErr := w.Close()
	if copyErr != nil {
		return domain.StagedRef{}, fmt.Errorf("%w: write object %s: %w", domain.ErrUpload, uri, copyErr)
	}
	if closeErr != nil {
		return domain.StagedRef{}, fmt.Errorf("%w: commit object %s: %w", domain.ErrUpload, uri, closeErr)
	}

	L_elapsed(started, "storage: staged object", "uri", uri, "bytes", n)
	return domain.StagedRef{Namespace: namespace, Key: key, URI: uri}, nil
}

// Delete removes a staged object.
func (s *Stager) Delete(ctx context.Context, ref domain.StagedRef) error {
	bucket, err := s.bucket(ctx, ref.Namespace)
	if err != nil {
		return err
	}
	if err := bucket.Delete(ctx, ref.Key); err != nil {
		return fmt.Errorf("delete %s: %w", ref.URI, err)
	}
	L_debug("storage: deleted object", "uri", ref.URI)
	return nil
}

// Check reports whether namespace can be opened and is accessible.
func (s *Stager) Check(ctx context.Context, namespace string) error {
	bucket, err := s.bucket(ctx, namespace)
	if err != nil {
		return err
	}
	ok, err := bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %w", domain.ErrUpload, namespace, err)
	}
	if !ok {
		return fmt.Errorf("%w: bucket %s is not accessible", domain.ErrUpload, namespace)
	}
	return nil
}

// Close releases every cached bucket.
func (s *Stager) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for ns, bucket := range s.buckets {
		if err := bucket.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close bucket %s: %w", ns, err)
		}
		delete(s.buckets, ns)
	}
	return firstErr
}

func (s *Stager) bucket(ctx context.Context, namespace string) (*blob.Bucket, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, fmt.Errorf("%w: storage bucket is not configured", domain.ErrUpload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bucket, ok := s.buckets[namespace]; ok {
		return bucket, nil
	}
	bucket, err := s.open(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: open bucket %s: %w", domain.ErrUpload, namespace, err)
	}
	s.buckets[namespace] = bucket
	return bucket, nil
}

// ObjectURI builds the locator for key inside namespace. Query parameters of
// the bucket URL are dropped, so gs://bucket?x=y with key a.wav gives
// gs://bucket/a.wav.
func ObjectURI(namespace, key string) (string, error) {
	u, err := url.Parse(namespace)
	if err != nil {
		return "", fmt.Errorf("parse bucket url %q: %w", namespace, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("bucket url %q has no scheme", namespace)
	}
	return (&url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   path.Join("/", u.Path, key),
	}).String(), nil
}
