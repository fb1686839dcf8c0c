package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore is a Google Cloud Storage backend
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// GCSOptions configures the GCS client
type GCSOptions struct {
	Bucket          string
	Project         string
	CredentialsFile string
}

// NewGCSStore creates a GCS backend. Without a credentials file the client
// uses application default credentials.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Project != "" {
		clientOpts = append(clientOpts, option.WithQuotaProject(opts.Project))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(opts.Bucket),
		name:   opts.Bucket,
	}, nil
}

// Close releases the client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Exists reports whether the object exists
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", s.name, key, err)
	}
	return true, nil
}

// Upload writes the object from r
func (s *GCSStore) Upload(ctx context.Context, key string, r io.Reader, attrs Attrs) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.CacheControl = attrs.CacheControl

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.name, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", s.name, key, err)
	}
	return nil
}

// Download copies the object into w
func (s *GCSStore) Download(ctx context.Context, key string, w io.Writer) error {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to open gs://%s/%s: %w", s.name, key, err)
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to read gs://%s/%s: %w", s.name, key, err)
	}
	return nil
}

// List returns the object names under prefix
func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", s.name, prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
