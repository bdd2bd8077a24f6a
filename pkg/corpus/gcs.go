package corpus

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore serves gs://bucket/object URIs.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore builds a GCSStore from ambient Google credentials.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("corpus: gcs client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

func (s *GCSStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return nil, fmt.Errorf("corpus: not a gcs uri: %q", uri)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return nil, fmt.Errorf("corpus: malformed gcs uri: %q", uri)
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("corpus: gcs open %q: %w", uri, err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("corpus: gcs read %q: %w", uri, err)
	}
	return data, nil
}
