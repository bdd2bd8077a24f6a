// Package corpus fetches corpus bytes by URI and verifies them against
// the frozen digest. The gated engine never parses corpus content — it
// stores a digest and hands verified bytes to external consumers, so
// this package is deliberately a thin, verifying fetch layer.
package corpus

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/covenantlabs/covenant/pkg/canonical"
	"github.com/covenantlabs/covenant/pkg/fault"
)

// Store fetches raw corpus bytes by URI.
type Store interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetchVerified fetches uri through s and hard-fails unless the bytes
// hash to expectedDigest. A digest mismatch means the storage layer
// returned something other than the committed corpus; the bytes are
// discarded, never returned.
func FetchVerified(ctx context.Context, s Store, uri, expectedDigest string) ([]byte, error) {
	const op = "corpus.FetchVerified"

	data, err := s.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if got := canonical.DigestBytes(data); got != expectedDigest {
		return nil, fault.Preconditionf(op, "digest mismatch for %q: got %s", uri, got)
	}
	return data, nil
}

// FSStore serves file:// URIs and bare paths rooted under a directory.
type FSStore struct {
	Root string
}

func (s *FSStore) Fetch(_ context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "file://")
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %q: %w", path, err)
	}
	return data, nil
}

// Router dispatches to a Store by URI scheme.
type Router struct {
	stores map[string]Store
}

// NewRouter builds a Router over scheme → store bindings.
func NewRouter(bindings map[string]Store) *Router {
	stores := make(map[string]Store, len(bindings))
	for scheme, s := range bindings {
		stores[scheme] = s
	}
	return &Router{stores: stores}
}

func (r *Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("corpus: parse uri %q: %w", uri, err)
	}
	s, ok := r.stores[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("corpus: no store registered for scheme %q", u.Scheme)
	}
	return s.Fetch(ctx, uri)
}
