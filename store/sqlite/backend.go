package sqlite

import (
	"context"

	treeline "github.com/treelinehq/treeline"
)

var _ treeline.Backend = (*Backend)(nil)

// Backend implements treeline.Backend, handing out per-document SQLite
// stores.
type Backend struct {
	opts []StoreOption
}

// NewBackend creates a backend; opts apply to every store it opens.
func NewBackend(opts ...StoreOption) *Backend {
	return &Backend{opts: opts}
}

// Create makes a fresh store at path and records the document in it.
func (b *Backend) Create(ctx context.Context, path string, doc treeline.Document) (treeline.Store, error) {
	s, err := New(path, b.opts...)
	if err != nil {
		return nil, err
	}
	if err := s.SetDocument(ctx, doc); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Open loads an existing store, running the integrity check.
func (b *Backend) Open(ctx context.Context, path string) (treeline.Store, error) {
	return Open(path, b.opts...)
}
