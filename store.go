package treeline

import "context"

// Store is the durable chunk store for a single document, including the
// similarity index over its leaf chunks.
//
// A store is written exactly once at ingestion time and is read-only until
// the whole document is deleted; implementations must support fully
// parallel reads. The parent→children relation is derived from the chunks'
// ParentID fields on insert, never maintained as a separately mutable
// structure.
type Store interface {
	// PutChunks inserts a batch of chunks. If any id already exists the
	// whole batch is rejected with a *DuplicateIDError.
	PutChunks(ctx context.Context, chunks []Chunk) error

	// GetChunk returns the chunk with the given id, or *NotFoundError.
	GetChunk(ctx context.Context, id string) (Chunk, error)

	// GetParent returns the parent of the given chunk, or nil for a
	// top-level chunk. The chunk id itself must exist.
	GetParent(ctx context.Context, id string) (*Chunk, error)

	// GetChildren returns all chunks whose ParentID equals id, in
	// creation order. A leaf id yields an empty slice.
	GetChildren(ctx context.Context, id string) ([]Chunk, error)

	// SearchLeaves returns the topK leaf chunks ranked by descending
	// similarity to the query embedding. Only leaf chunks are searchable.
	SearchLeaves(ctx context.Context, embedding []float32, topK int) ([]ScoredChunk, error)

	// CountChunks returns the total number of chunks in the store.
	CountChunks(ctx context.Context) (int, error)

	// CountLeaves returns the number of leaf chunks in the store.
	CountLeaves(ctx context.Context) (int, error)

	// DeleteAll removes every chunk and the backing leaf index.
	// Irreversible.
	DeleteAll(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
