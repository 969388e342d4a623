package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	treeline "github.com/treelinehq/treeline"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testTree() []treeline.Chunk {
	return []treeline.Chunk{
		{
			ID: "root", DocumentID: "doc", Level: 0, ChunkIndex: 0,
			Content:  "first half second half",
			ChildIDs: []string{"a", "b"},
			Metadata: map[string]string{"source": "test.md"},
		},
		{
			ID: "a", DocumentID: "doc", ParentID: "root", Level: 1, ChunkIndex: 1,
			Content:   "first half ",
			Embedding: []float32{0.25, -0.5, 0.125},
		},
		{
			ID: "b", DocumentID: "doc", ParentID: "root", Level: 1, ChunkIndex: 2,
			Content:   "second half",
			Embedding: []float32{-0.75, 0.5, 1},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t)

	want := testTree()
	if err := s.PutChunks(ctx, want); err != nil {
		t.Fatalf("PutChunks() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopen from disk; every field must survive byte-for-byte.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reopened.Close()

	for _, w := range want {
		got, err := reopened.GetChunk(ctx, w.ID)
		if err != nil {
			t.Fatalf("GetChunk(%s) error = %v", w.ID, err)
		}
		if got.Content != w.Content {
			t.Errorf("chunk %s content = %q, want %q", w.ID, got.Content, w.Content)
		}
		if got.Level != w.Level || got.ChunkIndex != w.ChunkIndex || got.ParentID != w.ParentID {
			t.Errorf("chunk %s fields = %+v, want %+v", w.ID, got, w)
		}
		if !reflect.DeepEqual(got.Embedding, w.Embedding) {
			t.Errorf("chunk %s embedding = %v, want %v", w.ID, got.Embedding, w.Embedding)
		}
		if !reflect.DeepEqual(got.Metadata, w.Metadata) {
			t.Errorf("chunk %s metadata = %v, want %v", w.ID, got.Metadata, w.Metadata)
		}
		if !reflect.DeepEqual(got.ChildIDs, w.ChildIDs) {
			t.Errorf("chunk %s children = %v, want %v", w.ID, got.ChildIDs, w.ChildIDs)
		}
	}
}

func TestPutChunksRejectsDuplicateBatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.PutChunks(ctx, testTree()); err != nil {
		t.Fatalf("PutChunks() error = %v", err)
	}
	before, err := s.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks() error = %v", err)
	}

	batch := []treeline.Chunk{
		{ID: "fresh", DocumentID: "doc", Level: 0, ChunkIndex: 3, Content: "new"},
		{ID: "a", DocumentID: "doc", Level: 1, ChunkIndex: 4, Content: "dup"},
	}
	err = s.PutChunks(ctx, batch)
	var dupErr *treeline.DuplicateIDError
	if !errors.As(err, &dupErr) {
		t.Fatalf("PutChunks(dup) error = %v, want *DuplicateIDError", err)
	}
	if dupErr.ID != "a" {
		t.Errorf("duplicate id = %q, want %q", dupErr.ID, "a")
	}

	// The whole batch must roll back, including the fresh row.
	after, err := s.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks() error = %v", err)
	}
	if after != before {
		t.Errorf("chunk count changed %d -> %d, batch not transactional", before, after)
	}
}

func TestGetChunkNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetChunk(context.Background(), "missing")
	var nf *treeline.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("GetChunk(missing) error = %v, want *NotFoundError", err)
	}
}

func TestGetParent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.PutChunks(ctx, testTree()); err != nil {
		t.Fatalf("PutChunks() error = %v", err)
	}

	p, err := s.GetParent(ctx, "a")
	if err != nil {
		t.Fatalf("GetParent(a) error = %v", err)
	}
	if p == nil || p.ID != "root" {
		t.Errorf("GetParent(a) = %v, want root", p)
	}

	p, err = s.GetParent(ctx, "root")
	if err != nil {
		t.Fatalf("GetParent(root) error = %v", err)
	}
	if p != nil {
		t.Errorf("GetParent(root) = %v, want nil for top-level chunk", p)
	}

	_, err = s.GetParent(ctx, "missing")
	var nf *treeline.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("GetParent(missing) error = %v, want *NotFoundError", err)
	}
}

func TestGetChildrenOrdered(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.PutChunks(ctx, testTree()); err != nil {
		t.Fatalf("PutChunks() error = %v", err)
	}

	children, err := s.GetChildren(ctx, "root")
	if err != nil {
		t.Fatalf("GetChildren() error = %v", err)
	}
	if len(children) != 2 || children[0].ID != "a" || children[1].ID != "b" {
		t.Errorf("GetChildren(root) order = %v, want [a b]", children)
	}

	leafKids, err := s.GetChildren(ctx, "a")
	if err != nil {
		t.Fatalf("GetChildren(a) error = %v", err)
	}
	if len(leafKids) != 0 {
		t.Errorf("GetChildren(leaf) = %v, want empty", leafKids)
	}
}

func TestSearchLeavesRanksAndExcludesParents(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.PutChunks(ctx, testTree()); err != nil {
		t.Fatalf("PutChunks() error = %v", err)
	}

	// Query vector aligned with leaf "a"'s embedding.
	results, err := s.SearchLeaves(ctx, []float32{0.25, -0.5, 0.125}, 10)
	if err != nil {
		t.Fatalf("SearchLeaves() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SearchLeaves() returned %d, want 2 leaves (root excluded)", len(results))
	}
	if results[0].ID != "a" {
		t.Errorf("top result = %s, want a", results[0].ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not sorted by descending score: %v", results)
	}
	for _, r := range results {
		if r.ID == "root" {
			t.Errorf("non-leaf chunk surfaced in leaf search")
		}
	}

	capped, err := s.SearchLeaves(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("SearchLeaves(topK=1) error = %v", err)
	}
	if len(capped) != 1 {
		t.Errorf("SearchLeaves(topK=1) returned %d results", len(capped))
	}
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.PutChunks(ctx, testTree()); err != nil {
		t.Fatalf("PutChunks() error = %v", err)
	}

	total, err := s.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks() error = %v", err)
	}
	if total != 3 {
		t.Errorf("CountChunks() = %d, want 3", total)
	}
	leaves, err := s.CountLeaves(ctx)
	if err != nil {
		t.Fatalf("CountLeaves() error = %v", err)
	}
	if leaves != 2 {
		t.Errorf("CountLeaves() = %d, want 2", leaves)
	}
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.PutChunks(ctx, testTree()); err != nil {
		t.Fatalf("PutChunks() error = %v", err)
	}
	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	n, err := s.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountChunks() after DeleteAll = %d, want 0", n)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	var nf *treeline.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Open(missing) error = %v, want *NotFoundError", err)
	}
}

func TestOpenDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		chunk treeline.Chunk
	}{
		{
			"dangling parent",
			treeline.Chunk{ID: "orphan", DocumentID: "doc", ParentID: "ghost", Level: 1, ChunkIndex: 0,
				Content: "x", Embedding: []float32{1}},
		},
		{
			"leaf without embedding",
			treeline.Chunk{ID: "bare", DocumentID: "doc", Level: 0, ChunkIndex: 0, Content: "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "chunks.db")
			s, err := New(path)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := s.PutChunks(ctx, []treeline.Chunk{tt.chunk}); err != nil {
				t.Fatalf("PutChunks() error = %v", err)
			}
			s.Close()

			_, err = Open(path)
			var corrupt *treeline.CorruptStoreError
			if !errors.As(err, &corrupt) {
				t.Fatalf("Open() error = %v, want *CorruptStoreError", err)
			}
			if corrupt.Path != path {
				t.Errorf("corrupt path = %q, want %q", corrupt.Path, path)
			}
		})
	}
}

func TestDocumentRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Document(ctx)
	var nf *treeline.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Document() on empty store error = %v, want *NotFoundError", err)
	}

	want := treeline.Document{ID: "doc", Title: "My Doc", Source: "my_doc.pdf", CreatedAt: 1700000000}
	if err := s.SetDocument(ctx, want); err != nil {
		t.Fatalf("SetDocument() error = %v", err)
	}
	got, err := s.Document(ctx)
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if got != want {
		t.Errorf("Document() = %+v, want %+v", got, want)
	}
}
