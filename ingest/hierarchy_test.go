package ingest

import (
	"errors"
	"strings"
	"testing"

	treeline "github.com/treelinehq/treeline"
)

func TestNewHierarchyBuilderValidation(t *testing.T) {
	tests := []struct {
		name    string
		sizes   []int
		wantErr bool
	}{
		{"valid ladder", []int{1024, 512, 256}, false},
		{"single level", []int{512}, false},
		{"empty", nil, true},
		{"zero size", []int{1024, 0}, true},
		{"negative size", []int{1024, -5}, true},
		{"not decreasing", []int{512, 512}, true},
		{"increasing", []int{256, 512}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHierarchyBuilder(tt.sizes)
			if tt.wantErr {
				var cfgErr *treeline.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("NewHierarchyBuilder(%v) error = %v, want *ConfigError", tt.sizes, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewHierarchyBuilder(%v) error = %v", tt.sizes, err)
			}
		})
	}
}

func TestBuildEmptyText(t *testing.T) {
	b, err := NewHierarchyBuilder([]int{1024, 512, 256})
	if err != nil {
		t.Fatalf("NewHierarchyBuilder() error = %v", err)
	}
	for _, text := range []string{"", "   \n\t  "} {
		chunks, err := b.Build("doc", text, nil)
		if err != nil {
			t.Errorf("Build(%q) error = %v, want nil", text, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Build(%q) = %d chunks, want 0", text, len(chunks))
		}
	}
}

func TestBuildThreeLevels(t *testing.T) {
	// A 3000-char document against [1024, 512, 256] must produce chunks
	// at all three levels.
	text := strings.Repeat("The system processes documents in stages. Each stage refines the output of the one before. ", 33)
	if len(text) < 3000 {
		t.Fatalf("test document too short: %d", len(text))
	}

	b, err := NewHierarchyBuilder([]int{1024, 512, 256})
	if err != nil {
		t.Fatalf("NewHierarchyBuilder() error = %v", err)
	}
	chunks, err := b.Build("doc", text, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	byLevel := map[int]int{}
	for _, c := range chunks {
		byLevel[c.Level]++
	}
	for level := 0; level < 3; level++ {
		if byLevel[level] == 0 {
			t.Errorf("no chunks at level %d, distribution %v", level, byLevel)
		}
	}
	for _, c := range chunks {
		if c.Level < 0 || c.Level > 2 {
			t.Errorf("chunk %s has level %d outside ladder", c.ID, c.Level)
		}
	}
}

func TestBuildChildrenPartitionParent(t *testing.T) {
	text := strings.Repeat("Hierarchies preserve their text. Children concatenate to parents. ", 50)
	b, err := NewHierarchyBuilder([]int{1024, 512, 256})
	if err != nil {
		t.Fatalf("NewHierarchyBuilder() error = %v", err)
	}
	chunks, err := b.Build("doc", text, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	byID := make(map[string]treeline.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	for _, c := range chunks {
		if c.IsLeaf() {
			continue
		}
		var joined strings.Builder
		for _, childID := range c.ChildIDs {
			child, ok := byID[childID]
			if !ok {
				t.Fatalf("chunk %s references missing child %s", c.ID, childID)
			}
			if child.ParentID != c.ID {
				t.Errorf("child %s has ParentID %q, want %q", childID, child.ParentID, c.ID)
			}
			if child.Level != c.Level+1 {
				t.Errorf("child %s at level %d under parent level %d", childID, child.Level, c.Level)
			}
			joined.WriteString(child.Content)
		}
		if joined.String() != c.Content {
			t.Errorf("children of %s do not reconstruct parent text", c.ID)
		}
	}

	// Level-0 chunks together reconstruct the whole document.
	var whole strings.Builder
	for _, c := range chunks {
		if c.Level == 0 {
			whole.WriteString(c.Content)
		}
	}
	if whole.String() != text {
		t.Errorf("level-0 chunks do not reconstruct the document")
	}
}

func TestBuildShortChunkTerminatesEarly(t *testing.T) {
	// Three markdown sections: two near the level-0 limit, one tiny. The
	// tiny section cannot merge into its neighbor without overflowing, so
	// it becomes a level-0 chunk under the next size and must stay a leaf.
	body := strings.Repeat("Alpha beta gamma delta. ", 16)
	text := "# One\n\n" + body + "\n\n" +
		"# Two\n\n" + body + "\n\n" +
		"# Three\n\nDone."

	b, err := NewHierarchyBuilder([]int{400, 100})
	if err != nil {
		t.Fatalf("NewHierarchyBuilder() error = %v", err)
	}
	chunks, err := b.Build("doc", text, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	foundEarlyLeaf := false
	for _, c := range chunks {
		if c.Level == 0 && c.IsLeaf() {
			if len(c.Content) > 100 {
				t.Errorf("level-0 leaf is %d bytes, should have been split", len(c.Content))
			}
			foundEarlyLeaf = true
		}
	}
	if !foundEarlyLeaf {
		t.Errorf("no early-terminated leaf at level 0 among %d chunks", len(chunks))
	}
}

func TestBuildChunkIndexIsCreationOrder(t *testing.T) {
	text := strings.Repeat("Index ordering must be stable across the document. ", 40)
	b, err := NewHierarchyBuilder([]int{512, 128})
	if err != nil {
		t.Fatalf("NewHierarchyBuilder() error = %v", err)
	}
	chunks, err := b.Build("doc", text, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has ChunkIndex %d", i, c.ChunkIndex)
		}
	}
}

func TestBuildCopiesMetadata(t *testing.T) {
	meta := map[string]string{"source": "spec.pdf"}
	b, err := NewHierarchyBuilder([]int{128})
	if err != nil {
		t.Fatalf("NewHierarchyBuilder() error = %v", err)
	}
	chunks, err := b.Build("doc", "some document text", meta)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks built")
	}
	meta["source"] = "mutated"
	for _, c := range chunks {
		if c.Metadata["source"] != "spec.pdf" {
			t.Errorf("chunk metadata = %v, want independent copy", c.Metadata)
		}
		if c.DocumentID != "doc" {
			t.Errorf("chunk DocumentID = %q", c.DocumentID)
		}
	}
}

func TestLeaves(t *testing.T) {
	chunks := []treeline.Chunk{
		{ID: "p", ChildIDs: []string{"a", "b"}},
		{ID: "a", ParentID: "p"},
		{ID: "b", ParentID: "p"},
	}
	leaves := Leaves(chunks)
	if len(leaves) != 2 || leaves[0].ID != "a" || leaves[1].ID != "b" {
		t.Errorf("Leaves() = %v, want [a b]", leaves)
	}
}
