package ingest

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	treeline "github.com/treelinehq/treeline"
)

// BuilderOption configures a HierarchyBuilder.
type BuilderOption func(*builderConfig)

type builderConfig struct {
	logger *slog.Logger
}

// WithBuilderLogger sets a structured logger for the builder.
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(c *builderConfig) { c.logger = l }
}

// HierarchyBuilder splits document text into a multi-level chunk tree.
// Level 0 holds the coarsest chunks; each level down re-splits any chunk
// that exceeds the next size. Children partition their parent's text
// exactly, so concatenating a parent's children reproduces the parent.
type HierarchyBuilder struct {
	sizes  []int
	logger *slog.Logger
}

// NewHierarchyBuilder creates a builder for the given size ladder. Sizes
// are maximum characters per level and must be non-empty, positive, and
// strictly decreasing, e.g. [1024, 512, 256].
func NewHierarchyBuilder(sizes []int, opts ...BuilderOption) (*HierarchyBuilder, error) {
	if len(sizes) == 0 {
		return nil, &treeline.ConfigError{Reason: "chunk sizes must not be empty"}
	}
	for i, s := range sizes {
		if s <= 0 {
			return nil, &treeline.ConfigError{Reason: fmt.Sprintf("chunk size at level %d must be positive, got %d", i, s)}
		}
		if i > 0 && s >= sizes[i-1] {
			return nil, &treeline.ConfigError{Reason: fmt.Sprintf("chunk sizes must be strictly decreasing, got %d then %d", sizes[i-1], s)}
		}
	}

	cfg := builderConfig{logger: treeline.NopLogger()}
	for _, o := range opts {
		o(&cfg)
	}
	return &HierarchyBuilder{sizes: append([]int(nil), sizes...), logger: cfg.logger}, nil
}

// Build splits text into a chunk hierarchy for the given document. The text
// is NFC-normalized first; level 0 splits on markdown headings where
// present. A chunk already at or under the next level's size stays a leaf
// at its current level. Empty or whitespace-only text yields zero chunks
// and no error.
func (b *HierarchyBuilder) Build(docID, text string, meta map[string]string) ([]treeline.Chunk, error) {
	text = norm.NFC.String(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var (
		chunks []treeline.Chunk
		index  int
	)
	for _, content := range splitMarkdownAware(text, b.sizes[0]) {
		chunks = append(chunks, b.newChunk(docID, "", 0, &index, content, meta))
	}

	// Breadth-first over the growing slice; children appended during the
	// walk get visited in turn.
	for i := 0; i < len(chunks); i++ {
		level := chunks[i].Level
		if level+1 >= len(b.sizes) {
			continue
		}
		nextSize := b.sizes[level+1]
		if len(chunks[i].Content) <= nextSize {
			continue // short enough, terminates as a leaf at this level
		}
		for _, part := range splitToFit(chunks[i].Content, nextSize) {
			child := b.newChunk(docID, chunks[i].ID, level+1, &index, part, meta)
			chunks = append(chunks, child)
			chunks[i].ChildIDs = append(chunks[i].ChildIDs, child.ID)
		}
	}

	b.logger.Debug("treeline: built chunk hierarchy",
		"document_id", docID,
		"levels", len(b.sizes),
		"chunks", len(chunks),
		"leaves", len(Leaves(chunks)))
	return chunks, nil
}

func (b *HierarchyBuilder) newChunk(docID, parentID string, level int, index *int, content string, meta map[string]string) treeline.Chunk {
	c := treeline.Chunk{
		ID:         treeline.NewID(),
		DocumentID: docID,
		ParentID:   parentID,
		Level:      level,
		ChunkIndex: *index,
		Content:    content,
	}
	*index++
	if len(meta) > 0 {
		c.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			c.Metadata[k] = v
		}
	}
	return c
}

// Leaves returns the chunks that have no children, in input order.
func Leaves(chunks []treeline.Chunk) []treeline.Chunk {
	var leaves []treeline.Chunk
	for _, c := range chunks {
		if c.IsLeaf() {
			leaves = append(leaves, c)
		}
	}
	return leaves
}
