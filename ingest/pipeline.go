package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	treeline "github.com/treelinehq/treeline"
)

var _ treeline.Ingestor = (*Pipeline)(nil)

// Pipeline implements treeline.Ingestor: it picks an extractor from the
// filename, extracts text, and builds the chunk hierarchy.
type Pipeline struct {
	builder *HierarchyBuilder
	logger  *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets a structured logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline with the given chunk size ladder. Sizes
// follow the HierarchyBuilder rules.
func NewPipeline(sizes []int, opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{logger: treeline.NopLogger()}
	for _, o := range opts {
		o(p)
	}
	builder, err := NewHierarchyBuilder(sizes, WithBuilderLogger(p.logger))
	if err != nil {
		return nil, err
	}
	p.builder = builder
	return p, nil
}

// Ingest extracts text from the file content and returns the document's
// chunk hierarchy. Extraction failures and unreadable content are reported
// as errors; whitespace-only text yields zero chunks.
func (p *Pipeline) Ingest(ctx context.Context, docID, filename string, content []byte) ([]treeline.Chunk, error) {
	ct := ContentTypeFromExtension(strings.TrimPrefix(filepath.Ext(filename), "."))
	extractor := ExtractorFor(ct)

	meta := map[string]string{"source": filename}
	var text string
	if me, ok := extractor.(MetadataExtractor); ok {
		result, err := me.ExtractWithMeta(content)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", filename, err)
		}
		text = result.Text
		if len(result.Meta) > 0 {
			meta["pages"] = strconv.Itoa(len(result.Meta))
		}
	} else {
		var err error
		text, err = extractor.Extract(content)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", filename, err)
		}
	}

	p.logger.Debug("treeline: extracted document",
		"document_id", docID,
		"content_type", string(ct),
		"chars", len(text))
	return p.builder.Build(docID, text, meta)
}
