// Package ingest turns raw document files into hierarchical chunk trees:
// extractors convert PDF, HTML, markdown, and plain text into text, and the
// HierarchyBuilder splits that text into a multi-level chunk hierarchy whose
// leaves are ready for embedding.
package ingest

import (
	"fmt"
	"strings"
)

// Extractor converts raw file content to text.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// ExtractResult holds extracted text and optional per-page metadata.
type ExtractResult struct {
	Text string
	Meta []PageMeta
}

// PageMeta marks the byte range in ExtractResult.Text covered by one page
// of the source document.
type PageMeta struct {
	PageNumber int
	StartByte  int
	EndByte    int
}

// MetadataExtractor is an optional capability for extractors that produce
// page metadata alongside text.
type MetadataExtractor interface {
	ExtractWithMeta(content []byte) (ExtractResult, error)
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypePDF       ContentType = "application/pdf"
)

// ContentTypeFromExtension maps a file extension (without dot) to a content
// type. Unknown extensions are treated as plain text.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(ext) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "pdf":
		return TypePDF
	default:
		return TypePlainText
	}
}

// ExtractorFor returns the extractor for a content type.
func ExtractorFor(ct ContentType) Extractor {
	switch ct {
	case TypePDF:
		return NewPDFExtractor()
	case TypeHTML:
		return NewHTMLExtractor()
	case TypeMarkdown:
		return MarkdownExtractor{}
	default:
		return PlainTextExtractor{}
	}
}

// PlainTextExtractor returns content as-is with normalized line endings.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty content")
	}
	return normalizeNewlines(string(content)), nil
}

// MarkdownExtractor passes markdown through unchanged apart from line
// endings. Heading structure is preserved so the hierarchy builder can
// split on it.
type MarkdownExtractor struct{}

func (MarkdownExtractor) Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty content")
	}
	return normalizeNewlines(string(content)), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
