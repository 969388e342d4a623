package ingest

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

var _ Extractor = (*HTMLExtractor)(nil)

// HTMLExtractor extracts the readable article content from an HTML page.
type HTMLExtractor struct{}

// NewHTMLExtractor creates an HTML extractor.
func NewHTMLExtractor() *HTMLExtractor { return &HTMLExtractor{} }

// Extract runs readability extraction over the HTML. A page with no
// readable text is an error.
func (e *HTMLExtractor) Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty HTML content")
	}
	// Local content has no origin; a placeholder base resolves relative
	// links inside the parser.
	base := &url.URL{Scheme: "file", Path: "/"}
	article, err := readability.FromReader(bytes.NewReader(content), base)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("html contains no readable text")
	}
	return normalizeNewlines(text), nil
}
