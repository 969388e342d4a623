package ingest

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// maxHeadingLevel caps which headings open a new section. Deeper headings
// stay inside their parent section.
const maxHeadingLevel = 3

// splitMarkdownAware partitions text into segments of at most maxChars
// bytes, preferring markdown heading boundaries. Sections are cut at exact
// byte offsets and merged greedily, so the segments still concatenate back
// to the input. Text without headings falls through to splitToFit.
func splitMarkdownAware(text string, maxChars int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	offsets := headingOffsets(text)
	if len(offsets) == 0 {
		return splitToFit(text, maxChars)
	}

	var sections []string
	prev := 0
	for _, off := range offsets {
		if off <= prev {
			continue
		}
		sections = append(sections, text[prev:off])
		prev = off
	}
	if prev < len(text) {
		sections = append(sections, text[prev:])
	}

	return packSections(sections, maxChars)
}

// packSections merges adjacent sections up to maxChars and splits any
// single oversize section. Adjacency is preserved, so concatenating the
// result reproduces the concatenation of the input.
func packSections(sections []string, maxChars int) []string {
	var out []string
	var current string
	for _, sec := range sections {
		if len(sec) > maxChars {
			if current != "" {
				out = append(out, current)
				current = ""
			}
			out = append(out, splitToFit(sec, maxChars)...)
			continue
		}
		if len(current)+len(sec) <= maxChars {
			current += sec
			continue
		}
		if current != "" {
			out = append(out, current)
		}
		current = sec
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

// headingOffsets parses the text as markdown and returns the byte offsets
// of heading line starts, in document order.
func headingOffsets(src string) []int {
	source := []byte(src)
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(source))

	var offsets []int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level > maxHeadingLevel || h.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		start := h.Lines().At(0).Start
		// Lines cover the heading text; back up over the "# " markers to
		// the start of the line.
		for start > 0 && source[start-1] != '\n' {
			start--
		}
		offsets = append(offsets, start)
		return ast.WalkSkipChildren, nil
	})
	return offsets
}
