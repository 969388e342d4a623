package ingest

import (
	"context"
	"strings"
	"testing"
)

func TestPipelineIngestMarkdown(t *testing.T) {
	p, err := NewPipeline([]int{256, 64})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	doc := "# Guide\n\n" + strings.Repeat("Useful guidance sentence here. ", 20)
	chunks, err := p.Ingest(context.Background(), "guide", "guide.md", []byte(doc))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("Ingest() produced no chunks")
	}
	for _, c := range chunks {
		if c.DocumentID != "guide" {
			t.Errorf("chunk document id = %q", c.DocumentID)
		}
		if c.Metadata["source"] != "guide.md" {
			t.Errorf("chunk metadata = %v, want source recorded", c.Metadata)
		}
	}
}

func TestPipelineIngestEmptyFile(t *testing.T) {
	p, err := NewPipeline([]int{256})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	if _, err := p.Ingest(context.Background(), "doc", "doc.txt", nil); err == nil {
		t.Error("Ingest(empty file) should fail at extraction")
	}
}

func TestPipelineInvalidSizes(t *testing.T) {
	if _, err := NewPipeline([]int{100, 200}); err == nil {
		t.Error("NewPipeline(increasing sizes) should fail")
	}
}

func TestPipelineWhitespaceOnly(t *testing.T) {
	p, err := NewPipeline([]int{256})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	chunks, err := p.Ingest(context.Background(), "doc", "doc.txt", []byte("   \n\t  "))
	if err != nil {
		t.Fatalf("Ingest(whitespace) error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("Ingest(whitespace) = %d chunks, want 0", len(chunks))
	}
}
