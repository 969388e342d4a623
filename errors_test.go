package treeline

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ConfigError{Reason: "chunk sizes must be strictly decreasing"}, "config: chunk sizes must be strictly decreasing"},
		{&NotFoundError{Kind: "document", ID: "paper_1"}, `document "paper_1" not found`},
		{&NotFoundError{Kind: "chunk", ID: "abc"}, `chunk "abc" not found`},
		{&DuplicateIDError{ID: "abc"}, `duplicate id "abc"`},
		{&CorruptStoreError{Path: "/data/x", Reason: "dangling parent"}, "corrupt store at /data/x: dangling parent"},
		{&ErrHTTP{Status: 429, Body: "too many requests"}, "http 429: too many requests"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestExternalServiceErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ExternalServiceError{Service: "embedding", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	wrapped := fmt.Errorf("ingest: %w", err)
	var ese *ExternalServiceError
	if !errors.As(wrapped, &ese) {
		t.Fatal("errors.As should match through wrapping")
	}
	if ese.Service != "embedding" {
		t.Errorf("Service = %q, want %q", ese.Service, "embedding")
	}
}
