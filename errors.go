package treeline

import (
	"fmt"
	"time"
)

// ConfigError reports an invalid configuration value, such as a chunk-size
// ladder that is not strictly decreasing. It is returned before any
// processing starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// NotFoundError reports a missing document or chunk.
type NotFoundError struct {
	Kind string // "document" or "chunk"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// DuplicateIDError reports an id collision during ingestion.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate id %q", e.ID)
}

// ExternalServiceError wraps a failure from a parsing, embedding, or
// generation collaborator. The underlying cause is preserved and never
// swallowed; retry policy, if any, belongs to the transport layer.
type ExternalServiceError struct {
	Service string // "embedding", "generation", "parser"
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// CorruptStoreError reports persisted data that fails invariant checks on
// load: a dangling parent reference or a leaf chunk without an embedding.
type CorruptStoreError struct {
	Path   string
	Reason string
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt store at %s: %s", e.Path, e.Reason)
}

// ErrHTTP is returned by providers when a remote API responds with a
// non-2xx status. RetryAfter carries the parsed Retry-After header when
// the server sent one.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
