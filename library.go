package treeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// storeFileName is the chunk store file inside each document directory.
const storeFileName = "chunks.db"

// Ingestor turns a raw document file into its chunk hierarchy.
// Implemented by ingest.Pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, docID, filename string, content []byte) ([]Chunk, error)
}

// Backend creates and opens per-document chunk stores.
// Implemented by store/sqlite.Backend.
type Backend interface {
	// Create makes a fresh store at path and records the document.
	Create(ctx context.Context, path string, doc Document) (Store, error)
	// Open loads an existing store, verifying its integrity.
	Open(ctx context.Context, path string) (Store, error)
}

// IngestResult reports what one ingestion produced.
type IngestResult struct {
	Document Document `json:"document"`
	Chunks   int      `json:"chunks"`
	Leaves   int      `json:"leaves"`
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithLogger sets a structured logger for the library.
func WithLogger(l *slog.Logger) LibraryOption {
	return func(lib *Library) { lib.logger = l }
}

// WithRetrieverOptions forwards options to the per-query retriever.
func WithRetrieverOptions(opts ...RetrieverOption) LibraryOption {
	return func(lib *Library) { lib.retrieverOpts = opts }
}

// WithSynthesizerOptions forwards options to the synthesizer.
func WithSynthesizerOptions(opts ...SynthesizerOption) LibraryOption {
	return func(lib *Library) { lib.synthOpts = opts }
}

// WithEmbedBatchSize sets how many leaf texts go into one embedding
// request. Default is 32.
func WithEmbedBatchSize(n int) LibraryOption {
	return func(lib *Library) { lib.embedBatchSize = n }
}

// WithEmbedConcurrency caps concurrent embedding requests during one
// ingestion. Default is 4.
func WithEmbedConcurrency(n int) LibraryOption {
	return func(lib *Library) { lib.embedConcurrency = n }
}

// Library owns a data directory of ingested documents, one subdirectory
// per document id, and answers questions against them.
//
// Stores open lazily on first query and stay cached until the document is
// deleted. Ingestion builds the store in a temporary directory and
// publishes it with an atomic rename, so readers never observe a
// half-written document.
type Library struct {
	dataDir   string
	ingestor  Ingestor
	backend   Backend
	provider  Provider
	embedding EmbeddingProvider

	logger           *slog.Logger
	retrieverOpts    []RetrieverOption
	synthOpts        []SynthesizerOption
	embedBatchSize   int
	embedConcurrency int

	synth *Synthesizer

	mu     sync.Mutex
	stores map[string]Store

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewLibrary creates a library rooted at dataDir, creating the directory
// if needed.
func NewLibrary(dataDir string, ingestor Ingestor, backend Backend, provider Provider, embedding EmbeddingProvider, opts ...LibraryOption) (*Library, error) {
	lib := &Library{
		dataDir:          dataDir,
		ingestor:         ingestor,
		backend:          backend,
		provider:         provider,
		embedding:        embedding,
		logger:           NopLogger(),
		embedBatchSize:   32,
		embedConcurrency: 4,
		stores:           make(map[string]Store),
		locks:            make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(lib)
	}
	if lib.embedBatchSize <= 0 || lib.embedConcurrency <= 0 {
		return nil, &ConfigError{Reason: "embed batch size and concurrency must be positive"}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	synth, err := NewSynthesizer(provider, lib.synthOpts...)
	if err != nil {
		return nil, err
	}
	lib.synth = synth
	return lib, nil
}

// Ingest processes one document: extract, build the hierarchy, embed the
// leaves, and publish the store. name becomes the document id (lowercase,
// spaces to underscores); filename only selects the extractor. Re-ingesting
// an existing id returns *DuplicateIDError.
func (lib *Library) Ingest(ctx context.Context, name, filename string, content []byte) (IngestResult, error) {
	docID := DocumentID(name)
	if err := validateDocID(docID); err != nil {
		return IngestResult{}, err
	}

	unlock := lib.lockDoc(docID)
	defer unlock()

	dir := filepath.Join(lib.dataDir, docID)
	if _, err := os.Stat(dir); err == nil {
		return IngestResult{}, &DuplicateIDError{ID: docID}
	}

	chunks, err := lib.ingestor.Ingest(ctx, docID, filename, content)
	if err != nil {
		return IngestResult{}, err
	}
	if len(chunks) == 0 {
		return IngestResult{}, &ConfigError{Reason: fmt.Sprintf("document %q contains no text", name)}
	}

	leaves := 0
	for i := range chunks {
		if chunks[i].IsLeaf() {
			leaves++
		}
	}
	if err := lib.embedLeaves(ctx, chunks); err != nil {
		return IngestResult{}, err
	}

	doc := Document{ID: docID, Title: name, Source: filename, CreatedAt: NowUnix()}
	if err := lib.publish(ctx, dir, doc, chunks); err != nil {
		return IngestResult{}, err
	}

	lib.logger.Info("treeline: document ingested",
		"document_id", docID,
		"chunks", len(chunks),
		"leaves", leaves)
	return IngestResult{Document: doc, Chunks: len(chunks), Leaves: leaves}, nil
}

// embedLeaves fills in the Embedding field of every leaf chunk, batching
// requests and running them concurrently.
func (lib *Library) embedLeaves(ctx context.Context, chunks []Chunk) error {
	var leafIdx []int
	for i := range chunks {
		if chunks[i].IsLeaf() {
			leafIdx = append(leafIdx, i)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(lib.embedConcurrency)

	for start := 0; start < len(leafIdx); start += lib.embedBatchSize {
		batch := leafIdx[start:min(start+lib.embedBatchSize, len(leafIdx))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = chunks[idx].Content
			}
			vecs, err := lib.embedding.Embed(ctx, texts)
			if err != nil {
				return &ExternalServiceError{Service: "embedding", Err: err}
			}
			if len(vecs) != len(batch) {
				return &ExternalServiceError{
					Service: "embedding",
					Err:     fmt.Errorf("got %d vectors for %d texts", len(vecs), len(batch)),
				}
			}
			for i, idx := range batch {
				chunks[idx].Embedding = vecs[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// publish writes the store into a sibling .tmp directory and atomically
// renames it into place.
func (lib *Library) publish(ctx context.Context, dir string, doc Document, chunks []Chunk) error {
	tmp := dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clear tmp dir: %w", err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}
	defer os.RemoveAll(tmp) // no-op after a successful rename

	store, err := lib.backend.Create(ctx, filepath.Join(tmp, storeFileName), doc)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if err := store.PutChunks(ctx, chunks); err != nil {
		store.Close()
		return err
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("publish store: %w", err)
	}
	return nil
}

// Query answers a question against one document. The document's store is
// opened on first use and cached.
func (lib *Library) Query(ctx context.Context, docID, question string) (Answer, error) {
	if err := validateDocID(docID); err != nil {
		return Answer{}, err
	}
	store, err := lib.store(ctx, docID)
	if err != nil {
		return Answer{}, err
	}

	retriever, err := NewAutoMergingRetriever(store, lib.embedding, lib.retrieverOpts...)
	if err != nil {
		return Answer{}, err
	}
	results, err := retriever.Retrieve(ctx, question)
	if err != nil {
		return Answer{}, err
	}
	lib.logger.Debug("treeline: retrieved context", "document_id", docID, "results", len(results))
	return lib.synth.Synthesize(ctx, question, results)
}

// List returns the ingested document ids, sorted. It only enumerates the
// storage directory; no stores are opened.
func (lib *Library) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(lib.dataDir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a document and its store. The cache entry is invalidated
// synchronously, so queries issued after Delete returns fail with
// *NotFoundError; queries already in flight may finish on the old snapshot.
func (lib *Library) Delete(ctx context.Context, docID string) error {
	if err := validateDocID(docID); err != nil {
		return err
	}

	unlock := lib.lockDoc(docID)
	defer unlock()

	lib.mu.Lock()
	store, cached := lib.stores[docID]
	delete(lib.stores, docID)
	lib.mu.Unlock()
	if cached {
		if err := store.Close(); err != nil {
			lib.logger.Warn("treeline: closing deleted store", "document_id", docID, "error", err)
		}
	}

	dir := filepath.Join(lib.dataDir, docID)
	if _, err := os.Stat(dir); err != nil {
		return &NotFoundError{Kind: "document", ID: docID}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete document dir: %w", err)
	}
	lib.logger.Info("treeline: document deleted", "document_id", docID)
	return nil
}

// Close closes every cached store.
func (lib *Library) Close() error {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	var firstErr error
	for id, store := range lib.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(lib.stores, id)
	}
	return firstErr
}

// store returns the cached store for docID, opening it if needed. Opening
// takes the per-document lock so a store is never cached for a document
// that is mid-delete; cache hits stay lock-free apart from lib.mu.
func (lib *Library) store(ctx context.Context, docID string) (Store, error) {
	lib.mu.Lock()
	if store, ok := lib.stores[docID]; ok {
		lib.mu.Unlock()
		return store, nil
	}
	lib.mu.Unlock()

	unlock := lib.lockDoc(docID)
	defer unlock()

	lib.mu.Lock()
	if store, ok := lib.stores[docID]; ok {
		lib.mu.Unlock()
		return store, nil
	}
	lib.mu.Unlock()

	path := filepath.Join(lib.dataDir, docID, storeFileName)
	if _, err := os.Stat(filepath.Join(lib.dataDir, docID)); err != nil {
		return nil, &NotFoundError{Kind: "document", ID: docID}
	}
	store, err := lib.backend.Open(ctx, path)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, &NotFoundError{Kind: "document", ID: docID}
		}
		return nil, err
	}
	lib.mu.Lock()
	lib.stores[docID] = store
	lib.mu.Unlock()
	return store, nil
}

// lockDoc serializes ingest, delete, and store opens per document id.
func (lib *Library) lockDoc(docID string) func() {
	lib.locksMu.Lock()
	l, ok := lib.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		lib.locks[docID] = l
	}
	lib.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// validateDocID rejects empty ids and anything that could escape the data
// directory.
func validateDocID(docID string) error {
	if docID == "" {
		return &ConfigError{Reason: "document id must not be empty"}
	}
	if strings.ContainsAny(docID, `/\`) || docID == "." || docID == ".." {
		return &ConfigError{Reason: fmt.Sprintf("document id %q must not contain path separators", docID)}
	}
	return nil
}
