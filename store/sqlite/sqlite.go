// Package sqlite implements treeline.Store using pure-Go SQLite with
// in-process brute-force vector search over leaf embeddings. Zero CGO
// required. One store file holds exactly one document's chunk tree.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	treeline "github.com/treelinehq/treeline"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements treeline.Store backed by a local SQLite file.
// Embeddings are stored as JSON text (float32 values round-trip exactly)
// and similarity search is done in-process with brute-force cosine.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ treeline.Store = (*Store)(nil)

// New creates a fresh store at path with the full schema. The parent
// directory must exist.
func New(path string, opts ...StoreOption) (*Store, error) {
	s, err := open(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.init(); err != nil {
		s.db.Close()
		return nil, err
	}
	s.logger.Debug("sqlite: store created", "path", path)
	return s, nil
}

// Open opens an existing store and verifies its integrity: every parent_id
// must resolve and every leaf must carry an embedding. A violation returns
// *treeline.CorruptStoreError; a missing file returns *treeline.NotFoundError.
func Open(path string, opts ...StoreOption) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &treeline.NotFoundError{Kind: "store", ID: path}
	}
	s, err := open(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.checkIntegrity(); err != nil {
		s.db.Close()
		return nil, err
	}
	s.logger.Debug("sqlite: store opened", "path", path)
	return s, nil
}

// open wires the connection pool. A single connection serializes all
// goroutines through one writer, eliminating SQLITE_BUSY errors.
func open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		return nil, fmt.Errorf("sqlite: open driver: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: path, logger: treeline.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) init() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			parent_id TEXT,
			level INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) checkIntegrity() error {
	var quick string
	if err := s.db.QueryRow(`PRAGMA quick_check`).Scan(&quick); err != nil || quick != "ok" {
		return &treeline.CorruptStoreError{Path: s.path, Reason: "sqlite quick_check failed"}
	}

	var dangling int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM chunks c
		 WHERE c.parent_id IS NOT NULL
		   AND NOT EXISTS (SELECT 1 FROM chunks p WHERE p.id = c.parent_id)`,
	).Scan(&dangling)
	if err != nil {
		return &treeline.CorruptStoreError{Path: s.path, Reason: "missing chunks table"}
	}
	if dangling > 0 {
		return &treeline.CorruptStoreError{Path: s.path, Reason: fmt.Sprintf("%d chunk(s) reference a missing parent", dangling)}
	}

	var bareLeaves int
	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM chunks c
		 WHERE c.embedding IS NULL
		   AND NOT EXISTS (SELECT 1 FROM chunks k WHERE k.parent_id = c.id)`,
	).Scan(&bareLeaves)
	if err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if bareLeaves > 0 {
		return &treeline.CorruptStoreError{Path: s.path, Reason: fmt.Sprintf("%d leaf chunk(s) missing an embedding", bareLeaves)}
	}
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// SetDocument records the document this store belongs to.
func (s *Store) SetDocument(ctx context.Context, doc treeline.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, source, created_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

// Document returns the document record, or *treeline.NotFoundError if the
// store was never written.
func (s *Store) Document(ctx context.Context) (treeline.Document, error) {
	var d treeline.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, source, created_at FROM documents LIMIT 1`,
	).Scan(&d.ID, &d.Title, &d.Source, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return treeline.Document{}, &treeline.NotFoundError{Kind: "document", ID: s.path}
	}
	if err != nil {
		return treeline.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// PutChunks inserts a batch of chunks in one transaction. Any id that
// already exists rejects the whole batch with *treeline.DuplicateIDError.
func (s *Store) PutChunks(ctx context.Context, chunks []treeline.Chunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: put chunks", "count", len(chunks))
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if seen[c.ID] {
			return &treeline.DuplicateIDError{ID: c.ID}
		}
		seen[c.ID] = true

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE id = ?`, c.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check chunk id: %w", err)
		}
		if exists > 0 {
			return &treeline.DuplicateIDError{ID: c.ID}
		}

		var parentID *string
		if c.ParentID != "" {
			parentID = &c.ParentID
		}
		var embJSON *string
		if len(c.Embedding) > 0 {
			v := serializeEmbedding(c.Embedding)
			embJSON = &v
		}
		var metaJSON *string
		if len(c.Metadata) > 0 {
			data, _ := json.Marshal(c.Metadata)
			v := string(data)
			metaJSON = &v
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, parent_id, level, chunk_index, content, metadata, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, parentID, c.Level, c.ChunkIndex, c.Content, metaJSON, embJSON,
		)
		if err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", c.ID, "error", err)
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: put chunks ok", "count", len(chunks), "duration", time.Since(start))
	return nil
}

const chunkColumns = `id, document_id, parent_id, level, chunk_index, content, metadata, embedding`

// GetChunk returns the chunk with the given id.
func (s *Store) GetChunk(ctx context.Context, id string) (treeline.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return treeline.Chunk{}, &treeline.NotFoundError{Kind: "chunk", ID: id}
	}
	if err != nil {
		return treeline.Chunk{}, fmt.Errorf("get chunk: %w", err)
	}
	c.ChildIDs, err = s.childIDs(ctx, id)
	if err != nil {
		return treeline.Chunk{}, err
	}
	return c, nil
}

// GetParent returns the parent of the given chunk, or nil for a top-level
// chunk.
func (s *Store) GetParent(ctx context.Context, id string) (*treeline.Chunk, error) {
	c, err := s.GetChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ParentID == "" {
		return nil, nil
	}
	parent, err := s.GetChunk(ctx, c.ParentID)
	if err != nil {
		return nil, err
	}
	return &parent, nil
}

// GetChildren returns the chunks whose parent_id equals id, ordered by
// chunk_index. The relation is derived from the parent_id column, never
// stored separately.
func (s *Store) GetChildren(ctx context.Context, id string) ([]treeline.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE parent_id = ? ORDER BY chunk_index`, id)
	if err != nil {
		return nil, fmt.Errorf("get children: %w", err)
	}
	defer rows.Close()

	var children []treeline.Chunk
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		children = append(children, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	for i := range children {
		children[i].ChildIDs, err = s.childIDs(ctx, children[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return children, nil
}

// SearchLeaves performs brute-force cosine similarity search over chunks
// with an embedding. Only leaves carry embeddings, so the scan covers
// exactly the leaf set.
func (s *Store) SearchLeaves(ctx context.Context, embedding []float32, topK int) ([]treeline.ScoredChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search leaves", "top_k", topK, "embedding_dim", len(embedding))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("search leaves: %w", err)
	}
	defer rows.Close()

	var results []treeline.ScoredChunk
	scanned := 0
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		scanned++
		results = append(results, treeline.ScoredChunk{
			Chunk: c,
			Score: cosineSimilarity(embedding, c.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaves: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search leaves ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// CountChunks returns the total number of chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM chunks`)
}

// CountLeaves returns the number of chunks without children.
func (s *Store) CountLeaves(ctx context.Context) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM chunks c
		 WHERE NOT EXISTS (SELECT 1 FROM chunks k WHERE k.parent_id = c.id)`)
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// DeleteAll removes every chunk and the document record. Irreversible.
func (s *Store) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: deleted all chunks", "path", s.path)
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// childIDs returns the ids of the chunks whose parent is id, in
// chunk_index order.
func (s *Store) childIDs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE parent_id = ? ORDER BY chunk_index`, id)
	if err != nil {
		return nil, fmt.Errorf("get child ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("scan child id: %w", err)
		}
		ids = append(ids, cid)
	}
	return ids, rows.Err()
}

// scanChunk reads one chunk row from either *sql.Row or *sql.Rows.
func scanChunk(scan func(...any) error) (treeline.Chunk, error) {
	var (
		c        treeline.Chunk
		parentID sql.NullString
		metaJSON sql.NullString
		embJSON  sql.NullString
	)
	err := scan(&c.ID, &c.DocumentID, &parentID, &c.Level, &c.ChunkIndex, &c.Content, &metaJSON, &embJSON)
	if err != nil {
		return treeline.Chunk{}, err
	}
	if parentID.Valid {
		c.ParentID = parentID.String
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &c.Metadata)
	}
	if embJSON.Valid {
		c.Embedding, err = deserializeEmbedding(embJSON.String)
		if err != nil {
			return treeline.Chunk{}, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return c, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
