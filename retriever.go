package treeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// RetrieverOption configures an AutoMergingRetriever.
type RetrieverOption func(*retrieverConfig)

type retrieverConfig struct {
	initialK       int
	mergeThreshold float32
	logger         *slog.Logger
}

// WithInitialK sets the number of leaf candidates requested from the leaf
// index before merging. Default is 6.
func WithInitialK(k int) RetrieverOption {
	return func(c *retrieverConfig) { c.initialK = k }
}

// WithMergeThreshold sets the minimum fraction of a parent's children that
// must be present among the candidates for the parent to absorb them.
// Must be in (0, 1]. Default is 0.5.
func WithMergeThreshold(f float32) RetrieverOption {
	return func(c *retrieverConfig) { c.mergeThreshold = f }
}

// WithRetrieverLogger sets a structured logger. When set, the retriever
// emits a debug line for every merge it performs.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(c *retrieverConfig) { c.logger = l }
}

// AutoMergingRetriever retrieves leaf chunks by similarity, then iteratively
// replaces groups of sibling candidates with their parent chunk whenever
// enough of the parent's children are present. Merging cascades: an adopted
// parent becomes a candidate itself and may merge further up the tree.
type AutoMergingRetriever struct {
	store     Store
	embedding EmbeddingProvider
	cfg       retrieverConfig
}

// NewAutoMergingRetriever creates a retriever over the given per-document
// store. It returns a *ConfigError if the merge threshold is out of range
// or initialK is not positive.
func NewAutoMergingRetriever(store Store, embedding EmbeddingProvider, opts ...RetrieverOption) (*AutoMergingRetriever, error) {
	cfg := retrieverConfig{
		initialK:       6,
		mergeThreshold: 0.5,
		logger:         slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.initialK <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("initial k must be positive, got %d", cfg.initialK)}
	}
	if cfg.mergeThreshold <= 0 || cfg.mergeThreshold > 1 {
		return nil, &ConfigError{Reason: fmt.Sprintf("merge threshold must be in (0, 1], got %v", cfg.mergeThreshold)}
	}
	return &AutoMergingRetriever{store: store, embedding: embedding, cfg: cfg}, nil
}

// candidate is one entry in the retriever's working set.
type candidate struct {
	chunk Chunk
	score float32
}

// Retrieve embeds the query, fetches the initial leaf candidates, runs the
// merge loop to a fixed point, and returns the final set sorted by
// descending relevance. The result never contains a chunk that is an
// ancestor of another chunk in the same result.
func (r *AutoMergingRetriever) Retrieve(ctx context.Context, query string) ([]RetrievalResult, error) {
	embs, err := r.embedding.Embed(ctx, []string{query})
	if err != nil {
		return nil, &ExternalServiceError{Service: "embedding", Err: err}
	}
	if len(embs) == 0 {
		return nil, &ExternalServiceError{Service: "embedding", Err: errors.New("no embedding returned for query")}
	}

	scored, err := r.store.SearchLeaves(ctx, embs[0], r.cfg.initialK)
	if err != nil {
		return nil, fmt.Errorf("leaf search: %w", err)
	}

	working := make(map[string]candidate, len(scored))
	for _, sc := range scored {
		working[sc.ID] = candidate{chunk: sc.Chunk, score: sc.Score}
	}

	if err := r.mergeToFixedPoint(ctx, working); err != nil {
		return nil, err
	}
	if err := r.dropContained(ctx, working); err != nil {
		return nil, err
	}

	results := make([]RetrievalResult, 0, len(working))
	for _, c := range working {
		results = append(results, RetrievalResult{
			Content:    c.chunk.Content,
			Score:      c.score,
			ChunkID:    c.chunk.ID,
			DocumentID: c.chunk.DocumentID,
			Level:      c.chunk.Level,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// mergeToFixedPoint runs merge passes over the working set until a full
// pass performs no merge. It is an explicit loop, not recursion: each pass
// either merges at least one group (strictly reducing the deepest merged
// level) or terminates, so it converges in at most max-level passes.
func (r *AutoMergingRetriever) mergeToFixedPoint(ctx context.Context, working map[string]candidate) error {
	for {
		// Group candidates by parent id. Top-level chunks pass through.
		groups := make(map[string][]candidate)
		for _, c := range working {
			if c.chunk.ParentID == "" {
				continue
			}
			groups[c.chunk.ParentID] = append(groups[c.chunk.ParentID], c)
		}
		if len(groups) == 0 {
			return nil
		}

		merged := false
		for parentID, members := range groups {
			parent, err := r.store.GetChunk(ctx, parentID)
			if err != nil {
				var nf *NotFoundError
				if errors.As(err, &nf) {
					// Parent unavailable: leave the children unmerged
					// rather than failing the query.
					r.cfg.logger.Debug("treeline: parent missing, skipping merge group", "parent_id", parentID)
					continue
				}
				return fmt.Errorf("load parent %s: %w", parentID, err)
			}

			total := len(parent.ChildIDs)
			if total == 0 {
				continue
			}
			fraction := float32(len(members)) / float32(total)
			if fraction < r.cfg.mergeThreshold {
				continue
			}

			// Absorb: parent takes the maximum child score so one strong
			// match is not diluted by weaker siblings.
			score := members[0].score
			for _, m := range members[1:] {
				if m.score > score {
					score = m.score
				}
			}
			for _, m := range members {
				delete(working, m.chunk.ID)
			}
			if prev, ok := working[parent.ID]; ok && prev.score > score {
				score = prev.score
			}
			working[parent.ID] = candidate{chunk: parent, score: score}
			merged = true

			r.cfg.logger.Debug("treeline: merged siblings into parent",
				"parent_id", parent.ID,
				"level", parent.Level,
				"absorbed", len(members),
				"children_total", total,
				"score", score)
		}

		if !merged {
			return nil
		}
	}
}

// dropContained removes any candidate whose ancestor is also a candidate.
// The ancestor's content already contains the descendant's, so keeping both
// would hand the synthesizer overlapping context.
func (r *AutoMergingRetriever) dropContained(ctx context.Context, working map[string]candidate) error {
	for id, c := range working {
		parentID := c.chunk.ParentID
		for parentID != "" {
			if _, ok := working[parentID]; ok {
				delete(working, id)
				break
			}
			parent, err := r.store.GetChunk(ctx, parentID)
			if err != nil {
				var nf *NotFoundError
				if errors.As(err, &nf) {
					break // dangling ancestry, nothing above to contain us
				}
				return fmt.Errorf("walk ancestors of %s: %w", id, err)
			}
			parentID = parent.ParentID
		}
	}
	return nil
}

// discardHandler is a slog.Handler that drops everything.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// NopLogger returns a logger that discards all output. Components accept it
// as their default so logging stays opt-in.
func NopLogger() *slog.Logger { return slog.New(discardHandler{}) }
