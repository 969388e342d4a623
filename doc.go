// Package treeline is a document question-answering engine built around
// hierarchical chunking and auto-merging retrieval.
//
// Documents are split into a tree of chunks at decreasing granularities
// (e.g. 1024 → 512 → 256 characters). Only the finest-grained leaf chunks
// are embedded and indexed for similarity search; parent chunks are kept in
// the same store so that retrieval can "zoom out": when enough sibling
// leaves of one section match a query, the retriever replaces them with
// their parent, handing the answer synthesizer whole sections instead of
// fragments.
//
// # Quick Start
//
//	provider := gemini.New(apiKey, "gemini-2.0-flash")
//	embedding := gemini.NewEmbedding(apiKey, "text-embedding-004", 768)
//	pipeline, _ := ingest.NewPipeline([]int{1024, 512, 256})
//
//	lib, _ := treeline.NewLibrary("./data", pipeline, sqlite.NewBackend(), provider, embedding)
//
//	res, err := lib.Ingest(ctx, "attention is all you need", "paper.pdf", pdfBytes)
//	answer, err := lib.Query(ctx, res.Document.ID, "What is multi-head attention?")
//
// # Core Interfaces
//
//   - [Provider] — text generation backend
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [Store] — per-document chunk store with leaf similarity search
//
// The building blocks compose independently of [Library]: the ingest
// package's HierarchyBuilder produces the chunk tree, [AutoMergingRetriever]
// implements the merge algorithm, and [Synthesizer] turns retrieved chunks
// into an answer with evidence.
package treeline
