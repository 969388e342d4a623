package treeline

// --- Domain types (store records) ---

// Document describes one ingested source file.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"created_at"`
}

// Chunk is a unit of document text at one hierarchy level.
//
// Level 0 is the coarsest split; higher levels are finer. ParentID and
// ChildIDs are lookup keys into the owning Store, never pointers — the
// store is the sole owner of every chunk. A chunk with no ChildIDs is a
// leaf and is the only kind of chunk that carries an embedding.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	ChildIDs   []string          `json:"child_ids,omitempty"`
	Level      int               `json:"level"`
	ChunkIndex int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
}

// IsLeaf reports whether the chunk was never split further.
func (c Chunk) IsLeaf() bool { return len(c.ChildIDs) == 0 }

// ScoredChunk pairs a chunk with a similarity score from leaf search.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// RetrievalResult is a scored piece of content returned by the retriever.
// After auto-merging it may refer to any level of the tree, not just leaves.
type RetrievalResult struct {
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Level      int     `json:"level"`
}

// Evidence is one source excerpt cited alongside an answer.
// Text is a display preview, truncated rune-safe; the full content lives in
// the store under ChunkID.
type Evidence struct {
	ChunkID string  `json:"chunk_id"`
	Score   float32 `json:"score"`
	Text    string  `json:"text"`
}

// Answer is a synthesized response plus the chunks actually used to
// produce it, in the order they were given to the generation service.
type Answer struct {
	Text     string     `json:"text"`
	Evidence []Evidence `json:"evidence"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}
