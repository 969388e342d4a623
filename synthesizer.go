package treeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const synthesizerSystemPrompt = `You are a question answering assistant. Answer the question using only the provided context. If the context does not contain the answer, say that you do not know. Be concise and factual.`

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*synthesizerConfig)

type synthesizerConfig struct {
	contextBudget int
	previewLength int
	logger        *slog.Logger
}

// WithContextBudget caps the total number of characters of chunk content
// packed into a single prompt. Default is 12000.
func WithContextBudget(chars int) SynthesizerOption {
	return func(c *synthesizerConfig) { c.contextBudget = chars }
}

// WithPreviewLength sets how many characters of each chunk are kept as
// evidence preview. Default is 300.
func WithPreviewLength(chars int) SynthesizerOption {
	return func(c *synthesizerConfig) { c.previewLength = chars }
}

// WithSynthesizerLogger sets a structured logger.
func WithSynthesizerLogger(l *slog.Logger) SynthesizerOption {
	return func(c *synthesizerConfig) { c.logger = l }
}

// Synthesizer turns retrieved chunks and a question into a single answer by
// packing the chunk contents into one prompt and making one chat call.
type Synthesizer struct {
	provider Provider
	cfg      synthesizerConfig
}

// NewSynthesizer creates a synthesizer backed by the given chat provider.
func NewSynthesizer(provider Provider, opts ...SynthesizerOption) (*Synthesizer, error) {
	cfg := synthesizerConfig{
		contextBudget: 12000,
		previewLength: 300,
		logger:        NopLogger(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.contextBudget <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("context budget must be positive, got %d", cfg.contextBudget)}
	}
	if cfg.previewLength <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("preview length must be positive, got %d", cfg.previewLength)}
	}
	return &Synthesizer{provider: provider, cfg: cfg}, nil
}

// Synthesize packs the results into the context budget in descending
// relevance order and asks the provider the question against that context.
// Chunks are included or dropped whole, never truncated mid-chunk. With no
// results it returns an empty Answer without calling the provider.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, results []RetrievalResult) (Answer, error) {
	if len(results) == 0 {
		return Answer{}, nil
	}

	var (
		sections []string
		evidence []Evidence
		used     int
	)
	for _, r := range results {
		n := len([]rune(r.Content))
		if used+n > s.cfg.contextBudget {
			s.cfg.logger.Debug("treeline: dropped chunk from prompt", "chunk_id", r.ChunkID, "chars", n, "used", used)
			continue
		}
		used += n
		sections = append(sections, r.Content)
		evidence = append(evidence, Evidence{
			ChunkID: r.ChunkID,
			Score:   r.Score,
			Text:    preview(r.Content, s.cfg.previewLength),
		})
	}
	if len(sections) == 0 {
		return Answer{}, nil
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for _, sec := range sections {
		b.WriteString("---\n")
		b.WriteString(sec)
		b.WriteString("\n")
	}
	b.WriteString("---\n\nQuestion: ")
	b.WriteString(question)

	resp, err := s.provider.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{
			SystemMessage(synthesizerSystemPrompt),
			UserMessage(b.String()),
		},
	})
	if err != nil {
		return Answer{}, &ExternalServiceError{Service: s.provider.Name(), Err: err}
	}

	return Answer{Text: resp.Content, Evidence: evidence}, nil
}

// preview returns at most max characters of s, cut at a rune boundary.
func preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
