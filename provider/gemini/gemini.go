// Package gemini implements the Google Gemini chat and embedding providers
// over the REST API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	treeline "github.com/treelinehq/treeline"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Default models. gemini-2.0-flash balances quality and latency for
// synthesis; text-embedding-004 produces 768-dimensional vectors.
const (
	DefaultChatModel      = "gemini-2.0-flash"
	DefaultEmbeddingModel = "text-embedding-004"
	DefaultDimensions     = 768
)

// Gemini implements treeline.Provider for Google Gemini models.
type Gemini struct {
	apiKey     string
	model      string
	httpClient *http.Client

	temperature float64
	topP        float64
}

var _ treeline.Provider = (*Gemini)(nil)

// New creates a Gemini chat provider. An empty model selects
// DefaultChatModel.
func New(apiKey, model string, opts ...Option) *Gemini {
	if model == "" {
		model = DefaultChatModel
	}
	g := &Gemini{
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{},
		temperature: 0.1,
		topP:        0.9,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Chat sends a non-streaming generateContent request and returns the
// complete response.
func (g *Gemini) Chat(ctx context.Context, req treeline.ChatRequest) (treeline.ChatResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, g.model, g.apiKey)

	payload, err := json.Marshal(g.buildBody(req.Messages))
	if err != nil {
		return treeline.ChatResponse{}, fmt.Errorf("gemini: marshal body: %w", err)
	}

	respBody, err := postJSON(ctx, g.httpClient, url, payload)
	if err != nil {
		return treeline.ChatResponse{}, err
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return treeline.ChatResponse{}, fmt.Errorf("gemini: parse response: %w", err)
	}

	var content strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			content.WriteString(part.Text)
		}
	}

	var usage treeline.Usage
	if parsed.UsageMetadata != nil {
		usage.InputTokens = parsed.UsageMetadata.PromptTokenCount
		usage.OutputTokens = parsed.UsageMetadata.CandidatesTokenCount
	}

	return treeline.ChatResponse{Content: content.String(), Usage: usage}, nil
}

// buildBody constructs the generateContent request body. System messages
// accumulate into systemInstruction; the rest become contents entries.
func (g *Gemini) buildBody(messages []treeline.ChatMessage) map[string]any {
	var systemParts []string
	var contents []map[string]any

	for _, m := range messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		contents = append(contents, map[string]any{
			"role":  mapRole(m.Role),
			"parts": []map[string]any{{"text": m.Content}},
		})
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature": g.temperature,
			"topP":        g.topP,
		},
	}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": strings.Join(systemParts, "\n\n")}},
		}
	}
	return body
}

// mapRole converts chat roles to Gemini roles ("assistant" -> "model").
func mapRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// ---- Embedding provider ----

// GeminiEmbedding implements treeline.EmbeddingProvider for Gemini
// embedding models.
type GeminiEmbedding struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

var _ treeline.EmbeddingProvider = (*GeminiEmbedding)(nil)

// NewEmbedding creates a Gemini embedding provider. An empty model selects
// DefaultEmbeddingModel; dims <= 0 selects DefaultDimensions.
func NewEmbedding(apiKey, model string, dims int) *GeminiEmbedding {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &GeminiEmbedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
}

// Name returns "gemini".
func (e *GeminiEmbedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *GeminiEmbedding) Dimensions() int { return e.dims }

// Embed embeds texts in a single batchEmbedContents call and returns one
// vector per input, in input order.
func (e *GeminiEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", baseURL, e.model, e.apiKey)

	requests := make([]map[string]any, len(texts))
	for i, text := range texts {
		requests[i] = map[string]any{
			"model":                "models/" + e.model,
			"content":              map[string]any{"parts": []map[string]any{{"text": text}}},
			"outputDimensionality": e.dims,
		}
	}
	payload, err := json.Marshal(map[string]any{"requests": requests})
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal embed body: %w", err)
	}

	respBody, err := postJSON(ctx, e.httpClient, url, payload)
	if err != nil {
		return nil, err
	}

	var parsed batchEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("gemini: parse embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: got %d embeddings for %d texts", len(parsed.Embeddings), len(texts))
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		vec := make([]float32, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// postJSON performs a JSON POST and returns the body. Non-2xx statuses map
// to *treeline.ErrHTTP.
func postJSON(ctx context.Context, client *http.Client, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &treeline.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

// retryAfter parses a Retry-After header given in seconds. HTTP-date values
// are ignored; Gemini sends seconds.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ---- Response types ----

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}
