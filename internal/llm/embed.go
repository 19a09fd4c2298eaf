package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/agora-circle/agora/internal/observe"
)

// embedTimeout bounds one embedding request. Embedding models are small;
// anything slower than this indicates a wedged backend.
const embedTimeout = 60 * time.Second

// Embedder converts text into unit-length vectors via the backend's
// /api/embeddings endpoint. Safe for concurrent use.
type Embedder struct {
	client  *Client
	model   string
	metrics *observe.Metrics
}

// NewEmbedder creates an embedder backed by client using the given model.
func NewEmbedder(client *Client, model string, metrics *observe.Metrics) *Embedder {
	return &Embedder{client: client, model: model, metrics: metrics}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the unit-length embedding of text. A zero vector from the
// backend is an error; stored embeddings must have norm within [0.999, 1.001].
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal embed request: %w", err)
	}

	start := time.Now()
	raw, err := e.client.post(ctx, "/api/embeddings", body, embedTimeout)
	if e.metrics != nil {
		e.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &BackendError{Kind: KindFatal, Msg: "malformed embeddings response: " + err.Error()}
	}
	if len(resp.Embedding) == 0 {
		return nil, &BackendError{Kind: KindFatal, Msg: "empty embedding"}
	}

	return Normalize(resp.Embedding)
}

// Normalize scales v to unit length. A zero vector is rejected.
func Normalize(v []float64) ([]float64, error) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm < 1e-12 {
		return nil, fmt.Errorf("llm: zero-norm embedding")
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out, nil
}
