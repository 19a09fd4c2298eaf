// Package llm is the adapter to the ollama-compatible backend.
//
// It speaks the raw wire contract directly: POST /api/chat for generation,
// GET /api/tags for liveness and the model catalog, POST /api/generate with
// num_predict=1 for warm pings, and POST /api/embeddings for turn
// embeddings. Transient failures are retried with exponential backoff and
// all calls flow through a shared circuit breaker.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agora-circle/agora/internal/observe"
	"github.com/agora-circle/agora/internal/resilience"
)

// ErrorKind classifies a backend failure for retry decisions.
type ErrorKind string

const (
	// KindTimeout covers request deadline and read timeouts. Retryable.
	KindTimeout ErrorKind = "timeout"

	// KindConnection covers connection refused/reset and DNS failures.
	// Retryable.
	KindConnection ErrorKind = "connection"

	// KindServer covers 5xx and 408 responses. Retryable.
	KindServer ErrorKind = "server"

	// KindFatal covers every other 4xx response and malformed replies.
	// Not retryable.
	KindFatal ErrorKind = "fatal"
)

// BackendError is a classified failure from the LLM backend.
type BackendError struct {
	Kind   ErrorKind
	Status int
	Msg    string
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: %s (HTTP %d): %s", e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Msg)
}

// Retryable reports whether err is a transient backend failure.
func Retryable(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind != KindFatal
	}
	// Breaker rejections are transient from the turn loop's point of view.
	return errors.Is(err, resilience.ErrCircuitOpen)
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are per-request sampling knobs. Nil pointer fields are omitted
// from the wire so the backend applies its own defaults.
type Options struct {
	Temperature   float64  `json:"temperature"`
	Seed          *int64   `json:"seed,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
}

// ChatResult is the reply to one chat request.
type ChatResult struct {
	Content          string
	PromptTokens     *int
	CompletionTokens *int
}

// ClientConfig holds construction parameters for [Client].
type ClientConfig struct {
	// BaseURL is the backend root, e.g. "http://localhost:11434".
	BaseURL string

	// RequestTimeout bounds one chat request. Default: 600s.
	RequestTimeout time.Duration

	// MaxRetries is the retry budget for transient failures. Default: 3.
	MaxRetries int

	// Breaker guards all generation calls. Optional; nil disables breaking.
	Breaker *resilience.CircuitBreaker

	// Metrics records request counters and latency. Optional.
	Metrics *observe.Metrics
}

// Client is a stateless adapter to the backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
	httpc      *http.Client
}

// probeTimeout bounds the /api/tags liveness probe.
const probeTimeout = 2 * time.Second

// NewClient creates a backend client. Zero-value config fields get defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 600 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.RequestTimeout,
		maxRetries: cfg.MaxRetries,
		breaker:    cfg.Breaker,
		metrics:    cfg.Metrics,
		httpc:      &http.Client{},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  Options   `json:"options"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount *int `json:"prompt_eval_count,omitempty"`
	EvalCount       *int `json:"eval_count,omitempty"`
}

// Chat sends one non-streaming chat request, retrying transient failures up
// to MaxRetries with 2^attempt-second backoff.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts Options) (*ChatResult, error) {
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  opts,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal chat request: %w", err)
	}

	var result *ChatResult
	err = c.withRetry(ctx, "chat", func(ctx context.Context) error {
		start := time.Now()
		raw, err := c.post(ctx, "/api/chat", body, c.timeout)
		if c.metrics != nil {
			c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil {
			return err
		}
		var resp chatResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return &BackendError{Kind: KindFatal, Msg: "malformed chat response: " + err.Error()}
		}
		result = &ChatResult{
			Content:          resp.Message.Content,
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsRunning probes the catalog endpoint with a short timeout.
func (c *Client) IsRunning(ctx context.Context) bool {
	_, err := c.get(ctx, "/api/tags", probeTimeout)
	return err == nil
}

// AvailableModels returns the backend's model catalog.
func (c *Client) AvailableModels(ctx context.Context) ([]string, error) {
	raw, err := c.get(ctx, "/api/tags", probeTimeout)
	if err != nil {
		return nil, err
	}
	var resp tagsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &BackendError{Kind: KindFatal, Msg: "malformed tags response: " + err.Error()}
	}
	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// ValidateModels checks that every requested model is present in the
// catalog. A requested base name matches any tagged variant, so "llama3"
// accepts "llama3:latest". Returns the missing models.
func (c *Client) ValidateModels(ctx context.Context, requested []string) ([]string, error) {
	available, err := c.AvailableModels(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, want := range requested {
		base := strings.SplitN(want, ":", 2)[0]
		found := false
		for _, have := range available {
			if have == want || strings.SplitN(have, ":", 2)[0] == base {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return missing, nil
}

type generateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Options struct {
		NumPredict int `json:"num_predict"`
	} `json:"options"`
}

// WarmModel issues a minimal one-token generation request so the backend
// keeps (or makes) the model resident.
func (c *Client) WarmModel(ctx context.Context, model string) error {
	req := generateRequest{Model: model, Prompt: "ping", Stream: false}
	req.Options.NumPredict = 1
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("llm: marshal warm request: %w", err)
	}
	_, err = c.post(ctx, "/api/generate", body, c.timeout)
	return err
}

// withRetry executes fn under the breaker with the retry policy applied.
func (c *Client) withRetry(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			slog.Debug("retrying backend request",
				"endpoint", endpoint,
				"attempt", attempt+1,
				"backoff", backoff,
				"err", lastErr,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &BackendError{Kind: KindTimeout, Msg: ctx.Err().Error()}
			}
		}

		call := func() error { return fn(ctx) }
		if c.breaker != nil {
			lastErr = c.breaker.Execute(call)
		} else {
			lastErr = call()
		}

		status := "ok"
		if lastErr != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordLLMRequest(ctx, endpoint, status)
		}

		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// post issues one POST and classifies failures.
func (c *Client) post(ctx context.Context, path string, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &BackendError{Kind: KindFatal, Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// get issues one GET and classifies failures.
func (c *Client) get(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &BackendError{Kind: KindFatal, Msg: err.Error()}
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return nil, &BackendError{Kind: KindServer, Status: resp.StatusCode, Msg: truncate(raw)}
	default:
		return nil, &BackendError{Kind: KindFatal, Status: resp.StatusCode, Msg: truncate(raw)}
	}
}

func classifyTransportError(err error) *BackendError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &BackendError{Kind: KindTimeout, Msg: err.Error()}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &BackendError{Kind: KindTimeout, Msg: err.Error()}
	default:
		return &BackendError{Kind: KindConnection, Msg: err.Error()}
	}
}

func truncate(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
