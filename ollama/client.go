// Package ollama is the client for the local inference service: one call
// turns text into an embedding vector, the other turns a prompt into a
// completion.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/observability"
	"github.com/becomeliminal/nim-recall/retry"
)

const (
	DefaultBaseURL         = "http://localhost:11434"
	DefaultGenerationModel = "gemma2:2b"
	DefaultEmbeddingModel  = "mxbai-embed-large:335m-v1-fp16"
	DefaultTimeout         = 2 * time.Minute
)

// Replies returned by Generate when no completion could be obtained. They are
// distinct from each other and from any trimmed completion the model can
// produce on its own in practice.
const (
	FallbackTransport = "Sorry, I encountered an error trying to respond."
	FallbackMalformed = "Sorry, I received an unreadable response."
)

var (
	// ErrTransport covers an unreachable service and non-2xx responses.
	ErrTransport = errors.New("ollama: transport failure")
	// ErrMalformedResponse means the body was not valid JSON.
	ErrMalformedResponse = errors.New("ollama: malformed response")
	// ErrMissingEmbedding means valid JSON without a usable embedding array.
	ErrMissingEmbedding = errors.New("ollama: response has no embedding")
)

// IsFallback reports whether s is one of the Generate fallback replies.
func IsFallback(s string) bool {
	return s == FallbackTransport || s == FallbackMalformed
}

// Config configures the client.
type Config struct {
	// BaseURL of the Ollama API. Defaults to http://localhost:11434.
	BaseURL string

	// Models are fixed per client, not per call.
	GenerationModel string
	EmbeddingModel  string

	// Timeout bounds each HTTP attempt. Defaults to 2m.
	Timeout time.Duration

	// MaxAttempts is the number of tries for transport failures.
	// Defaults to 2 (one retry). Malformed responses are never retried.
	MaxAttempts int
	RetryDelay  time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the Ollama HTTP API. It holds no state beyond its config
// and is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client, filling defaults for unset fields.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = DefaultGenerationModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = retry.Default.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = retry.Default.InitialDelay
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("component", "OLLAMA"),
	}
}

// --- Ollama wire types ---

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Embed returns the embedding of text. On any failure it returns an error
// wrapping ErrTransport, ErrMalformedResponse or ErrMissingEmbedding, and
// logs it; it never substitutes a zero vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	logger := observability.Logger(ctx, c.logger)

	body, err := c.post(ctx, "/api/embeddings", embeddingRequest{
		Model:  c.cfg.EmbeddingModel,
		Prompt: text,
	})
	if err != nil {
		logger.Error("embedding request failed", "model", c.cfg.EmbeddingModel, "err", err)
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		logger.Error("embedding response is not JSON", "body", snippet(body))
		return nil, fmt.Errorf("%w: embeddings", ErrMalformedResponse)
	}

	field := gjson.GetBytes(body, "embedding")
	if !field.IsArray() || len(field.Array()) == 0 {
		logger.Error("embedding key not found in response", "body", snippet(body))
		return nil, ErrMissingEmbedding
	}

	values := field.Array()
	vec := make([]float32, len(values))
	for i, v := range values {
		if v.Type != gjson.Number {
			logger.Error("embedding contains a non-numeric value", "index", i)
			return nil, fmt.Errorf("%w: embedding[%d] is %s", ErrMalformedResponse, i, v.Type)
		}
		vec[i] = float32(v.Float())
	}
	return vec, nil
}

// Generate returns the model's completion of prompt, trimmed. The full
// response is awaited (stream disabled). A transport failure returns
// FallbackTransport and a non-JSON body FallbackMalformed.
func (c *Client) Generate(ctx context.Context, prompt string) string {
	logger := observability.Logger(ctx, c.logger)

	body, err := c.post(ctx, "/api/generate", generateRequest{
		Model:  c.cfg.GenerationModel,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		logger.Error("generate request failed", "model", c.cfg.GenerationModel, "err", err)
		return FallbackTransport
	}

	if !gjson.ValidBytes(body) {
		logger.Error("generate response is not JSON", "body", snippet(body))
		return FallbackMalformed
	}

	return strings.TrimSpace(gjson.GetBytes(body, "response").String())
}

// post sends a JSON request and returns the response body. Transport
// failures and non-2xx statuses wrap ErrTransport and are retried.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	var body []byte
	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: c.cfg.RetryDelay,
		ShouldRetry:  func(err error) bool { return errors.Is(err, ErrTransport) },
	}, func() error {
		var err error
		body, err = c.do(ctx, path, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, path string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d: %s", ErrTransport, path, resp.StatusCode, snippet(body))
	}
	return body, nil
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}

var _ memory.Embedder = (*Client)(nil)
