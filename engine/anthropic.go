package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-recall/observability"
	"github.com/becomeliminal/nim-recall/ollama"
)

const (
	DefaultAnthropicModel     = "claude-sonnet-4-20250514"
	DefaultAnthropicMaxTokens = 1024
)

// AnthropicConfig configures the Claude-backed generator.
type AnthropicConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint (proxies, tests).
	BaseURL string

	MaxTokens  int64
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// AnthropicGenerator sends the assembled prompt to Claude as a single user
// message. It follows the same fallback contract as ollama.Client.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicGenerator creates a generator from cfg.
func NewAnthropicGenerator(cfg AnthropicConfig) *AnthropicGenerator {
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultAnthropicMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &AnthropicGenerator{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger.With("component", "ANTHROPIC"),
	}
}

// Generate returns Claude's trimmed reply to prompt.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) string {
	logger := observability.Logger(ctx, g.logger)

	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		if isDecodeError(err) {
			logger.Error("claude response could not be decoded", "err", err)
			return ollama.FallbackMalformed
		}
		logger.Error("claude API error", "model", g.model, "err", err)
		return ollama.FallbackTransport
	}

	var text strings.Builder
	found := false
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
			found = true
		}
	}
	if !found {
		logger.Error("claude response has no text block", "stop_reason", resp.StopReason)
		return ollama.FallbackMalformed
	}
	return strings.TrimSpace(text.String())
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

var _ Generator = (*AnthropicGenerator)(nil)
var _ Generator = (*ollama.Client)(nil)
