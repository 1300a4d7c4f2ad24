package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/observability"
	"github.com/becomeliminal/nim-recall/ollama"
	"github.com/becomeliminal/nim-recall/prompt"
)

// Apology replaces an empty completion.
const Apology = "I'm sorry, I had trouble generating a response. Could you try rephrasing?"

// DefaultRetrieveCount is how many past turns are pulled into each prompt.
const DefaultRetrieveCount = 3

// ErrEmptyMessage is returned by Run for a blank user message.
var ErrEmptyMessage = errors.New("engine: empty message")

// Generator turns a fully assembled prompt into the bot's reply.
// It never fails: on backend problems it returns a fallback reply.
// Implementations: ollama.Client, AnthropicGenerator.
type Generator interface {
	Generate(ctx context.Context, prompt string) string
}

// Engine runs conversational rounds: retrieve, assemble, generate, record.
// Rounds are serialized; a second Run waits for the first to finish.
type Engine struct {
	generator     Generator
	memory        memory.Manager // Optional: without it every round is memoryless
	systemPrompt  string
	retrieveCount int
	newTurnID     func() string
	logger        *slog.Logger
	metrics       *observability.Metrics

	mu sync.Mutex
}

// Option configures the engine.
type Option func(*Engine)

// WithMemory configures the engine with a memory manager.
func WithMemory(m memory.Manager) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// WithSystemPrompt replaces prompt.DefaultSystemPrompt.
func WithSystemPrompt(s string) Option {
	return func(e *Engine) {
		e.systemPrompt = s
	}
}

// WithRetrieveCount sets how many past turns are retrieved per round.
func WithRetrieveCount(n int) Option {
	return func(e *Engine) {
		e.retrieveCount = n
	}
}

// WithTurnIDFunc overrides turn id generation.
func WithTurnIDFunc(fn func() string) Option {
	return func(e *Engine) {
		e.newTurnID = fn
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records round outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine around the given generator.
func NewEngine(generator Generator, opts ...Option) *Engine {
	e := &Engine{
		generator:     generator,
		systemPrompt:  prompt.DefaultSystemPrompt,
		retrieveCount: DefaultRetrieveCount,
		newTurnID:     NewTurnID,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "ENGINE")
	return e
}

// NewTurnID returns a fresh turn id: turn_<unix seconds>_<8 hex chars>.
func NewTurnID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("turn_%d_%s", time.Now().Unix(), hex[:8])
}

// Output is the result of one round.
type Output struct {
	// TurnID identifies the turn in the journal and the index.
	TurnID string

	// Text is the bot's reply as shown to the user.
	Text string

	// Context holds the past turns that were injected into the prompt,
	// most relevant first.
	Context []memory.Turn

	// Prompt is the exact text sent to the generator.
	Prompt string

	// Degraded is set when Text is a fallback or the apology.
	Degraded bool
}

// Run executes one round for userMessage. Memory failures never fail the
// round; the only error is ErrEmptyMessage.
func (e *Engine) Run(ctx context.Context, userMessage string) (*Output, error) {
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return nil, ErrEmptyMessage
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	turnID := e.newTurnID()
	ctx = observability.WithTurn(ctx, turnID)
	logger := observability.Logger(ctx, e.logger)

	// === PHASE 1: RETRIEVE MEMORIES ===
	var retrieved []memory.Turn
	if e.memory != nil {
		var err error
		retrieved, err = e.memory.RetrieveRelevant(ctx, userMessage, e.retrieveCount)
		if err != nil {
			logger.Warn("retrieval failed; continuing without memories", "err", err)
			retrieved = nil
		}
	}

	// === PHASE 2: ASSEMBLE PROMPT ===
	fullPrompt := prompt.Assemble(e.systemPrompt, prompt.FormatContext(retrieved), userMessage)
	logger.Debug("prompt assembled", "retrieved", len(retrieved), "prompt_len", len(fullPrompt))

	// === PHASE 3: GENERATE ===
	start := time.Now()
	reply := e.generator.Generate(ctx, fullPrompt)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case ctx.Err() != nil:
		// Interrupted mid-generation: the reply is a fallback, not the
		// bot's answer, so the turn is not remembered.
		outcome = "cancelled"
		if reply == "" {
			reply = ollama.FallbackTransport
		}
	case ollama.IsFallback(reply):
		outcome = "fallback"
	case reply == "":
		outcome = "empty"
		reply = Apology
	}
	e.metrics.ObserveRound(outcome, elapsed)

	// === PHASE 4: RECORD TURN ===
	if outcome == "cancelled" {
		logger.Info("round cancelled; turn not saved", "err", ctx.Err())
	} else if e.memory != nil {
		if err := e.memory.SaveTurn(ctx, memory.NewTurn(turnID, userMessage, reply)); err != nil {
			logger.Warn("turn only partially saved", "err", err)
		}
	}

	logger.Info("round complete", "outcome", outcome, "retrieved", len(retrieved), "generate_ms", elapsed.Milliseconds())

	return &Output{
		TurnID:   turnID,
		Text:     reply,
		Context:  retrieved,
		Prompt:   fullPrompt,
		Degraded: outcome != "ok",
	}, nil
}
