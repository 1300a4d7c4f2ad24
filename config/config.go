// Package config loads agent settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/memory/store/chromem"
	"github.com/becomeliminal/nim-recall/ollama"
)

const (
	GeneratorOllama    = "ollama"
	GeneratorAnthropic = "anthropic"
)

// Config holds every setting of the agent.
type Config struct {
	// Inference service
	OllamaURL       string
	GenerationModel string
	EmbeddingModel  string
	RequestTimeout  time.Duration
	MaxAttempts     int

	// Storage
	MemoryDir      string
	HistoryFile    string
	VectorDir      string
	Collection     string
	VectorCompress bool

	RetrieveCount   int
	EmbedCacheItems int

	// Generator selects the completion backend: "ollama" or "anthropic".
	Generator       string
	AnthropicAPIKey string
	AnthropicModel  string

	// Serving mode. An empty GRPCAddr disables the health server.
	ListenAddr string
	GRPCAddr   string

	LogLevel  string
	LogFormat string
}

// Load reads the given .env files (".env" when none are named) into the
// process environment, then builds and validates a Config. Missing .env
// files are not an error. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	memoryDir := StringOr("NIM_MEMORY_DIR", "memory")
	cfg := &Config{
		OllamaURL:       StringOr("NIM_OLLAMA_URL", ollama.DefaultBaseURL),
		GenerationModel: StringOr("NIM_GENERATION_MODEL", ollama.DefaultGenerationModel),
		EmbeddingModel:  StringOr("NIM_EMBEDDING_MODEL", ollama.DefaultEmbeddingModel),
		RequestTimeout:  DurationOr("NIM_REQUEST_TIMEOUT", ollama.DefaultTimeout),
		MaxAttempts:     IntOr("NIM_MAX_ATTEMPTS", 2),

		MemoryDir:      memoryDir,
		HistoryFile:    StringOr("NIM_HISTORY_FILE", filepath.Join(memoryDir, "history.jsonl")),
		VectorDir:      StringOr("NIM_VECTOR_DIR", filepath.Join(memoryDir, "vector_db")),
		Collection:     StringOr("NIM_COLLECTION", chromem.DefaultCollection),
		VectorCompress: BoolOr("NIM_VECTOR_COMPRESS", false),

		RetrieveCount:   IntOr("NIM_RETRIEVE_COUNT", engine.DefaultRetrieveCount),
		EmbedCacheItems: IntOr("NIM_EMBED_CACHE_ITEMS", 1024),

		Generator:       StringOr("NIM_GENERATOR", GeneratorOllama),
		AnthropicAPIKey: StringOr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  StringOr("NIM_ANTHROPIC_MODEL", engine.DefaultAnthropicModel),

		ListenAddr: StringOr("NIM_LISTEN_ADDR", ":8080"),
		GRPCAddr:   LookupOr("NIM_GRPC_ADDR", ":9090"),

		LogLevel:  StringOr("LOG_LEVEL", "info"),
		LogFormat: StringOr("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.OllamaURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("NIM_OLLAMA_URL %q is not an absolute URL", c.OllamaURL))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("NIM_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("NIM_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts))
	}
	if c.RetrieveCount < 0 {
		errs = append(errs, fmt.Errorf("NIM_RETRIEVE_COUNT must not be negative, got %d", c.RetrieveCount))
	}
	if c.EmbedCacheItems < 0 {
		errs = append(errs, fmt.Errorf("NIM_EMBED_CACHE_ITEMS must not be negative, got %d", c.EmbedCacheItems))
	}
	if c.HistoryFile == "" || c.VectorDir == "" {
		errs = append(errs, errors.New("history file and vector dir are required"))
	}

	switch c.Generator {
	case GeneratorOllama:
	case GeneratorAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when NIM_GENERATOR=anthropic"))
		}
	default:
		errs = append(errs, fmt.Errorf("NIM_GENERATOR must be %q or %q, got %q", GeneratorOllama, GeneratorAnthropic, c.Generator))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
