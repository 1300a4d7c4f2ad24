// Command nim-recall is a conversational agent with long-term memory.
//
// Usage:
//
//	nim-recall [chat]   interactive terminal chat (default)
//	nim-recall serve    HTTP, WebSocket and gRPC health endpoints
//	nim-recall reindex  replay the journal into the vector index
//	nim-recall history  print the journal
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/embedder/cache"
	"github.com/becomeliminal/nim-recall/memory/journal"
	"github.com/becomeliminal/nim-recall/memory/store/chromem"
	"github.com/becomeliminal/nim-recall/observability"
	"github.com/becomeliminal/nim-recall/ollama"
	"github.com/becomeliminal/nim-recall/server"
)

func main() {
	cmd := "chat"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	if err := run(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "nim-recall: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string) error {
	switch cmd {
	case "chat", "serve", "reindex", "history":
	case "help", "-h", "--help":
		fmt.Println("usage: nim-recall [chat|serve|reindex|history]")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.Setup(cfg.LogLevel, cfg.LogFormat, nil)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "serve":
		return a.serve(ctx)
	case "reindex":
		return a.reindex(ctx)
	case "history":
		return a.history(ctx)
	default:
		return chat(ctx, a.engine, os.Stdin, os.Stdout)
	}
}

// app holds the wired components of one process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	journal  *journal.Journal
	store    *chromem.Store // nil when the index could not be opened
	cache    *cache.Embedder
	manager  *memory.StoreManager
	engine   *engine.Engine
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	// ============================================================================
	// METRICS
	// ============================================================================
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry, "nim_recall")

	// ============================================================================
	// INFERENCE SERVICE
	// ============================================================================
	client := ollama.New(ollama.Config{
		BaseURL:         cfg.OllamaURL,
		GenerationModel: cfg.GenerationModel,
		EmbeddingModel:  cfg.EmbeddingModel,
		Timeout:         cfg.RequestTimeout,
		MaxAttempts:     cfg.MaxAttempts,
		Logger:          logger,
	})

	var embedder memory.Embedder = client
	var embedCache *cache.Embedder
	if cfg.EmbedCacheItems > 0 {
		c, err := cache.New(client, int64(cfg.EmbedCacheItems))
		if err != nil {
			return nil, err
		}
		embedder, embedCache = c, c
	}

	var generator engine.Generator = client
	if cfg.Generator == config.GeneratorAnthropic {
		generator = engine.NewAnthropicGenerator(engine.AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.RequestTimeout,
			Logger:  logger,
		})
	}
	logger.Info("inference configured", "url", cfg.OllamaURL, "generator", cfg.Generator, "embedding_model", cfg.EmbeddingModel)

	// ============================================================================
	// MEMORY
	// ============================================================================
	j, err := journal.Open(cfg.HistoryFile, logger)
	if err != nil {
		if embedCache != nil {
			embedCache.Close()
		}
		return nil, err
	}

	// The agent keeps chatting without an index; turns still reach the
	// journal and can be replayed with `nim-recall reindex`.
	var index memory.Index
	store, err := chromem.Open(cfg.VectorDir, cfg.Collection,
		chromem.WithCompression(cfg.VectorCompress),
		chromem.WithLogger(logger),
	)
	if err != nil {
		logger.Error("vector index unavailable; running without retrieval", "dir", cfg.VectorDir, "err", err)
		store = nil
	} else {
		index = store
	}

	manager := memory.NewStoreManager(j, index, embedder,
		memory.WithLogger(logger),
		memory.WithMetrics(metrics),
	)

	// ============================================================================
	// ENGINE
	// ============================================================================
	eng := engine.NewEngine(generator,
		engine.WithMemory(manager),
		engine.WithRetrieveCount(cfg.RetrieveCount),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		journal:  j,
		store:    store,
		cache:    embedCache,
		manager:  manager,
		engine:   eng,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("closing journal", "err", err)
	}
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		health := server.NewHealthServer(a.manager.IndexAvailable())
		go func() {
			a.logger.Info("grpc health listening", "addr", a.cfg.GRPCAddr)
			if err := health.Serve(lis); err != nil {
				a.logger.Error("grpc health stopped", "err", err)
			}
		}()
		defer health.Stop()
	}

	srv := server.New(a.engine, a.manager,
		server.WithLogger(a.logger),
		server.WithGatherer(a.registry),
	)
	return srv.ListenAndServe(ctx, a.cfg.ListenAddr)
}

func (a *app) reindex(ctx context.Context) error {
	stats, err := a.manager.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	fmt.Printf("scanned %d, indexed %d, already indexed %d, failed %d\n",
		stats.Scanned, stats.Indexed, stats.AlreadyIndexed, stats.Failed)
	return nil
}

func (a *app) history(ctx context.Context) error {
	turns, err := a.manager.History(ctx)
	if err != nil {
		return err
	}
	for _, t := range turns {
		fmt.Printf("[%s]\nUser: %s\nBot: %s\n\n", t.ID, t.User, t.Bot)
	}
	return nil
}
