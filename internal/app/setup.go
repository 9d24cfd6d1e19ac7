package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/tanyadata/tanya/db"
	"github.com/tanyadata/tanya/internal/cache"
	"github.com/tanyadata/tanya/internal/config"
	"github.com/tanyadata/tanya/internal/database"
	"github.com/tanyadata/tanya/internal/embed"
	"github.com/tanyadata/tanya/internal/history"
	"github.com/tanyadata/tanya/internal/llm"
	"github.com/tanyadata/tanya/internal/memory"
	"github.com/tanyadata/tanya/internal/normalize"
	"github.com/tanyadata/tanya/internal/pipeline"
	"github.com/tanyadata/tanya/internal/rerank"
	"github.com/tanyadata/tanya/internal/retrieval"
	"github.com/tanyadata/tanya/internal/sandbox"
	"github.com/tanyadata/tanya/internal/sqlgen"
	"github.com/tanyadata/tanya/internal/summarize"
)

// Setup creates and initializes the application. On failure everything
// already acquired is released; on success the caller owns Close.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g

	a.Cache, err = provideCache(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	aiEmbedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if aiEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embed.NewCached(
		embed.NewClient(aiEmbedder, cfg.EmbedderModel, cfg.EmbedderDimension),
		a.Cache, cfg.EmbedderModel, cfg.CacheTTL, logger)

	// The prompt-driven stages share one generation client behind the
	// completion cache.
	gen := llm.NewCached(
		llm.NewClient(g, cfg.FullModelName()),
		a.Cache, cfg.FullModelName(), cfg.CacheTTL, logger)

	reranker := rerank.New(rerank.Config{
		BaseURL:           cfg.RerankBaseURL,
		APIKey:            cfg.RerankAPIKey,
		Model:             cfg.RerankModel,
		RequestsPerSecond: cfg.RerankRPS,
		Logger:            logger,
	})

	docStore := retrieval.NewStore(pool, logger)
	retriever := retrieval.New(docStore, reranker, logger)

	turns := history.NewStore(pool, logger)
	a.History = turns
	memories := memory.NewStore(pool, a.Embedder, turns, logger)

	a.Pipeline = pipeline.New(
		normalize.New(gen, logger),
		a.Embedder,
		retriever,
		sqlgen.New(gen, logger),
		sandbox.NewExecutor(pool, logger),
		summarize.New(gen, cfg.Language, logger),
		turns,
		memories,
		pipeline.Settings{
			Alpha:      cfg.HybridAlpha,
			MinCosine:  cfg.MinCosine,
			TopK:       cfg.TopK,
			RerankTopN: cfg.RerankTopN,
		},
		logger,
	)

	return a, nil
}

// provideCache selects Redis when an address is configured, otherwise
// the in-process cache.
func provideCache(ctx context.Context, cfg *config.Config, a *App) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(), nil
	}

	client, err := cache.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.Logger.Warn("closing redis client", "error", err)
		}
	})
	return cache.NewRedis(client, "tanya"), nil
}
