package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abitbot/abitbot/db"
	"github.com/abitbot/abitbot/internal/admission"
	"github.com/abitbot/abitbot/internal/config"
	"github.com/abitbot/abitbot/internal/conversation"
	"github.com/abitbot/abitbot/internal/database"
	"github.com/abitbot/abitbot/internal/document"
	"github.com/abitbot/abitbot/internal/index"
	"github.com/abitbot/abitbot/internal/observability"
	"github.com/abitbot/abitbot/internal/provider"
	"github.com/abitbot/abitbot/internal/retrieve"
	"github.com/abitbot/abitbot/internal/session"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released; on success the caller owns Close().
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelShutdown = provideTracing(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	embedder, err := provideEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder

	store, err := index.NewStore(pool, embedder, logger.With("component", "index"))
	if err != nil {
		return nil, err
	}
	// Refuses to start against an index built with a different embedder.
	if err := store.VerifyConfig(ctx); err != nil {
		return nil, fmt.Errorf("verifying index config: %w", err)
	}
	a.Index = store

	loader := document.NewLoader(logger.With("component", "loader"))
	indexer, err := index.NewIndexer(loader, store,
		cfg.ChunkMaxTokens, cfg.ChunkOverlapTokens, indexLockPath(),
		logger.With("component", "indexer"))
	if err != nil {
		return nil, err
	}
	a.Indexer = indexer

	retriever, err := retrieve.New(store, embedder,
		cfg.RetrievalK, cfg.RetrievalMinScore,
		logger.With("component", "retriever"))
	if err != nil {
		return nil, err
	}
	a.Retriever = retriever

	router, err := provideRouter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Router = router

	sessions, err := session.NewStore(pool, logger.With("component", "sessions"))
	if err != nil {
		return nil, err
	}
	a.Sessions = sessions

	manager, err := conversation.NewManager(sessions, retriever, router,
		cfg.SystemPrompt, cfg.HistoryTokenBudget, int32(cfg.MaxReplyTokens), // #nosec G115 -- validated range in config
		logger.With("component", "manager"))
	if err != nil {
		return nil, err
	}
	a.Manager = manager

	limiter, err := admission.NewUserLimiter(cfg.UserMessageRate, cfg.UserMessageBurst)
	if err != nil {
		return nil, err
	}
	a.Limiter = limiter

	gate, err := admission.NewGate(cfg.OutboundConcurrency, cfg.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	a.Gate = gate

	return a, nil
}

// provideTracing sets up OTLP trace export when an endpoint is configured.
// A collector that cannot be reached at startup only disables tracing, it
// never prevents the bot from serving.
func provideTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) func(context.Context) error {
	if cfg.OTLPEndpoint == "" {
		return nil
	}
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return nil
	}
	return shutdown
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return pool, nil
}

// provideEmbedder creates the embedding client for the configured provider.
func provideEmbedder(ctx context.Context, cfg *config.Config) (index.Embedder, error) {
	apiKey, baseURL := embedderCredentials(cfg)

	switch cfg.EmbedderProvider {
	case config.ProviderOpenAI:
		return index.NewOpenAIEmbedder(apiKey, baseURL, cfg.EmbedderModel, cfg.EmbedderDimension)
	default:
		return index.NewGeminiEmbedder(ctx, apiKey, cfg.EmbedderModel, cfg.EmbedderDimension)
	}
}

// embedderCredentials reuses the matching completion provider's credentials
// for the embedder, falling back to the conventional environment variables.
func embedderCredentials(cfg *config.Config) (apiKey, baseURL string) {
	for _, p := range cfg.Providers {
		if p.Name == cfg.EmbedderProvider {
			return p.APIKey, p.BaseURL
		}
	}
	switch cfg.EmbedderProvider {
	case config.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY"), ""
	default:
		return os.Getenv("GEMINI_API_KEY"), ""
	}
}

// provideRouter builds the provider fallback chain in priority order.
func provideRouter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*provider.Router, error) {
	entries := make([]provider.Entry, 0, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		var (
			p   provider.Provider
			err error
		)
		switch pc.Name {
		case config.ProviderOpenAI:
			p, err = provider.NewOpenAI(pc.Name, pc.APIKey, pc.BaseURL, pc.Model)
		default:
			p, err = provider.NewGemini(ctx, pc.Name, pc.APIKey, pc.Model)
		}
		if err != nil {
			return nil, fmt.Errorf("providers[%d] %s/%s: %w", i, pc.Name, pc.Model, err)
		}
		entries = append(entries, provider.Entry{Provider: p, Timeout: pc.Timeout, RPM: pc.RPM})
	}
	return provider.NewRouter(entries, logger.With("component", "router"))
}

// indexLockPath is the advisory lock excluding concurrent indexing runs,
// shared between the serve scheduler and the ingest command.
func indexLockPath() string {
	return filepath.Join(os.TempDir(), "abitbot-index.lock")
}
