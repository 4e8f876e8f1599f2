// Package app wires configuration, storage, indexing, retrieval and the
// provider chain into a ready-to-use application container.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abitbot/abitbot/internal/admission"
	"github.com/abitbot/abitbot/internal/config"
	"github.com/abitbot/abitbot/internal/conversation"
	"github.com/abitbot/abitbot/internal/document"
	"github.com/abitbot/abitbot/internal/index"
	"github.com/abitbot/abitbot/internal/provider"
	"github.com/abitbot/abitbot/internal/retrieve"
	"github.com/abitbot/abitbot/internal/session"
)

const shutdownFlushTimeout = 5 * time.Second

// App is the application container. Components are constructed once in
// Setup and shared by every entry point (serve, ingest, sessions).
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool     *pgxpool.Pool
	Embedder index.Embedder
	Index    *index.Store
	Indexer  *index.Indexer

	Retriever *retrieve.Retriever
	Router    *provider.Router
	Sessions  *session.Store
	Manager   *conversation.Manager

	Limiter *admission.UserLimiter
	Gate    *admission.Gate

	otelShutdown func(context.Context) error
}

// Close releases all resources. Safe to call on a partially initialized
// App; Setup uses it to unwind after a failure.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			return fmt.Errorf("flushing traces: %w", err)
		}
	}
	return nil
}

// Crawler creates a site crawler scoped by the crawler configuration.
func (a *App) Crawler() (*document.Crawler, error) {
	c := a.Config.Crawler
	return document.NewCrawler(document.CrawlerConfig{
		StartURL:    c.StartURL,
		BaseURL:     c.BaseURL,
		ExcludeURLs: c.ExcludeURLs,
		MaxDepth:    c.MaxDepth,
		UserAgent:   c.UserAgent,
		Timeout:     c.Timeout,
	}, a.Logger.With("component", "crawler"))
}

// Reindex crawls the configured site and rebuilds the vector index.
// Unchanged chunks are skipped; orphaned chunks are removed.
func (a *App) Reindex(ctx context.Context) (*index.Result, error) {
	crawler, err := a.Crawler()
	if err != nil {
		return nil, err
	}
	return a.Indexer.Run(ctx, crawler)
}

// RefreshScheduler creates a cron scheduler that re-runs Reindex at the
// configured refresh schedule. Returns nil when no schedule is set.
func (a *App) RefreshScheduler() (*index.Scheduler, error) {
	spec := a.Config.RefreshSchedule
	if spec == "" {
		return nil, nil
	}
	logger := a.Logger.With("component", "scheduler")
	return index.NewScheduler(spec, func(ctx context.Context) {
		res, err := a.Reindex(ctx)
		if err != nil {
			logger.Error("scheduled refresh failed", "error", err)
			return
		}
		logger.Info("scheduled refresh complete",
			"documents", res.Documents,
			"removed_documents", res.DocumentsRemoved,
			"embedded", res.ChunksEmbedded,
			"unchanged", res.ChunksUnchanged,
			"removed", res.ChunksRemoved,
			"duration", res.Duration)
	}, logger)
}
