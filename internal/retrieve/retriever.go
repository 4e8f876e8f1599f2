// Package retrieve turns user queries into ranked, relevance-filtered
// chunks from the vector index.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/abitbot/abitbot/internal/index"
)

const embeddingCacheSize = 256

// VectorStore is the similarity-query surface the retriever reads from.
type VectorStore interface {
	QueryVector(ctx context.Context, embedding []float32, k int) ([]index.Scored, error)
}

// Embedder embeds query text. Must be the same model the index was built
// with; the store enforces dimensionality.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ScoredChunk is a retrieved chunk with its similarity score.
type ScoredChunk struct {
	ChunkID  string
	SourceID string
	Content  string
	Score    float64
}

// Retriever embeds a query and returns the most similar chunks above a
// relevance threshold. Repeated queries reuse cached embeddings.
type Retriever struct {
	store    VectorStore
	embedder Embedder
	k        int
	minScore float64
	cache    *lru.Cache[string, []float32]
	logger   *slog.Logger
}

// New creates a Retriever that returns at most k chunks scoring at least
// minScore.
func New(store VectorStore, embedder Embedder, k int, minScore float64, logger *slog.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("retriever: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retriever: embedder is required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("retriever: k must be positive, got %d", k)
	}
	if minScore < 0 || minScore > 1 {
		return nil, fmt.Errorf("retriever: min score must be in [0, 1], got %f", minScore)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cache, err := lru.New[string, []float32](embeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("retriever: creating embedding cache: %w", err)
	}

	return &Retriever{
		store:    store,
		embedder: embedder,
		k:        k,
		minScore: minScore,
		cache:    cache,
		logger:   logger,
	}, nil
}

// Retrieve returns up to k chunks relevant to the query, most similar first.
// No chunk clearing the threshold is a valid outcome: the result is empty
// and the error is nil. The caller decides how to answer without context.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]ScoredChunk, error) {
	embedding, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieving for query: %w", err)
	}

	scored, err := r.store.QueryVector(ctx, embedding, r.k)
	if err != nil {
		return nil, fmt.Errorf("retrieving for query: %w", err)
	}

	results := make([]ScoredChunk, 0, len(scored))
	for _, sc := range scored {
		if sc.Similarity < r.minScore {
			continue
		}
		results = append(results, ScoredChunk{
			ChunkID:  sc.ChunkID,
			SourceID: sc.SourceID,
			Content:  sc.Content,
			Score:    sc.Similarity,
		})
	}

	r.logger.Debug("retrieved chunks",
		"candidates", len(scored),
		"kept", len(results),
		"min_score", r.minScore)
	return results, nil
}

func (r *Retriever) embed(ctx context.Context, query string) ([]float32, error) {
	if cached, ok := r.cache.Get(query); ok {
		return cached, nil
	}
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	r.cache.Add(query, embedding)
	return embedding, nil
}
