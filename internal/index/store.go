package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/abitbot/abitbot/internal/chunk"
	"github.com/abitbot/abitbot/internal/document"
)

// ErrIndexConfigMismatch is returned when the database was indexed with a
// different embedding model or dimensionality than the running configuration.
// Re-index from scratch instead of mixing incompatible vectors.
var ErrIndexConfigMismatch = errors.New("index was built with a different embedding configuration")

// Scored is a chunk returned from a similarity query.
type Scored struct {
	ChunkID    string
	SourceID   string
	Content    string
	Similarity float64
	IndexedAt  time.Time
}

// Store persists documents and embedded chunks in Postgres with pgvector.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
}

// NewStore creates a Store. It does not touch the database; call
// VerifyConfig before indexing or querying.
func NewStore(pool *pgxpool.Pool, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("store: pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("store: embedder is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// VerifyConfig checks the recorded index configuration against the running
// embedder, recording it on first use. A mismatch returns
// ErrIndexConfigMismatch rather than silently mixing vector spaces.
func (s *Store) VerifyConfig(ctx context.Context) error {
	// The embedding column dimension is fixed by the migration. A configured
	// dimension it cannot hold must fail here, not on the first insert.
	// pgvector stores the declared dimension as the column typmod.
	var colDim int
	err := s.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'chunks'::regclass AND attname = 'embedding'`,
	).Scan(&colDim)
	if err != nil {
		return fmt.Errorf("reading embedding column dimension: %w", err)
	}
	if colDim != s.embedder.Dimension() {
		return fmt.Errorf("%w: chunks.embedding is vector(%d), configured dimension=%d",
			ErrIndexConfigMismatch, colDim, s.embedder.Dimension())
	}

	var model string
	var dimension int
	err = s.pool.QueryRow(ctx,
		`SELECT embedder_model, dimension FROM index_config`,
	).Scan(&model, &dimension)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = s.pool.Exec(ctx,
			`INSERT INTO index_config (embedder_model, dimension) VALUES ($1, $2)`,
			s.embedder.Model(), s.embedder.Dimension(),
		)
		if err != nil {
			return fmt.Errorf("recording index config: %w", err)
		}
		s.logger.Info("index config recorded",
			"model", s.embedder.Model(),
			"dimension", s.embedder.Dimension())
		return nil
	case err != nil:
		return fmt.Errorf("reading index config: %w", err)
	}

	if model != s.embedder.Model() || dimension != s.embedder.Dimension() {
		return fmt.Errorf("%w: index has model=%q dimension=%d, configured model=%q dimension=%d",
			ErrIndexConfigMismatch, model, dimension, s.embedder.Model(), s.embedder.Dimension())
	}
	return nil
}

// UpsertDocument records document metadata. Chunk rows reference it.
func (s *Store) UpsertDocument(ctx context.Context, doc document.Document, contentHash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (source_id, title, content_hash, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE
		SET title = EXCLUDED.title,
		    content_hash = EXCLUDED.content_hash,
		    fetched_at = EXCLUDED.fetched_at`,
		doc.SourceID, doc.Title, contentHash, doc.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.SourceID, err)
	}
	return nil
}

// ChunkHashes returns the content hash of every indexed chunk of a source,
// keyed by chunk ID. The indexer diffs against this to skip unchanged chunks.
func (s *Store) ChunkHashes(ctx context.Context, sourceID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, content_hash FROM chunks WHERE source_id = $1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing chunk hashes for %s: %w", sourceID, err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("scanning chunk hash: %w", err)
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// UpsertChunk embeds a chunk and writes it. The write is a single statement,
// so readers observe either the old row or the new one.
func (s *Store) UpsertChunk(ctx context.Context, c chunk.Chunk) error {
	embedding, err := s.embedder.Embed(ctx, c.Text)
	if err != nil {
		return fmt.Errorf("embedding chunk %s: %w", c.ID, err)
	}
	if len(embedding) != s.embedder.Dimension() {
		return fmt.Errorf("embedding chunk %s: got %d dimensions, want %d",
			c.ID, len(embedding), s.embedder.Dimension())
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO chunks (id, source_id, content, position, token_count, content_hash, embedding, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    token_count = EXCLUDED.token_count,
		    content_hash = EXCLUDED.content_hash,
		    embedding = EXCLUDED.embedding,
		    indexed_at = EXCLUDED.indexed_at`,
		c.ID, c.SourceID, c.Text, c.Position, c.TokenCount, c.Hash(), pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("upserting chunk %s: %w", c.ID, err)
	}
	return nil
}

// DeleteChunks removes chunks by ID. Used to clear rows whose text no longer
// appears in the re-fetched source.
func (s *Store) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// SourceIDs lists every indexed document. The indexer diffs this against a
// completed crawl to prune pages that no longer exist on the site.
func (s *Store) SourceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT source_id FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning source id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSource removes a document and all of its chunks.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	return nil
}

// Query returns the k chunks nearest to the embedding of text by cosine
// similarity, most similar first. Ties break toward the most recently
// indexed chunk.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Scored, error) {
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.QueryVector(ctx, embedding, k)
}

// QueryVector is Query with a precomputed embedding.
func (s *Store) QueryVector(ctx context.Context, embedding []float32, k int) ([]Scored, error) {
	if len(embedding) != s.embedder.Dimension() {
		return nil, fmt.Errorf("query embedding has %d dimensions, want %d",
			len(embedding), s.embedder.Dimension())
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, content, 1 - (embedding <=> $1) AS similarity, indexed_at
		FROM chunks
		ORDER BY embedding <=> $1, indexed_at DESC
		LIMIT $2`,
		pgvector.NewVector(embedding), k,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []Scored
	for rows.Next() {
		var sc Scored
		if err := rows.Scan(&sc.ChunkID, &sc.SourceID, &sc.Content, &sc.Similarity, &sc.IndexedAt); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

// Count returns the number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}
