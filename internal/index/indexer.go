package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"github.com/abitbot/abitbot/internal/chunk"
	"github.com/abitbot/abitbot/internal/document"
)

// ErrIndexLocked is returned when another indexing run holds the lock.
var ErrIndexLocked = errors.New("another indexing run is in progress")

// ChunkStore is the persistence surface the indexer writes to.
type ChunkStore interface {
	UpsertDocument(ctx context.Context, doc document.Document, contentHash string) error
	ChunkHashes(ctx context.Context, sourceID string) (map[string]string, error)
	UpsertChunk(ctx context.Context, c chunk.Chunk) error
	DeleteChunks(ctx context.Context, ids []string) error
	SourceIDs(ctx context.Context) ([]string, error)
	DeleteSource(ctx context.Context, sourceID string) error
}

// Result summarizes an indexing run.
type Result struct {
	Documents        int
	DocumentsFailed  int
	DocumentsRemoved int
	ChunksEmbedded   int
	ChunksUnchanged  int
	ChunksRemoved    int
	Duration         time.Duration
}

// Indexer runs the ingestion pipeline: fetch, normalize, chunk, diff against
// the already-indexed state, embed what changed, drop what disappeared.
// Unchanged chunks reproduce the same IDs and hashes, so re-indexing an
// unchanged corpus performs zero embedding calls.
type Indexer struct {
	loader        *document.Loader
	store         ChunkStore
	maxTokens     int
	overlapTokens int
	lockPath      string
	logger        *slog.Logger
}

// NewIndexer creates an Indexer. lockPath guards against concurrent runs
// across processes; pass "" to disable locking.
func NewIndexer(loader *document.Loader, store ChunkStore, maxTokens, overlapTokens int, lockPath string, logger *slog.Logger) (*Indexer, error) {
	if loader == nil {
		return nil, fmt.Errorf("indexer: loader is required")
	}
	if store == nil {
		return nil, fmt.Errorf("indexer: store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Indexer{
		loader:        loader,
		store:         store,
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
		lockPath:      lockPath,
		logger:        logger,
	}, nil
}

// Run indexes every document yielded by the fetcher. A malformed document is
// logged and counted, not fatal; the run continues with the rest of the
// corpus. Storage errors abort the run.
func (ix *Indexer) Run(ctx context.Context, fetcher document.Fetcher) (*Result, error) {
	if ix.lockPath != "" {
		lock := flock.New(ix.lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring index lock: %w", err)
		}
		if !locked {
			return nil, ErrIndexLocked
		}
		defer func() { _ = lock.Unlock() }()
	}

	start := time.Now()
	result := &Result{}
	seen := make(map[string]bool)

	err := fetcher.Fetch(ctx, func(raw document.Raw) error {
		// Failed documents still count as present on the site, so a page
		// that temporarily normalizes to nothing keeps its indexed chunks.
		seen[raw.SourceID] = true
		if err := ix.indexOne(ctx, raw, result); err != nil {
			if errors.Is(err, document.ErrInvalidDocument) {
				ix.logger.Warn("skipping invalid document", "source", raw.SourceID, "error", err)
				result.DocumentsFailed++
				return nil
			}
			return err
		}
		result.Documents++
		return nil
	})

	if err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("indexing run: %w", err)
	}

	if err := ix.pruneVanished(ctx, seen, result); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	result.Duration = time.Since(start)
	ix.logger.Info("indexing run complete",
		"documents", result.Documents,
		"failed", result.DocumentsFailed,
		"removed_documents", result.DocumentsRemoved,
		"embedded", result.ChunksEmbedded,
		"unchanged", result.ChunksUnchanged,
		"removed", result.ChunksRemoved,
		"duration", result.Duration)
	return result, nil
}

// pruneVanished deletes indexed documents the completed crawl never reached.
// A crawl that yielded nothing at all is treated as broken, not as an empty
// site, and prunes nothing.
func (ix *Indexer) pruneVanished(ctx context.Context, seen map[string]bool, result *Result) error {
	if len(seen) == 0 {
		return nil
	}

	indexed, err := ix.store.SourceIDs(ctx)
	if err != nil {
		return err
	}
	for _, sourceID := range indexed {
		if seen[sourceID] {
			continue
		}
		hashes, err := ix.store.ChunkHashes(ctx, sourceID)
		if err != nil {
			return err
		}
		if err := ix.store.DeleteSource(ctx, sourceID); err != nil {
			return err
		}
		result.DocumentsRemoved++
		result.ChunksRemoved += len(hashes)
		ix.logger.Info("pruned vanished document", "source", sourceID, "chunks", len(hashes))
	}
	return nil
}

func (ix *Indexer) indexOne(ctx context.Context, raw document.Raw, result *Result) error {
	doc, err := ix.loader.Normalize(raw)
	if err != nil {
		return err
	}

	chunks, err := chunk.Split(doc, ix.maxTokens, ix.overlapTokens)
	if err != nil {
		return err
	}

	existing, err := ix.store.ChunkHashes(ctx, doc.SourceID)
	if err != nil {
		return err
	}

	if err := ix.store.UpsertDocument(ctx, doc, contentHash(doc.Text)); err != nil {
		return err
	}

	current := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		current[c.ID] = true
		if existing[c.ID] == c.Hash() {
			result.ChunksUnchanged++
			continue
		}
		if err := ix.store.UpsertChunk(ctx, c); err != nil {
			return err
		}
		result.ChunksEmbedded++
	}

	var orphans []string
	for id := range existing {
		if !current[id] {
			orphans = append(orphans, id)
		}
	}
	if err := ix.store.DeleteChunks(ctx, orphans); err != nil {
		return err
	}
	result.ChunksRemoved += len(orphans)

	ix.logger.Debug("indexed document",
		"source", doc.SourceID,
		"chunks", len(chunks),
		"removed", len(orphans))
	return nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
