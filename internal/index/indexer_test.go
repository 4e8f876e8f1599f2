package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/abitbot/abitbot/internal/chunk"
	"github.com/abitbot/abitbot/internal/document"
)

type fakeStore struct {
	documents  map[string]string      // source_id -> content hash
	chunks     map[string]chunk.Chunk // chunk id -> chunk
	embedded   []string               // chunk ids passed to UpsertChunk, in order
	failUpsert bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		documents: make(map[string]string),
		chunks:    make(map[string]chunk.Chunk),
	}
}

func (s *fakeStore) UpsertDocument(_ context.Context, doc document.Document, contentHash string) error {
	s.documents[doc.SourceID] = contentHash
	return nil
}

func (s *fakeStore) ChunkHashes(_ context.Context, sourceID string) (map[string]string, error) {
	hashes := make(map[string]string)
	for id, c := range s.chunks {
		if c.SourceID == sourceID {
			hashes[id] = c.Hash()
		}
	}
	return hashes, nil
}

func (s *fakeStore) UpsertChunk(_ context.Context, c chunk.Chunk) error {
	if s.failUpsert {
		return errors.New("store unavailable")
	}
	s.chunks[c.ID] = c
	s.embedded = append(s.embedded, c.ID)
	return nil
}

func (s *fakeStore) DeleteChunks(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(s.chunks, id)
	}
	return nil
}

func (s *fakeStore) SourceIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) DeleteSource(_ context.Context, sourceID string) error {
	delete(s.documents, sourceID)
	for id, c := range s.chunks {
		if c.SourceID == sourceID {
			delete(s.chunks, id)
		}
	}
	return nil
}

type sliceFetcher struct {
	raws []document.Raw
}

func (f *sliceFetcher) Fetch(_ context.Context, yield func(document.Raw) error) error {
	for _, raw := range f.raws {
		if err := yield(raw); err != nil {
			return err
		}
	}
	return nil
}

func pageHTML(body string) []byte {
	return fmt.Appendf(nil, `<html><head><title>Admissions</title></head><body><article>%s</article></body></html>`, body)
}

func testRaws() []document.Raw {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []document.Raw{
		{
			SourceID:  "https://example.edu/admissions",
			HTML:      pageHTML("<p>Applications open on June 20 and close on July 25. Submit your documents through the applicant portal before the deadline.</p>"),
			FetchedAt: now,
		},
		{
			SourceID:  "https://example.edu/dorms",
			HTML:      pageHTML("<p>Dormitory places are assigned by priority score. Out-of-town students apply together with their enrollment documents.</p>"),
			FetchedAt: now,
		},
	}
}

func newTestIndexer(t *testing.T, store ChunkStore) *Indexer {
	t.Helper()
	ix, err := NewIndexer(document.NewLoader(nil), store, 50, 10, "", nil)
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	return ix
}

func TestIndexerRun(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(t, store)

	result, err := ix.Run(context.Background(), &sliceFetcher{raws: testRaws()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Documents != 2 {
		t.Errorf("Documents = %d, want 2", result.Documents)
	}
	if result.ChunksEmbedded == 0 {
		t.Error("ChunksEmbedded = 0, want > 0")
	}
	if result.ChunksEmbedded != len(store.chunks) {
		t.Errorf("ChunksEmbedded = %d, stored %d", result.ChunksEmbedded, len(store.chunks))
	}
	if len(store.documents) != 2 {
		t.Errorf("stored %d documents, want 2", len(store.documents))
	}
}

func TestIndexerRunIdempotent(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(t, store)
	fetcher := &sliceFetcher{raws: testRaws()}

	if _, err := ix.Run(context.Background(), fetcher); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	embeddedOnce := len(store.embedded)

	result, err := ix.Run(context.Background(), fetcher)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if result.ChunksEmbedded != 0 {
		t.Errorf("second run ChunksEmbedded = %d, want 0", result.ChunksEmbedded)
	}
	if result.ChunksUnchanged != embeddedOnce {
		t.Errorf("second run ChunksUnchanged = %d, want %d", result.ChunksUnchanged, embeddedOnce)
	}
	if result.ChunksRemoved != 0 {
		t.Errorf("second run ChunksRemoved = %d, want 0", result.ChunksRemoved)
	}
}

func TestIndexerRunReembedsChangedDocument(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(t, store)
	raws := testRaws()

	if _, err := ix.Run(context.Background(), &sliceFetcher{raws: raws}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	raws[0].HTML = pageHTML("<p>Applications open on June 20 and close on August 10. The deadline was extended for all programs this year.</p>")
	result, err := ix.Run(context.Background(), &sliceFetcher{raws: raws})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if result.ChunksEmbedded == 0 {
		t.Error("ChunksEmbedded = 0 after document change, want > 0")
	}
	if result.ChunksRemoved == 0 {
		t.Error("ChunksRemoved = 0 after document change, want > 0")
	}
	if result.ChunksUnchanged == 0 {
		t.Error("ChunksUnchanged = 0, unchanged document should be skipped")
	}
}

func TestIndexerRunSkipsInvalidDocument(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(t, store)

	raws := append(testRaws(), document.Raw{
		SourceID: "https://example.edu/empty",
		HTML:     []byte("<html><body><script>x()</script></body></html>"),
	})

	result, err := ix.Run(context.Background(), &sliceFetcher{raws: raws})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Documents != 2 {
		t.Errorf("Documents = %d, want 2", result.Documents)
	}
	if result.DocumentsFailed != 1 {
		t.Errorf("DocumentsFailed = %d, want 1", result.DocumentsFailed)
	}
}

func TestIndexerRunPrunesVanishedDocument(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(t, store)
	raws := testRaws()

	if _, err := ix.Run(context.Background(), &sliceFetcher{raws: raws}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if len(store.documents) != 2 {
		t.Fatalf("stored %d documents, want 2", len(store.documents))
	}

	// The dorms page disappears from the site.
	result, err := ix.Run(context.Background(), &sliceFetcher{raws: raws[:1]})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if result.DocumentsRemoved != 1 {
		t.Errorf("DocumentsRemoved = %d, want 1", result.DocumentsRemoved)
	}
	if result.ChunksRemoved == 0 {
		t.Error("ChunksRemoved = 0, want the vanished page's chunks")
	}
	if _, ok := store.documents["https://example.edu/dorms"]; ok {
		t.Error("vanished document still stored")
	}
	for id, c := range store.chunks {
		if c.SourceID == "https://example.edu/dorms" {
			t.Errorf("chunk %s of vanished document still stored", id)
		}
	}
	if _, ok := store.documents["https://example.edu/admissions"]; !ok {
		t.Error("surviving document was pruned")
	}
}

func TestIndexerRunEmptyCrawlPrunesNothing(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(t, store)

	if _, err := ix.Run(context.Background(), &sliceFetcher{raws: testRaws()}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	stored := len(store.documents)

	// A crawl that reaches nothing is a broken crawl, not an empty site.
	if _, err := ix.Run(context.Background(), &sliceFetcher{}); err != nil {
		t.Fatalf("empty Run() error = %v", err)
	}
	if len(store.documents) != stored {
		t.Errorf("stored documents = %d after empty crawl, want %d", len(store.documents), stored)
	}
}

func TestIndexerRunKeepsInvalidDocumentIndexed(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(t, store)
	raws := testRaws()

	if _, err := ix.Run(context.Background(), &sliceFetcher{raws: raws}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// The dorms page is still reachable but temporarily normalizes to
	// nothing; its previously indexed chunks must survive.
	raws[1].HTML = []byte("<html><body><script>x()</script></body></html>")
	result, err := ix.Run(context.Background(), &sliceFetcher{raws: raws})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if result.DocumentsRemoved != 0 {
		t.Errorf("DocumentsRemoved = %d, want 0", result.DocumentsRemoved)
	}
	if _, ok := store.documents["https://example.edu/dorms"]; !ok {
		t.Error("failed document was pruned while still on the site")
	}
}

func TestIndexerRunStoreErrorAborts(t *testing.T) {
	store := newFakeStore()
	store.failUpsert = true
	ix := newTestIndexer(t, store)

	if _, err := ix.Run(context.Background(), &sliceFetcher{raws: testRaws()}); err == nil {
		t.Fatal("Run() error = nil, want storage error")
	}
}

func TestIndexerLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "index.lock")
	store := newFakeStore()

	ix, err := NewIndexer(document.NewLoader(nil), store, 50, 10, lockPath, nil)
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}

	blocking := &blockingFetcher{entered: make(chan struct{}), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		_, err := ix.Run(context.Background(), blocking)
		done <- err
	}()
	<-blocking.entered

	second, err := NewIndexer(document.NewLoader(nil), store, 50, 10, lockPath, nil)
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	if _, err := second.Run(context.Background(), &sliceFetcher{}); !errors.Is(err, ErrIndexLocked) {
		t.Errorf("Run() error = %v, want ErrIndexLocked", err)
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Errorf("first Run() error = %v", err)
	}
}

type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Fetch(_ context.Context, _ func(document.Raw) error) error {
	close(f.entered)
	<-f.release
	return nil
}
