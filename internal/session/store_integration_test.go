//go:build integration

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/abitbot/abitbot/internal/conversation"
	"github.com/abitbot/abitbot/internal/testutil"
)

func TestStorePersistsAcrossStoreInstances(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	first, err := NewStore(tdb.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	conv := conversation.NewConversation("user1:chat1", "user1")
	conv.Append(conversation.RoleUser, "When do applications open?", nil)
	conv.Append(conversation.RoleAssistant, "June 20.", []string{"chunk_a", "chunk_b"})
	if err := first.Save(ctx, conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// A new store over the same database stands in for a process restart.
	second, err := NewStore(tdb.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	loaded, err := second.Load(ctx, "user1:chat1", "user1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.ID != conv.ID {
		t.Errorf("ID = %s, want %s", loaded.ID, conv.ID)
	}
	if len(loaded.Turns) != 2 {
		t.Fatalf("loaded %d turns, want 2", len(loaded.Turns))
	}
	if loaded.Turns[0].Seq != 0 || loaded.Turns[1].Seq != 1 {
		t.Errorf("seqs = %d, %d; want 0, 1", loaded.Turns[0].Seq, loaded.Turns[1].Seq)
	}
	if got := loaded.Turns[1].RetrievedChunkIDs; len(got) != 2 || got[0] != "chunk_a" {
		t.Errorf("provenance = %v, want [chunk_a chunk_b]", got)
	}
}

func TestStoreSaveReplacesState(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	store, err := NewStore(tdb.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	conv := conversation.NewConversation("k", "u")
	conv.Append(conversation.RoleUser, "first", nil)
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}

	conv.Append(conversation.RoleAssistant, "reply", nil)
	conv.Append(conversation.RoleUser, "second", nil)
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "k", "u")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Turns) != 3 {
		t.Errorf("loaded %d turns, want 3", len(loaded.Turns))
	}
}

func TestStoreLoadUnknownKey(t *testing.T) {
	tdb := testutil.SetupTestDB(t)

	store, err := NewStore(tdb.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	conv, err := store.Load(context.Background(), "never-seen", "u9")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.Key != "never-seen" || len(conv.Turns) != 0 {
		t.Errorf("conv = %+v, want fresh empty conversation", conv)
	}
}

func TestStoreFeedback(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	store, err := NewStore(tdb.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	conv := conversation.NewConversation("k", "u1")
	turn := conv.Append(conversation.RoleAssistant, "answer", nil)
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.RecordFeedback(ctx, turn.ID, "u1", VerdictUseful); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}
	if err := store.RecordFeedback(ctx, turn.ID, "u1", VerdictNotUseful); err != nil {
		t.Fatalf("overwriting RecordFeedback() error = %v", err)
	}

	useful, notUseful, err := store.FeedbackSummary(ctx, turn.ID)
	if err != nil {
		t.Fatalf("FeedbackSummary() error = %v", err)
	}
	if useful != 0 || notUseful != 1 {
		t.Errorf("summary = %d/%d, want 0/1 after overwrite", useful, notUseful)
	}

	if err := store.RecordFeedback(ctx, "00000000-0000-0000-0000-000000000000", "u1", VerdictUseful); !errors.Is(err, ErrUnknownTurn) {
		t.Errorf("RecordFeedback() on missing turn error = %v, want ErrUnknownTurn", err)
	}

	stats, err := store.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stats.Conversations != 1 || stats.Turns != 1 {
		t.Errorf("stats = %+v, want 1 conversation, 1 turn", stats)
	}
}
