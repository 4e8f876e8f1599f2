package session

import (
	"context"
	"errors"
	"testing"

	"github.com/abitbot/abitbot/internal/conversation"
)

func TestMemoryStoreLoadUnknownKey(t *testing.T) {
	store := NewMemoryStore()

	conv, err := store.Load(context.Background(), "u1:c1", "u1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.Key != "u1:c1" || conv.UserID != "u1" {
		t.Errorf("conv = %+v, want fresh conversation for key", conv)
	}
	if len(conv.Turns) != 0 {
		t.Errorf("fresh conversation has %d turns", len(conv.Turns))
	}
	if conv.ID == "" {
		t.Error("fresh conversation has empty ID")
	}
}

func TestMemoryStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := conversation.NewConversation("u1:c1", "u1")
	conv.Append(conversation.RoleUser, "when are exams?", nil)
	conv.Append(conversation.RoleAssistant, "Exams run in July.", []string{"chunk_x"})
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "u1:c1", "u1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ID != conv.ID {
		t.Errorf("ID = %s, want %s", loaded.ID, conv.ID)
	}
	if len(loaded.Turns) != 2 {
		t.Fatalf("loaded %d turns, want 2", len(loaded.Turns))
	}
	if got := loaded.Turns[1].RetrievedChunkIDs; len(got) != 1 || got[0] != "chunk_x" {
		t.Errorf("provenance = %v, want [chunk_x]", got)
	}

	// Mutating the loaded copy must not leak into the store.
	loaded.Append(conversation.RoleUser, "scratch", nil)
	again, _ := store.Load(ctx, "u1:c1", "u1")
	if len(again.Turns) != 2 {
		t.Errorf("store state mutated through loaded copy: %d turns", len(again.Turns))
	}
}

func TestMemoryStoreFeedback(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := conversation.NewConversation("k", "u1")
	turn := conv.Append(conversation.RoleAssistant, "answer", nil)
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.RecordFeedback(ctx, turn.ID, "u1", VerdictUseful); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}
	if err := store.RecordFeedback(ctx, turn.ID, "u2", VerdictNotUseful); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}
	// Same user changes their mind: last verdict wins.
	if err := store.RecordFeedback(ctx, turn.ID, "u2", VerdictUseful); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}

	useful, notUseful, err := store.FeedbackSummary(ctx, turn.ID)
	if err != nil {
		t.Fatalf("FeedbackSummary() error = %v", err)
	}
	if useful != 2 || notUseful != 0 {
		t.Errorf("summary = %d/%d, want 2/0", useful, notUseful)
	}
}

func TestMemoryStoreFeedbackUnknownTurn(t *testing.T) {
	store := NewMemoryStore()
	err := store.RecordFeedback(context.Background(), "missing", "u1", VerdictUseful)
	if !errors.Is(err, ErrUnknownTurn) {
		t.Errorf("RecordFeedback() error = %v, want ErrUnknownTurn", err)
	}
}

func TestMemoryStoreFeedbackInvalidVerdict(t *testing.T) {
	store := NewMemoryStore()
	if err := store.RecordFeedback(context.Background(), "t", "u", "meh"); err == nil {
		t.Error("RecordFeedback() error = nil for invalid verdict")
	}
}
