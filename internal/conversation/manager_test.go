package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/abitbot/abitbot/internal/provider"
	"github.com/abitbot/abitbot/internal/retrieve"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	mu    sync.Mutex
	convs map[string]*Conversation
	saves int
	err   error
}

func newMemStore() *memStore {
	return &memStore{convs: make(map[string]*Conversation)}
}

func (s *memStore) Load(_ context.Context, key, userID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if conv, ok := s.convs[key]; ok {
		clone := *conv
		clone.Turns = append([]Turn(nil), conv.Turns...)
		return &clone, nil
	}
	return NewConversation(key, userID), nil
}

func (s *memStore) Save(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	clone := *conv
	clone.Turns = append([]Turn(nil), conv.Turns...)
	s.convs[conv.Key] = &clone
	return nil
}

func (s *memStore) get(key string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[key]
}

type stubRetriever struct {
	chunks []retrieve.ScoredChunk
	err    error
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string) ([]retrieve.ScoredChunk, error) {
	return r.chunks, r.err
}

type recordingCompleter struct {
	mu       sync.Mutex
	requests []provider.Request
	reply    string
	err      error
	delay    time.Duration
}

func (c *recordingCompleter) Complete(_ context.Context, req provider.Request) (*provider.Result, []provider.CallRecord, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.err != nil {
		return nil, nil, c.err
	}
	return &provider.Result{Text: c.reply, Provider: "stub", Model: "stub-model"}, nil, nil
}

func (c *recordingCompleter) seen() []provider.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Request(nil), c.requests...)
}

func twoChunks() []retrieve.ScoredChunk {
	return []retrieve.ScoredChunk{
		{ChunkID: "chunk_a", SourceID: "https://example.edu/admissions", Content: "Applications open June 20.", Score: 0.9},
		{ChunkID: "chunk_b", SourceID: "https://example.edu/admissions", Content: "Applications close July 25.", Score: 0.8},
	}
}

func newTestManager(t *testing.T, store Store, r Retriever, c Completer) *Manager {
	t.Helper()
	m, err := NewManager(store, r, c, "You answer admissions questions.", 2000, 0, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestAskAppendsBothTurns(t *testing.T) {
	store := newMemStore()
	completer := &recordingCompleter{reply: "They open on June 20."}
	m := newTestManager(t, store, &stubRetriever{chunks: twoChunks()}, completer)

	reply, err := m.Ask(context.Background(), "user1:chat1", "user1", "When do applications open?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if reply.Text != "They open on June 20." {
		t.Errorf("reply = %q", reply.Text)
	}
	if !reply.Grounded {
		t.Error("Grounded = false, want true")
	}
	if len(reply.RetrievedChunkIDs) != 2 {
		t.Errorf("RetrievedChunkIDs = %v, want 2 ids", reply.RetrievedChunkIDs)
	}

	conv := store.get("user1:chat1")
	if conv == nil {
		t.Fatal("conversation not saved")
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("saved %d turns, want 2", len(conv.Turns))
	}
	if conv.Turns[0].Role != RoleUser || conv.Turns[1].Role != RoleAssistant {
		t.Errorf("turn roles = %s, %s", conv.Turns[0].Role, conv.Turns[1].Role)
	}
	if len(conv.Turns[0].RetrievedChunkIDs) != 0 {
		t.Error("user turn should not carry chunk provenance")
	}
	if got := conv.Turns[1].RetrievedChunkIDs; len(got) != 2 || got[0] != "chunk_a" || got[1] != "chunk_b" {
		t.Errorf("assistant provenance = %v, want [chunk_a chunk_b]", got)
	}
	if conv.Turns[0].Seq != 0 || conv.Turns[1].Seq != 1 {
		t.Errorf("turn seqs = %d, %d", conv.Turns[0].Seq, conv.Turns[1].Seq)
	}
}

func TestAskPromptContainsExcerptsAndProvenance(t *testing.T) {
	completer := &recordingCompleter{reply: "ok"}
	m := newTestManager(t, newMemStore(), &stubRetriever{chunks: twoChunks()}, completer)

	if _, err := m.Ask(context.Background(), "k", "u", "deadlines?"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	reqs := completer.seen()
	if len(reqs) != 1 {
		t.Fatalf("completer saw %d requests, want 1", len(reqs))
	}
	sys := reqs[0].System
	for _, want := range []string{
		"Applications open June 20.",
		"Applications close July 25.",
		"source: https://example.edu/admissions",
		"[1]", "[2]",
	} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	if last.Role != provider.RoleUser || last.Content != "deadlines?" {
		t.Errorf("last message = %+v, want the current user message", last)
	}
}

func TestAskNothingRetrieved(t *testing.T) {
	completer := &recordingCompleter{reply: "I do not have enough information."}
	m := newTestManager(t, newMemStore(), &stubRetriever{}, completer)

	reply, err := m.Ask(context.Background(), "k", "u", "what color is the rector's car?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if reply.Grounded {
		t.Error("Grounded = true, want false")
	}
	if len(reply.RetrievedChunkIDs) != 0 {
		t.Errorf("RetrievedChunkIDs = %v, want none", reply.RetrievedChunkIDs)
	}

	sys := completer.seen()[0].System
	if !strings.Contains(sys, "No reference excerpts matched") {
		t.Error("system prompt missing the no-context instruction")
	}
}

func TestAskCompletionFailureKeepsUserTurn(t *testing.T) {
	store := newMemStore()
	wantErr := &provider.AllProvidersFailed{Attempts: []provider.CallRecord{{Provider: "p"}}}
	completer := &recordingCompleter{err: wantErr}
	m := newTestManager(t, store, &stubRetriever{chunks: twoChunks()}, completer)

	_, err := m.Ask(context.Background(), "k", "u", "hello?")
	var allFailed *provider.AllProvidersFailed
	if !errors.As(err, &allFailed) {
		t.Fatalf("Ask() error = %v, want *AllProvidersFailed", err)
	}

	conv := store.get("k")
	if conv == nil {
		t.Fatal("conversation not saved after failure")
	}
	if len(conv.Turns) != 1 || conv.Turns[0].Role != RoleUser {
		t.Errorf("turns after failure = %+v, want only the user turn", conv.Turns)
	}
}

func TestAskSerializesPerConversation(t *testing.T) {
	completer := &recordingCompleter{reply: "ok", delay: 10 * time.Millisecond}
	m := newTestManager(t, newMemStore(), &stubRetriever{}, completer)

	tasks := make([]task, 3)
	for i, text := range []string{"first", "second", "third"} {
		tasks[i] = task{
			ctx:    context.Background(),
			key:    "same-key",
			userID: "u",
			text:   text,
			done:   make(chan outcome, 1),
		}
		m.enqueue(tasks[i])
	}
	for i := range tasks {
		out := <-tasks[i].done
		if out.err != nil {
			t.Fatalf("task %d error = %v", i, out.err)
		}
	}

	reqs := completer.seen()
	if len(reqs) != 3 {
		t.Fatalf("completer saw %d requests, want 3", len(reqs))
	}
	for i, want := range []string{"first", "second", "third"} {
		got := reqs[i].Messages[len(reqs[i].Messages)-1].Content
		if got != want {
			t.Errorf("request %d message = %q, want %q", i, got, want)
		}
	}
}

func TestAskIndependentConversationsProceed(t *testing.T) {
	completer := &recordingCompleter{reply: "ok"}
	m := newTestManager(t, newMemStore(), &stubRetriever{}, completer)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Ask(context.Background(), key, "u", "hi"); err != nil {
				t.Errorf("Ask(%s) error = %v", key, err)
			}
		}()
	}
	wg.Wait()

	if len(completer.seen()) != 4 {
		t.Errorf("completer saw %d requests, want 4", len(completer.seen()))
	}
}

func TestAskHistoryWindowRespectsBudget(t *testing.T) {
	store := newMemStore()
	conv := NewConversation("k", "u")
	for range 50 {
		conv.Append(RoleUser, strings.Repeat("question word ", 20), nil)
		conv.Append(RoleAssistant, strings.Repeat("answer word ", 20), nil)
	}
	if err := store.Save(context.Background(), conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	completer := &recordingCompleter{reply: "ok"}
	m, err := NewManager(store, &stubRetriever{}, completer, "sys", 200, 0, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if _, err := m.Ask(context.Background(), "k", "u", "latest?"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	req := completer.seen()[0]
	history := req.Messages[:len(req.Messages)-1]
	if len(history) == 0 {
		t.Fatal("history window empty, want some recent turns")
	}
	if len(history) >= 100 {
		t.Errorf("history has %d messages, want a bounded window", len(history))
	}
	// The newest prior turn must be present.
	if history[len(history)-1].Role != provider.RoleAssistant {
		t.Errorf("last history role = %s, want the most recent assistant turn", history[len(history)-1].Role)
	}
}

func TestAskEmptyMessage(t *testing.T) {
	m := newTestManager(t, newMemStore(), &stubRetriever{}, &recordingCompleter{reply: "ok"})
	if _, err := m.Ask(context.Background(), "k", "u", "   "); err == nil {
		t.Error("Ask() error = nil for blank message")
	}
}
