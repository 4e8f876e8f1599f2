package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/abitbot/abitbot/internal/chunk"
	"github.com/abitbot/abitbot/internal/provider"
	"github.com/abitbot/abitbot/internal/retrieve"
)

// Retriever fetches chunks relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieve.ScoredChunk, error)
}

// Completer generates a reply for an assembled request.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (*provider.Result, []provider.CallRecord, error)
}

// Reply is the outcome of processing one user message.
type Reply struct {
	Text              string
	Provider          string
	Model             string
	RetrievedChunkIDs []string
	// Grounded is false when nothing relevant was retrieved and the
	// assistant answered from the system instruction alone.
	Grounded bool
}

// Manager serializes message processing per conversation and runs the
// retrieve-assemble-generate pipeline for each message. Messages for the
// same conversation are processed strictly in arrival order; different
// conversations proceed independently.
type Manager struct {
	store         Store
	retriever     Retriever
	completer     Completer
	systemPrompt  string
	historyBudget int
	maxReply      int32
	logger        *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	pending []task
	running bool
}

type task struct {
	ctx    context.Context
	key    string
	userID string
	text   string
	done   chan outcome
}

type outcome struct {
	reply *Reply
	err   error
}

// NewManager creates a Manager.
func NewManager(store Store, retriever Retriever, completer Completer, systemPrompt string, historyBudget int, maxReply int32, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("manager: store is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("manager: retriever is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("manager: completer is required")
	}
	if historyBudget < 0 {
		return nil, fmt.Errorf("manager: history budget must not be negative")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:         store,
		retriever:     retriever,
		completer:     completer,
		systemPrompt:  systemPrompt,
		historyBudget: historyBudget,
		maxReply:      maxReply,
		logger:        logger,
		workers:       make(map[string]*worker),
	}, nil
}

// Ask processes one user message and returns the assistant reply. Calls for
// the same key queue behind each other in arrival order. The message is
// still processed if ctx expires while queued; only the caller stops
// waiting.
func (m *Manager) Ask(ctx context.Context, key, userID, text string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("manager: empty message")
	}

	t := task{ctx: ctx, key: key, userID: userID, text: text, done: make(chan outcome, 1)}
	m.enqueue(t)

	select {
	case out := <-t.done:
		return out.reply, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) enqueue(t task) {
	m.mu.Lock()
	w := m.workers[t.key]
	if w == nil {
		w = &worker{}
		m.workers[t.key] = w
	}
	w.pending = append(w.pending, t)
	start := !w.running
	if start {
		w.running = true
	}
	m.mu.Unlock()

	if start {
		go m.drain(t.key, w)
	}
}

func (m *Manager) drain(key string, w *worker) {
	for {
		m.mu.Lock()
		if len(w.pending) == 0 {
			w.running = false
			delete(m.workers, key)
			m.mu.Unlock()
			return
		}
		t := w.pending[0]
		w.pending = w.pending[1:]
		m.mu.Unlock()

		reply, err := m.process(t)
		t.done <- outcome{reply: reply, err: err}
	}
}

func (m *Manager) process(t task) (*Reply, error) {
	ctx := t.ctx

	conv, err := m.store.Load(ctx, t.key, t.userID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	chunks, err := m.retriever.Retrieve(ctx, t.text)
	if err != nil {
		return nil, m.failTurn(ctx, conv, t.text, fmt.Errorf("retrieval: %w", err))
	}

	req := m.assemble(conv, t.text, chunks)
	result, records, err := m.completer.Complete(ctx, req)
	if err != nil {
		m.logger.Error("completion failed",
			"conversation", conv.ID,
			"attempts", len(records),
			"error", err)
		return nil, m.failTurn(ctx, conv, t.text, err)
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ChunkID
	}

	// Both turns are appended before a single save, so history never holds
	// an assistant turn without its user turn or vice versa.
	conv.Append(RoleUser, t.text, nil)
	conv.Append(RoleAssistant, result.Text, chunkIDs)
	if err := m.store.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("saving conversation: %w", err)
	}

	m.logger.Info("message answered",
		"conversation", conv.ID,
		"provider", result.Provider,
		"chunks", len(chunkIDs),
		"turns", len(conv.Turns))

	return &Reply{
		Text:              result.Text,
		Provider:          result.Provider,
		Model:             result.Model,
		RetrievedChunkIDs: chunkIDs,
		Grounded:          len(chunkIDs) > 0,
	}, nil
}

// failTurn records the user turn so history stays faithful even when no
// answer was produced, then returns the processing error.
func (m *Manager) failTurn(ctx context.Context, conv *Conversation, text string, cause error) error {
	conv.Append(RoleUser, text, nil)
	if saveErr := m.store.Save(ctx, conv); saveErr != nil {
		m.logger.Error("saving failed turn", "conversation", conv.ID, "error", saveErr)
	}
	return cause
}

// assemble builds the completion request: system instruction plus retrieved
// excerpts, then as much recent history as the token budget allows, then
// the current message.
func (m *Manager) assemble(conv *Conversation, text string, chunks []retrieve.ScoredChunk) provider.Request {
	var system strings.Builder
	system.WriteString(m.systemPrompt)

	if len(chunks) > 0 {
		system.WriteString("\n\nReference excerpts:\n")
		for i, c := range chunks {
			fmt.Fprintf(&system, "\n[%d] (source: %s)\n%s\n", i+1, c.SourceID, c.Content)
		}
	} else {
		system.WriteString("\n\nNo reference excerpts matched this question. " +
			"Say that you do not have enough information and suggest contacting the admissions office directly.")
	}

	messages := append(m.historyWindow(conv), provider.Message{
		Role:    provider.RoleUser,
		Content: text,
	})

	return provider.Request{
		System:    system.String(),
		Messages:  messages,
		MaxTokens: m.maxReply,
	}
}

// historyWindow returns the most recent prior turns fitting the token
// budget, oldest first.
func (m *Manager) historyWindow(conv *Conversation) []provider.Message {
	if m.historyBudget == 0 || len(conv.Turns) == 0 {
		return nil
	}

	budget := m.historyBudget
	start := len(conv.Turns)
	for i := len(conv.Turns) - 1; i >= 0; i-- {
		cost := chunk.EstimateTokens(conv.Turns[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}

	window := conv.Turns[start:]
	messages := make([]provider.Message, 0, len(window))
	for _, turn := range window {
		role := provider.RoleUser
		if turn.Role == RoleAssistant {
			role = provider.RoleAssistant
		}
		messages = append(messages, provider.Message{Role: role, Content: turn.Content})
	}
	return messages
}
