package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/abitbot/abitbot/internal/conversation"
)

// MemoryStore is an in-process conversation.Store. State is lost on
// restart; use it for tests and local development without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	convs    map[string]*conversation.Conversation
	feedback map[string]map[string]string // turn id -> user id -> verdict
	turns    map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[string]*conversation.Conversation),
		feedback: make(map[string]map[string]string),
		turns:    make(map[string]bool),
	}
}

// Load returns a copy of the stored conversation, or a fresh one for an
// unknown key.
func (s *MemoryStore) Load(_ context.Context, key, userID string) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[key]
	if !ok {
		return conversation.NewConversation(key, userID), nil
	}
	clone := *conv
	clone.Turns = append([]conversation.Turn(nil), conv.Turns...)
	return &clone, nil
}

// Save replaces the stored conversation state.
func (s *MemoryStore) Save(_ context.Context, conv *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *conv
	clone.Turns = append([]conversation.Turn(nil), conv.Turns...)
	s.convs[conv.Key] = &clone
	for _, turn := range clone.Turns {
		s.turns[turn.ID] = true
	}
	return nil
}

// RecordFeedback stores a verdict on a turn.
func (s *MemoryStore) RecordFeedback(_ context.Context, turnID, userID, verdict string) error {
	if verdict != VerdictUseful && verdict != VerdictNotUseful {
		return fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.turns[turnID] {
		return fmt.Errorf("%w: %s", ErrUnknownTurn, turnID)
	}
	if s.feedback[turnID] == nil {
		s.feedback[turnID] = make(map[string]string)
	}
	s.feedback[turnID][userID] = verdict
	return nil
}

// FeedbackSummary returns the verdict counts for a turn.
func (s *MemoryStore) FeedbackSummary(_ context.Context, turnID string) (useful, notUseful int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, verdict := range s.feedback[turnID] {
		if verdict == VerdictUseful {
			useful++
		} else {
			notUseful++
		}
	}
	return useful, notUseful, nil
}
