// Package conversation manages per-user dialogue state and turns each
// inbound message into a grounded completion.
package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation. Assistant turns carry the IDs of
// the chunks that were in the generating prompt, exactly as retrieved.
type Turn struct {
	ID                string
	Seq               int
	Role              string
	Content           string
	RetrievedChunkIDs []string
	CreatedAt         time.Time
}

// Conversation is the dialogue history for one (user, chat) key.
type Conversation struct {
	ID        string
	Key       string
	UserID    string
	Turns     []Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewConversation creates an empty conversation for a key.
func NewConversation(key, userID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.NewString(),
		Key:       key,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn with the next sequence number.
func (c *Conversation) Append(role, content string, chunkIDs []string) Turn {
	turn := Turn{
		ID:                uuid.NewString(),
		Seq:               len(c.Turns),
		Role:              role,
		Content:           content,
		RetrievedChunkIDs: chunkIDs,
		CreatedAt:         time.Now().UTC(),
	}
	c.Turns = append(c.Turns, turn)
	c.UpdatedAt = turn.CreatedAt
	return turn
}

// Store persists conversations. Load returns an empty conversation for an
// unknown key; Save replaces the stored state.
type Store interface {
	Load(ctx context.Context, key, userID string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
}
