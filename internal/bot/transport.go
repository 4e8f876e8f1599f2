// Package bot connects a message transport to the conversation pipeline,
// spawning one task per inbound message.
package bot

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by Receive when the transport has shut
// down and no more messages will arrive.
var ErrTransportClosed = errors.New("transport closed")

// Inbound is one user message delivered by a transport.
type Inbound struct {
	// ID is an opaque per-message identifier assigned by the transport,
	// used to correlate the reply. May be empty for transports that route
	// replies by user.
	ID string
	// UserID identifies the sender across conversations.
	UserID string
	// ConversationID identifies the chat within the transport. Together
	// with UserID it keys the conversation.
	ConversationID string
	Text           string
}

// Key returns the conversation key for this message.
func (m Inbound) Key() string {
	return m.UserID + ":" + m.ConversationID
}

// Transport delivers inbound messages and carries replies back. Receive
// blocks until a message arrives, the transport closes (ErrTransportClosed)
// or ctx ends.
type Transport interface {
	Receive(ctx context.Context) (Inbound, error)
	Reply(ctx context.Context, to Inbound, text string) error
}
