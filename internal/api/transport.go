package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/abitbot/abitbot/internal/bot"
)

// HTTPTransport bridges synchronous HTTP chat requests onto bot.Transport.
// Each request enqueues one Inbound message and blocks until the bot
// replies to it; replies are matched by message ID.
type HTTPTransport struct {
	queue chan bot.Inbound
	done  chan struct{}

	mu      sync.Mutex
	waiters map[string]chan string
	closed  bool
}

// NewHTTPTransport creates the bridge. queueSize bounds how many requests
// may sit between the handler and the bot loop.
func NewHTTPTransport(queueSize int) *HTTPTransport {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &HTTPTransport{
		queue:   make(chan bot.Inbound, queueSize),
		done:    make(chan struct{}),
		waiters: make(map[string]chan string),
	}
}

// Receive implements bot.Transport.
func (t *HTTPTransport) Receive(ctx context.Context) (bot.Inbound, error) {
	select {
	case msg := <-t.queue:
		return msg, nil
	case <-t.done:
		return bot.Inbound{}, bot.ErrTransportClosed
	case <-ctx.Done():
		return bot.Inbound{}, ctx.Err()
	}
}

// Reply implements bot.Transport, delivering the text to the HTTP request
// waiting on the message.
func (t *HTTPTransport) Reply(_ context.Context, to bot.Inbound, text string) error {
	t.mu.Lock()
	ch, ok := t.waiters[to.ID]
	delete(t.waiters, to.ID)
	t.mu.Unlock()
	if !ok {
		// The request gave up before the answer arrived.
		return fmt.Errorf("no waiter for message %s", to.ID)
	}
	ch <- text
	return nil
}

// Close stops accepting new messages. In-flight messages still get replies.
func (t *HTTPTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}

// Submit enqueues a chat message and waits for its reply.
func (t *HTTPTransport) Submit(ctx context.Context, userID, conversationID, text string) (string, error) {
	msg := bot.Inbound{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Text:           text,
	}

	ch := make(chan string, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", bot.ErrTransportClosed
	}
	t.waiters[msg.ID] = ch
	t.mu.Unlock()

	select {
	case t.queue <- msg:
	case <-t.done:
		t.abandon(msg.ID)
		return "", bot.ErrTransportClosed
	case <-ctx.Done():
		t.abandon(msg.ID)
		return "", ctx.Err()
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		t.abandon(msg.ID)
		return "", ctx.Err()
	}
}

func (t *HTTPTransport) abandon(id string) {
	t.mu.Lock()
	delete(t.waiters, id)
	t.mu.Unlock()
}
