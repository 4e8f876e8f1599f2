// Package provider abstracts LLM backends behind a single Complete call and
// routes requests across an ordered provider list with fallback.
package provider

import (
	"context"
	"time"
)

// Message roles in a completion request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the prompt.
type Message struct {
	Role    string
	Content string
}

// Request is a completion request. System carries the instruction prompt;
// Messages hold the conversation, oldest first, ending with the user turn
// being answered. Stop sequences truncate generation at the first match.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int32
	Temperature *float32
	Stop        []string
}

// Result is a successful completion.
type Result struct {
	Text             string
	Provider         string
	Model            string
	PromptTokens     int32
	CompletionTokens int32
	FinishReason     string
}

// CallRecord documents one provider attempt, success or not.
type CallRecord struct {
	Provider  string
	Model     string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Provider generates a completion for a request. Implementations return
// errors wrapped in one of the package sentinels so the router can decide
// whether to fall through to the next provider.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (*Result, error)
}
