package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abitbot/abitbot/internal/admission"
	"github.com/abitbot/abitbot/internal/conversation"
)

// User-facing replies for messages that never reach a provider.
const (
	MsgThrottled = "You are sending messages too quickly. Please wait a moment and try again."
	MsgBusy      = "The assistant is handling a lot of questions right now. Please try again in a minute."
	MsgFailed    = "Something went wrong while answering. Please try again, or contact the admissions office directly."
)

// Asker runs the conversation pipeline for one message.
type Asker interface {
	Ask(ctx context.Context, key, userID, text string) (*conversation.Reply, error)
}

// Bot reads messages from a transport and processes each in its own task.
// Per-conversation ordering is enforced downstream by the manager, so
// messages from different users never wait on each other here.
type Bot struct {
	transport  Transport
	asker      Asker
	limiter    *admission.UserLimiter
	gate       *admission.Gate
	askTimeout time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

// New creates a Bot. askTimeout bounds the whole pipeline for one message,
// queueing included; zero means no bound.
func New(transport Transport, asker Asker, limiter *admission.UserLimiter, gate *admission.Gate, askTimeout time.Duration, logger *slog.Logger) (*Bot, error) {
	if transport == nil {
		return nil, fmt.Errorf("bot: transport is required")
	}
	if asker == nil {
		return nil, fmt.Errorf("bot: asker is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("bot: limiter is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bot{
		transport:  transport,
		asker:      asker,
		limiter:    limiter,
		gate:       gate,
		askTimeout: askTimeout,
		logger:     logger,
	}, nil
}

// Run receives messages until ctx ends or the transport closes, then waits
// for in-flight tasks to finish.
func (b *Bot) Run(ctx context.Context) error {
	defer b.wg.Wait()

	for {
		msg, err := b.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || errors.Is(err, context.Canceled) {
				b.logger.Info("transport closed, draining in-flight messages")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving message: %w", err)
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handle(ctx, msg)
		}()
	}
}

func (b *Bot) handle(ctx context.Context, msg Inbound) {
	if err := b.limiter.Allow(msg.UserID); err != nil {
		b.logger.Warn("message throttled", "user", msg.UserID)
		b.reply(ctx, msg, MsgThrottled)
		return
	}

	if b.askTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.askTimeout)
		defer cancel()
	}

	if b.gate != nil {
		release, err := b.gate.Acquire(ctx)
		if err != nil {
			b.logger.Warn("no outbound slot for message",
				"user", msg.UserID,
				"error", err)
			b.reply(ctx, msg, MsgBusy)
			return
		}
		defer release()
	}

	reply, err := b.asker.Ask(ctx, msg.Key(), msg.UserID, msg.Text)
	if err != nil {
		b.logger.Error("message processing failed",
			"user", msg.UserID,
			"conversation", msg.Key(),
			"error", err)
		b.reply(ctx, msg, MsgFailed)
		return
	}

	b.reply(ctx, msg, reply.Text)
}

func (b *Bot) reply(ctx context.Context, to Inbound, text string) {
	// Replies should still go out during shutdown drain.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := b.transport.Reply(ctx, to, text); err != nil {
		b.logger.Error("sending reply failed",
			"user", to.UserID,
			"error", err)
	}
}
