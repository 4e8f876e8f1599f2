// Package session persists conversations in Postgres so dialogue history
// survives process restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abitbot/abitbot/internal/conversation"
)

// Feedback verdicts.
const (
	VerdictUseful    = "useful"
	VerdictNotUseful = "not_useful"
)

// ErrUnknownTurn is returned when feedback references a turn that does not
// exist.
var ErrUnknownTurn = errors.New("unknown turn")

// ErrInvalidVerdict is returned for feedback verdicts other than useful or
// not_useful.
var ErrInvalidVerdict = errors.New("invalid feedback verdict")

// Store keeps conversations in Postgres. It implements conversation.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("session store: pool is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Load returns the conversation for a key, or a fresh empty conversation if
// the key has never been seen. The new conversation is not persisted until
// the first Save.
func (s *Store) Load(ctx context.Context, key, userID string) (*conversation.Conversation, error) {
	conv := &conversation.Conversation{Key: key, UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE conv_key = $1`,
		key,
	).Scan(&conv.ID, &conv.UserID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.NewConversation(key, userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", key, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, seq, role, content, retrieved_chunk_ids, created_at
		FROM turns
		WHERE conversation_id = $1
		ORDER BY seq`,
		conv.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading turns for %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var turn conversation.Turn
		if err := rows.Scan(&turn.ID, &turn.Seq, &turn.Role, &turn.Content,
			&turn.RetrievedChunkIDs, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		conv.Turns = append(conv.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading turns for %s: %w", key, err)
	}
	return conv, nil
}

// Save writes the full conversation state in one transaction. The stored
// state is replaced wholesale; with per-conversation serialization upstream
// there is exactly one writer per conversation at a time.
func (s *Store) Save(ctx context.Context, conv *conversation.Conversation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("saving conversation %s: %w", conv.Key, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, conv_key, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conv_key) DO UPDATE
		SET updated_at = EXCLUDED.updated_at`,
		conv.ID, conv.Key, conv.UserID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting conversation %s: %w", conv.Key, err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM turns WHERE conversation_id = $1`, conv.ID)
	if err != nil {
		return fmt.Errorf("clearing turns for %s: %w", conv.Key, err)
	}

	for _, turn := range conv.Turns {
		chunkIDs := turn.RetrievedChunkIDs
		if chunkIDs == nil {
			chunkIDs = []string{}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO turns (id, conversation_id, seq, role, content, retrieved_chunk_ids, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			turn.ID, conv.ID, turn.Seq, turn.Role, turn.Content, chunkIDs, turn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting turn %d for %s: %w", turn.Seq, conv.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("saving conversation %s: %w", conv.Key, err)
	}
	return nil
}

// RecordFeedback stores a user's verdict on an assistant turn. A repeated
// verdict from the same user overwrites the previous one.
func (s *Store) RecordFeedback(ctx context.Context, turnID, userID, verdict string) error {
	if verdict != VerdictUseful && verdict != VerdictNotUseful {
		return fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO turn_feedback (turn_id, user_id, verdict)
		SELECT id, $2, $3 FROM turns WHERE id = $1
		ON CONFLICT (turn_id, user_id) DO UPDATE
		SET verdict = EXCLUDED.verdict, created_at = now()`,
		turnID, userID, verdict,
	)
	if err != nil {
		return fmt.Errorf("recording feedback for turn %s: %w", turnID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTurn, turnID)
	}
	return nil
}

// FeedbackSummary returns the verdict counts for a turn.
func (s *Store) FeedbackSummary(ctx context.Context, turnID string) (useful, notUseful int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE verdict = $2),
			count(*) FILTER (WHERE verdict = $3)
		FROM turn_feedback WHERE turn_id = $1`,
		turnID, VerdictUseful, VerdictNotUseful,
	).Scan(&useful, &notUseful)
	if err != nil {
		return 0, 0, fmt.Errorf("summarizing feedback for turn %s: %w", turnID, err)
	}
	return useful, notUseful, nil
}

// Stats reports stored conversation and turn counts, plus the most recent
// activity timestamp.
type Stats struct {
	Conversations int64
	Turns         int64
	LastActivity  time.Time
}

// Stat returns storage statistics.
func (s *Store) Stat(ctx context.Context) (Stats, error) {
	var st Stats
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM conversations),
			(SELECT count(*) FROM turns),
			(SELECT max(updated_at) FROM conversations)`,
	).Scan(&st.Conversations, &st.Turns, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("reading session stats: %w", err)
	}
	if last != nil {
		st.LastActivity = *last
	}
	return st, nil
}
