package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/abitbot/abitbot/internal/conversation"
	"github.com/abitbot/abitbot/internal/session"
)

// ConversationReader loads stored conversations.
type ConversationReader interface {
	Load(ctx context.Context, key, userID string) (*conversation.Conversation, error)
}

// FeedbackRecorder stores answer feedback.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, turnID, userID, verdict string) error
	FeedbackSummary(ctx context.Context, turnID string) (useful, notUseful int, err error)
}

type sessionHandler struct {
	conversations ConversationReader
	feedback      FeedbackRecorder
	logger        *slog.Logger
}

type turnResponse struct {
	ID                string    `json:"id"`
	Seq               int       `json:"seq"`
	Role              string    `json:"role"`
	Content           string    `json:"content"`
	RetrievedChunkIDs []string  `json:"retrieved_chunk_ids,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type conversationResponse struct {
	ID    string         `json:"id"`
	Key   string         `json:"key"`
	Turns []turnResponse `json:"turns"`
}

// getConversation returns a conversation's turn history, including turn IDs
// that feedback submissions reference.
func (h *sessionHandler) getConversation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	userID := r.URL.Query().Get("user_id")
	if key == "" || userID == "" {
		WriteError(w, http.StatusBadRequest, "missing_field", "conversation key and user_id are required")
		return
	}

	conv, err := h.conversations.Load(r.Context(), key, userID)
	if err != nil {
		h.logger.Error("loading conversation", "key", key, "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to load conversation")
		return
	}

	resp := conversationResponse{ID: conv.ID, Key: conv.Key, Turns: make([]turnResponse, 0, len(conv.Turns))}
	for _, t := range conv.Turns {
		resp.Turns = append(resp.Turns, turnResponse{
			ID:                t.ID,
			Seq:               t.Seq,
			Role:              t.Role,
			Content:           t.Content,
			RetrievedChunkIDs: t.RetrievedChunkIDs,
			CreatedAt:         t.CreatedAt,
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	TurnID  string `json:"turn_id"`
	UserID  string `json:"user_id"`
	Verdict string `json:"verdict"`
}

func (h *sessionHandler) postFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.TurnID) == "" || strings.TrimSpace(req.UserID) == "" {
		WriteError(w, http.StatusBadRequest, "missing_field", "turn_id and user_id are required")
		return
	}

	err := h.feedback.RecordFeedback(r.Context(), req.TurnID, req.UserID, req.Verdict)
	switch {
	case errors.Is(err, session.ErrUnknownTurn):
		WriteError(w, http.StatusNotFound, "unknown_turn", "no such turn")
		return
	case errors.Is(err, session.ErrInvalidVerdict):
		WriteError(w, http.StatusBadRequest, "invalid_verdict", "verdict must be useful or not_useful")
		return
	case err != nil:
		h.logger.Error("recording feedback", "turn", req.TurnID, "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to record feedback")
		return
	}

	useful, notUseful, err := h.feedback.FeedbackSummary(r.Context(), req.TurnID)
	if err != nil {
		h.logger.Error("summarizing feedback", "turn", req.TurnID, "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to read feedback")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"useful": useful, "not_useful": notUseful})
}
