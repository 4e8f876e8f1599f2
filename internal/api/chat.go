package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/abitbot/abitbot/internal/bot"
)

const maxMessageBytes = 8 << 10

type chatHandler struct {
	transport *HTTPTransport
	logger    *slog.Logger
}

type chatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" || req.Message == "" {
		WriteError(w, http.StatusBadRequest, "missing_field", "user_id and message are required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = "default"
	}

	reply, err := h.transport.Submit(r.Context(), req.UserID, req.ConversationID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrTransportClosed):
			WriteError(w, http.StatusServiceUnavailable, "shutting_down", "the service is shutting down")
		case r.Context().Err() != nil:
			// Client went away; nothing useful to write.
			h.logger.Debug("chat request abandoned", "user", req.UserID)
		default:
			h.logger.Error("chat submit failed", "user", req.UserID, "error", err)
			WriteError(w, http.StatusInternalServerError, "internal_error", "failed to process the message")
		}
		return
	}

	WriteJSON(w, http.StatusOK, chatResponse{Reply: reply})
}
