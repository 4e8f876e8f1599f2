// Package api exposes the chatbot over HTTP: a synchronous chat endpoint,
// conversation history, feedback, and health probes.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Logger        *slog.Logger
	Transport     *HTTPTransport     // Required: bridge to the bot loop
	Conversations ConversationReader // Required
	Feedback      FeedbackRecorder   // Required
	Pool          *pgxpool.Pool      // Optional: nil limits /ready to a process check
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation reader is required")
	}
	if cfg.Feedback == nil {
		return nil, errors.New("feedback recorder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{transport: cfg.Transport, logger: logger}
	sh := &sessionHandler{conversations: cfg.Conversations, feedback: cfg.Feedback, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("GET /api/v1/conversations/{key}", sh.getConversation)
	mux.HandleFunc("POST /api/v1/feedback", sh.postFeedback)

	// Middleware stack, outermost first: recovery, request ID, logging.
	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
