// Package api exposes the conversation subsystem over a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildmaster/buildmaster/internal/log"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	Service ChatService // required
	Pool    *pgxpool.Pool
	Logger  log.Logger
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer builds the route table and middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("chat service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	h := &chatHandler{service: cfg.Service, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", h.chat)
	mux.HandleFunc("POST /api/v1/chat/rag", h.chatWithRAG)
	mux.HandleFunc("POST /api/v1/recommend", h.recommend)

	mux.HandleFunc("POST /api/v1/knowledge", h.addKnowledge)
	mux.HandleFunc("DELETE /api/v1/knowledge/{id}", h.deleteKnowledge)
	mux.HandleFunc("GET /api/v1/knowledge/search", h.searchKnowledge)
	mux.HandleFunc("POST /api/v1/knowledge/vectorize", h.vectorizeBacklog)

	mux.HandleFunc("GET /api/v1/conversations", h.listConversations)
	mux.HandleFunc("GET /api/v1/conversations/{sessionId}", h.getConversation)
	mux.HandleFunc("DELETE /api/v1/conversations/{sessionId}", h.deleteConversation)

	// Outermost first: recovery → request id → access log → routes.
	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes sit outside the middleware stack.
	top := http.NewServeMux()
	top.HandleFunc("GET /healthz", healthz(logger))
	top.Handle("GET /readyz", readyz(cfg.Pool, logger))
	top.Handle("/", handler)

	return &Server{mux: top}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// healthz reports process liveness.
func healthz(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readyz reports readiness: the database must answer a bounded ping.
func readyz(pool *pgxpool.Pool, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	}
}
