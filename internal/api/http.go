// Package api exposes the assistant over HTTP (chat endpoint plus health)
// and over MCP so external agents can call the retrieval tools directly.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/grocer/internal/agent"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnRunner runs one user turn against a conversation.
type TurnRunner interface {
	Run(ctx context.Context, conv *agent.Conversation, userMessage string) (string, error)
}

// ChatDeps holds dependencies for the HTTP surface. Rebuild is optional;
// when nil the admin rebuild endpoint is not registered.
type ChatDeps struct {
	Runner   TurnRunner
	Sessions *SessionStore
	Rebuild  func(ctx context.Context) error
}

// NewHandler returns the HTTP handler for the chat API.
func NewHandler(deps ChatDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/v1/chat", handleChat(deps))
	if deps.Rebuild != nil {
		r.Post("/admin/rebuild", handleRebuild(deps))
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// chatRequest is the JSON body for POST /v1/chat.
type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// chatResponse is the JSON reply: the session to continue with and the
// assistant's natural-language answer.
type chatResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

func handleChat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		sess := deps.Sessions.GetOrCreate(req.SessionID)

		var answer string
		err := sess.Do(func(conv *agent.Conversation) error {
			var runErr error
			answer, runErr = deps.Runner.Run(r.Context(), conv, req.Message)
			return runErr
		})
		// A failed turn still produced a natural-language apology; the
		// client gets that, not a raw error payload.
		if err != nil && !errors.Is(err, agent.ErrTurnFailed) {
			httpError(w, http.StatusInternalServerError, "server_error", "running turn: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			SessionID: sess.Conv.SessionID,
			Answer:    answer,
		})
	}
}

// handleRebuild regenerates the index from the current catalog. Queries keep
// serving the old index until the replacement commits.
func handleRebuild(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Rebuild(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "rebuilding index: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"rebuilt"}`))
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
