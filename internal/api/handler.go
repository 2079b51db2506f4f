// Package api provides HTTP handlers for the focus coach API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/focus-coach/internal/coach"
	"github.com/ashureev/focus-coach/internal/identity"
	"github.com/ashureev/focus-coach/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Coacher answers coaching requests. *coach.Service implements it.
type Coacher interface {
	Coach(ctx context.Context, req coach.Request) (coach.Response, error)
}

// Handler provides the coaching, task, and mood endpoints.
type Handler struct {
	repo    store.Repository
	coach   Coacher
	limiter *RateLimiter
}

// NewHandler creates a new Handler. limiter may be nil to disable rate limiting.
func NewHandler(repo store.Repository, coacher Coacher, limiter *RateLimiter) *Handler {
	return &Handler{
		repo:    repo,
		coach:   coacher,
		limiter: limiter,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/functions/v1/ai-coach", h.HandleCoach)

	r.Route("/api", func(r chi.Router) {
		r.Post("/coach", h.HandleCoach)
		r.Get("/me", h.GetMe)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Delete("/tasks/{id}", h.DeleteTask)
		r.Post("/tasks/{id}/subtasks", h.CreateSubtasks)

		r.Get("/mood", h.ListMood)
		r.Post("/mood", h.CreateMood)
	})
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
		"created_at": user.CreatedAt,
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// storeError maps repository failures to HTTP responses.
func storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	slog.Error("Store operation failed", "op", op, "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

// decodeBody decodes a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeDecodeError answers a failed decodeBody.
func writeDecodeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	Error(w, http.StatusBadRequest, "invalid request body")
}
