package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/focus-coach/internal/coach"
	"github.com/ashureev/focus-coach/internal/identity"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// HandleCoach handles POST /functions/v1/ai-coach and POST /api/coach.
//
// Once a request passes validation the response is always 200 with a
// coaching body; upstream failures are answered with the fallback.
func (h *Handler) HandleCoach(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if h.limiter != nil && !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req coach.Request
	if err := decodeBody(w, r, &req); err != nil {
		if errors.Is(err, io.EOF) {
			Error(w, http.StatusBadRequest, coach.MissingFieldsMessage)
			return
		}
		writeDecodeError(w, err)
		return
	}

	identity.ScopeCoachingRequest(r.Context(), &req)

	resp, err := h.coach.Coach(r.Context(), req)
	if err != nil {
		var verr *coach.ValidationError
		if errors.As(err, &verr) {
			Error(w, http.StatusBadRequest, verr.Message)
			return
		}
		slog.Error("Coaching failed unexpectedly", "error", err, "request_id", chiMiddleware.GetReqID(r.Context()))
		resp = coach.Fallback()
	}

	slog.Info("Coaching request served",
		"user_id", userID,
		"type", req.Kind,
		"input_length", len(req.Input),
		"subtasks", len(resp.Subtasks),
	)
	JSON(w, http.StatusOK, resp)
}
