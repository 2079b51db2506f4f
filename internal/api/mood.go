package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/focus-coach/internal/domain"
	"github.com/ashureev/focus-coach/internal/identity"
)

const (
	defaultMoodLimit = 7
	maxMoodLimit     = 100
)

// ListMood handles GET /api/mood?limit=N.
func (h *Handler) ListMood(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	limit := defaultMoodLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMoodLimit)
	}

	entries, err := h.repo.GetMoodEntries(r.Context(), userID, limit)
	if err != nil {
		storeError(w, "get mood entries", err)
		return
	}
	if entries == nil {
		entries = []*domain.MoodEntry{}
	}
	JSON(w, http.StatusOK, entries)
}

// CreateMood handles POST /api/mood.
func (h *Handler) CreateMood(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var entry domain.MoodEntry
	if err := decodeBody(w, r, &entry); err != nil {
		writeDecodeError(w, err)
		return
	}
	entry.ID = ""
	entry.UserID = userID
	entry.CreatedAt = time.Time{}
	if err := entry.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.repo.CreateMoodEntry(r.Context(), &entry)
	if err != nil {
		storeError(w, "create mood entry", err)
		return
	}
	JSON(w, http.StatusCreated, created)
}
