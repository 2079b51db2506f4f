package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/focus-coach/internal/coach"
	"github.com/ashureev/focus-coach/internal/domain"
	"github.com/ashureev/focus-coach/internal/identity"
	"github.com/go-chi/chi/v5"
)

// maxContextTasks bounds the task titles sent to the coach.
const maxContextTasks = 20

// SubtaskDescription marks tasks created from coaching subtasks.
const SubtaskDescription = "Generated from AI coaching"

type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    domain.Priority `json:"priority"`
	DueDate     string          `json:"due_date"`
	// Coach asks the coach about the task and adopts its priority
	// suggestion when no priority is given.
	Coach bool `json:"coach"`
}

type taskResponse struct {
	Task     *domain.Task    `json:"task"`
	Coaching *coach.Response `json:"coaching,omitempty"`
}

type subtasksRequest struct {
	Subtasks []string `json:"subtasks"`
}

// ListTasks handles GET /api/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tasks, err := h.repo.GetTasks(r.Context(), userID)
	if err != nil {
		storeError(w, "get tasks", err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	JSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /api/tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req createTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Priority != "" && !req.Priority.Valid() {
		Error(w, http.StatusBadRequest, "invalid priority: "+string(req.Priority))
		return
	}

	var coaching *coach.Response
	if req.Coach {
		if h.limiter != nil && !h.limiter.Allow(userID) {
			Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		coaching = h.coachTask(r, userID, req)
		if req.Priority == "" {
			req.Priority = coaching.PrioritySuggestion
		}
	}

	task, err := h.repo.CreateTask(r.Context(), &domain.Task{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		storeError(w, "create task", err)
		return
	}
	JSON(w, http.StatusCreated, taskResponse{Task: task, Coaching: coaching})
}

// coachTask asks the coach about a new task with the user's open tasks as
// context. It never fails; the fallback is returned instead.
func (h *Handler) coachTask(r *http.Request, userID string, req createTaskRequest) *coach.Response {
	input := req.Title
	if req.Description != "" {
		input += "\n" + req.Description
	}

	cctx := &coach.Context{UserID: userID}
	if tasks, err := h.repo.GetTasks(r.Context(), userID); err != nil {
		slog.Warn("Failed to load tasks for coaching context", "user_id", userID, "error", err)
	} else {
		cctx.ExistingTasks = coach.OpenTaskTitles(tasks, maxContextTasks)
	}

	resp, err := h.coach.Coach(r.Context(), coach.Request{Input: input, Kind: coach.KindTask, Context: cctx})
	if err != nil {
		slog.Warn("Task coaching failed", "user_id", userID, "error", err)
		resp = coach.Fallback()
	}
	return &resp
}

// UpdateTask handles PATCH /api/tasks/{id}.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var patch domain.TaskPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := patch.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.repo.UpdateTask(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		storeError(w, "update task", err)
		return
	}
	JSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.repo.DeleteTask(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		storeError(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSubtasks handles POST /api/tasks/{id}/subtasks: each subtask title
// becomes a new task with the parent's priority.
func (h *Handler) CreateSubtasks(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	parentID := chi.URLParam(r, "id")

	var req subtasksRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	var titles []string
	for _, s := range req.Subtasks {
		if s = strings.TrimSpace(s); s != "" {
			titles = append(titles, s)
		}
	}
	if len(titles) == 0 {
		Error(w, http.StatusBadRequest, "subtasks are required")
		return
	}

	tasks, err := h.repo.GetTasks(r.Context(), userID)
	if err != nil {
		storeError(w, "get tasks", err)
		return
	}
	var parent *domain.Task
	for _, t := range tasks {
		if t.ID == parentID {
			parent = t
			break
		}
	}
	if parent == nil {
		Error(w, http.StatusNotFound, "not found")
		return
	}

	created := make([]*domain.Task, 0, len(titles))
	for _, title := range titles {
		task, err := h.repo.CreateTask(r.Context(), &domain.Task{
			UserID:      userID,
			Title:       title,
			Description: SubtaskDescription,
			Priority:    parent.Priority,
		})
		if err != nil {
			storeError(w, "create subtask", err)
			return
		}
		created = append(created, task)
	}
	JSON(w, http.StatusCreated, created)
}
