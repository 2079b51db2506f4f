//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/focus-coach/internal/coach"
	"github.com/ashureev/focus-coach/internal/domain"
	"github.com/ashureev/focus-coach/internal/identity"
	"github.com/ashureev/focus-coach/internal/store"
	"github.com/go-chi/chi/v5"
)

const testUserID = "anon_0123456789abcdef0123456789abcdef"

const coachReply = "```json\n" + `{
  "coaching_response": "Start with the smallest piece.",
  "subtasks": ["Open the document", "Write one sentence"],
  "priority_suggestion": "high",
  "estimated_time": "25 minutes",
  "encouragement": "Small steps still move you forward."
}` + "\n```"

type stubGateway struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *stubGateway) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

type recordingCoacher struct {
	mu   sync.Mutex
	reqs []coach.Request
}

func (c *recordingCoacher) Coach(_ context.Context, req coach.Request) (coach.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := req.Validate(); err != nil {
		return coach.Response{}, err
	}
	c.reqs = append(c.reqs, req)
	return coach.Fallback(), nil
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newRouter(h *Handler, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), userID)))
		})
	})
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestHandleCoachRejectsMissingFields(t *testing.T) {
	h := newRouter(NewHandler(newTestRepo(t), coach.NewService(&stubGateway{reply: coachReply}, nil, coach.ServiceConfig{}), nil), testUserID)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing type", `{"input":"clean the kitchen"}`, coach.MissingFieldsMessage},
		{"missing input", `{"type":"task"}`, coach.MissingFieldsMessage},
		{"blank input", `{"input":"   ","type":"task"}`, coach.MissingFieldsMessage},
		{"empty body", ``, coach.MissingFieldsMessage},
		{"unknown type", `{"input":"x","type":"poem"}`, "invalid type: poem"},
		{"malformed", `{"input":`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/functions/v1/ai-coach", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", w.Code)
			}
			if got := decode[map[string]string](t, w)["error"]; got != tt.want {
				t.Errorf("Expected error %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHandleCoachReturnsParsedResponse(t *testing.T) {
	gw := &stubGateway{reply: coachReply}
	h := newRouter(NewHandler(newTestRepo(t), coach.NewService(gw, nil, coach.ServiceConfig{}), nil), testUserID)

	for _, path := range []string{"/functions/v1/ai-coach", "/api/coach"} {
		w := do(t, h, http.MethodPost, path, `{"input":"Write the report","type":"task"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		resp := decode[coach.Response](t, w)
		if resp.PrioritySuggestion != domain.PriorityHigh || len(resp.Subtasks) != 2 {
			t.Errorf("%s: unexpected response %+v", path, resp)
		}
	}
	if !strings.Contains(gw.prompts[0], "Write the report") {
		t.Errorf("Prompt does not contain the input: %q", gw.prompts[0])
	}
}

func TestHandleCoachFallsBackOnUpstreamFailure(t *testing.T) {
	tests := []struct {
		name string
		gw   *stubGateway
	}{
		{"transport", &stubGateway{err: &coach.TransportError{StatusCode: http.StatusServiceUnavailable}}},
		{"not configured", &stubGateway{err: &coach.ConfigError{Message: "GEMINI_API_KEY is not set"}}},
		{"unparseable", &stubGateway{reply: "Sure! Here are some ideas."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(NewHandler(newTestRepo(t), coach.NewService(tt.gw, nil, coach.ServiceConfig{}), nil), testUserID)
			w := do(t, h, http.MethodPost, "/functions/v1/ai-coach", `{"input":"I can't focus","type":"brain_dump"}`)
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", w.Code)
			}
			got := decode[coach.Response](t, w)
			if got.CoachingResponse != coach.Fallback().CoachingResponse || got.Encouragement == "" {
				t.Errorf("Expected fallback, got %+v", got)
			}
		})
	}
}

func TestHandleCoachStampsCallerIdentity(t *testing.T) {
	rc := &recordingCoacher{}
	h := newRouter(NewHandler(newTestRepo(t), rc, nil), testUserID)

	w := do(t, h, http.MethodPost, "/api/coach",
		`{"input":"plan my day","type":"voice_note","context":{"include_historical_data":true,"user_id":"anon_someone_else"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got := rc.reqs[0].Context.UserID; got != testUserID {
		t.Errorf("Expected user_id %q, got %q", testUserID, got)
	}
}

func TestHandleCoachRateLimited(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	defer limiter.Stop()
	h := newRouter(NewHandler(newTestRepo(t), &recordingCoacher{}, limiter), testUserID)

	body := `{"input":"x","type":"task"}`
	for i := 0; i < 2; i++ {
		if w := do(t, h, http.MethodPost, "/api/coach", body); w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, w.Code)
		}
	}
	if w := do(t, h, http.MethodPost, "/api/coach", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
}

func TestHandleCoachBodyTooLarge(t *testing.T) {
	h := newRouter(NewHandler(newTestRepo(t), &recordingCoacher{}, nil), testUserID)

	big := `{"input":"` + strings.Repeat("a", maxRequestBodySize) + `","type":"task"}`
	req := httptest.NewRequest(http.MethodPost, "/api/coach", bytes.NewReader([]byte(big)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	h := newRouter(NewHandler(repo, &recordingCoacher{}, nil), testUserID)

	w := do(t, h, http.MethodPost, "/api/tasks", `{"title":"Email landlord","priority":"low"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[taskResponse](t, w)
	if created.Task.Priority != domain.PriorityLow || created.Coaching != nil {
		t.Fatalf("Unexpected create response %+v", created)
	}
	id := created.Task.ID

	w = do(t, h, http.MethodPatch, "/api/tasks/"+id, `{"status":"completed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Update: expected 200, got %d", w.Code)
	}
	if updated := decode[domain.Task](t, w); updated.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}

	w = do(t, h, http.MethodPatch, "/api/tasks/"+id, `{"priority":"urgent"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Invalid patch: expected 400, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/tasks", "")
	if tasks := decode[[]domain.Task](t, w); len(tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(tasks))
	}

	if w = do(t, h, http.MethodDelete, "/api/tasks/"+id, ""); w.Code != http.StatusNoContent {
		t.Errorf("Delete: expected 204, got %d", w.Code)
	}
	if w = do(t, h, http.MethodDelete, "/api/tasks/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("Second delete: expected 404, got %d", w.Code)
	}
	if w = do(t, h, http.MethodPatch, "/api/tasks/"+id, `{"title":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("Update missing: expected 404, got %d", w.Code)
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	h := newRouter(NewHandler(newTestRepo(t), &recordingCoacher{}, nil), testUserID)
	if w := do(t, h, http.MethodPost, "/api/tasks", `{"title":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestCreateTaskWithCoachAdoptsPriority(t *testing.T) {
	repo := newTestRepo(t)
	gw := &stubGateway{reply: coachReply}
	h := newRouter(NewHandler(repo, coach.NewService(gw, nil, coach.ServiceConfig{}), nil), testUserID)

	do(t, h, http.MethodPost, "/api/tasks", `{"title":"Pay rent"}`)
	w := do(t, h, http.MethodPost, "/api/tasks", `{"title":"Write report","coach":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	got := decode[taskResponse](t, w)
	if got.Task.Priority != domain.PriorityHigh {
		t.Errorf("Expected adopted priority high, got %q", got.Task.Priority)
	}
	if got.Coaching == nil || got.Coaching.EstimatedTime != "25 minutes" {
		t.Errorf("Expected coaching in response, got %+v", got.Coaching)
	}
	if !strings.Contains(gw.prompts[0], "Existing Tasks: Pay rent") {
		t.Errorf("Expected existing tasks in prompt, got %q", gw.prompts[0])
	}
}

func TestCreateSubtasks(t *testing.T) {
	repo := newTestRepo(t)
	h := newRouter(NewHandler(repo, &recordingCoacher{}, nil), testUserID)

	parent := decode[taskResponse](t, do(t, h, http.MethodPost, "/api/tasks", `{"title":"Move house","priority":"high"}`)).Task

	w := do(t, h, http.MethodPost, "/api/tasks/"+parent.ID+"/subtasks", `{"subtasks":["Book van"," ","Pack books"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	subtasks := decode[[]domain.Task](t, w)
	if len(subtasks) != 2 {
		t.Fatalf("Expected 2 subtasks, got %d", len(subtasks))
	}
	for _, st := range subtasks {
		if st.Description != SubtaskDescription || st.Priority != domain.PriorityHigh {
			t.Errorf("Unexpected subtask %+v", st)
		}
	}

	if w := do(t, h, http.MethodPost, "/api/tasks/missing/subtasks", `{"subtasks":["x"]}`); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown parent, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/tasks/"+parent.ID+"/subtasks", `{"subtasks":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty subtasks, got %d", w.Code)
	}
}

func TestTasksAreScopedToUser(t *testing.T) {
	repo := newTestRepo(t)
	alice := newRouter(NewHandler(repo, &recordingCoacher{}, nil), testUserID)
	bob := newRouter(NewHandler(repo, &recordingCoacher{}, nil), "anon_ffffffffffffffffffffffffffffffff")

	task := decode[taskResponse](t, do(t, alice, http.MethodPost, "/api/tasks", `{"title":"private"}`)).Task

	if tasks := decode[[]domain.Task](t, do(t, bob, http.MethodGet, "/api/tasks", "")); len(tasks) != 0 {
		t.Errorf("Expected no tasks for another user, got %d", len(tasks))
	}
	if w := do(t, bob, http.MethodDelete, "/api/tasks/"+task.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 deleting another user's task, got %d", w.Code)
	}
}

func TestMoodEndpoints(t *testing.T) {
	h := newRouter(NewHandler(newTestRepo(t), &recordingCoacher{}, nil), testUserID)

	for i := 1; i <= 9; i++ {
		body, _ := json.Marshal(map[string]int{"mood_score": i, "energy_level": 5, "focus_level": 5})
		if w := do(t, h, http.MethodPost, "/api/mood", string(body)); w.Code != http.StatusCreated {
			t.Fatalf("Create %d: expected 201, got %d", i, w.Code)
		}
	}

	entries := decode[[]domain.MoodEntry](t, do(t, h, http.MethodGet, "/api/mood", ""))
	if len(entries) != defaultMoodLimit {
		t.Errorf("Expected %d entries, got %d", defaultMoodLimit, len(entries))
	}
	entries = decode[[]domain.MoodEntry](t, do(t, h, http.MethodGet, "/api/mood?limit=3", ""))
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}

	if w := do(t, h, http.MethodGet, "/api/mood?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/mood", `{"mood_score":11,"energy_level":5,"focus_level":5}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-range score, got %d", w.Code)
	}
}

func TestGetMe(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()
	if err := repo.UpsertUser(context.Background(), &domain.User{
		UserID: testUserID, Username: "anon-89abcdef", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	h := newRouter(NewHandler(repo, &recordingCoacher{}, nil), testUserID)
	w := do(t, h, http.MethodGet, "/api/me", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got := decode[map[string]any](t, w)["username"]; got != "anon-89abcdef" {
		t.Errorf("Expected username, got %v", got)
	}

	anon := newRouter(NewHandler(repo, &recordingCoacher{}, nil), "")
	if w := do(t, anon, http.MethodGet, "/api/me", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without identity, got %d", w.Code)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	r := chi.NewRouter()
	NewHealthHandler(stubPinger{}, true).RegisterHealth(r)
	w := do(t, r, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got := decode[map[string]any](t, w)["ai_enabled"]; got != true {
		t.Errorf("Expected ai_enabled=true, got %v", got)
	}

	r = chi.NewRouter()
	NewHealthHandler(stubPinger{err: errors.New("disk I/O error")}, false).RegisterHealth(r)
	if w := do(t, r, http.MethodGet, "/api/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}
