// Package client is a Go client for the focus coach HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/focus-coach/internal/coach"
	"github.com/ashureev/focus-coach/internal/domain"
)

// CoachPath is the coaching endpoint.
const CoachPath = "/functions/v1/ai-coach"

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to a focus coach server. The anonymous identity cookie the
// server issues is kept for the lifetime of the client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL. httpClient may be nil.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}, nil
}

// Coach sends a coaching request. A 400 is returned as *coach.ValidationError.
func (c *Client) Coach(ctx context.Context, req coach.Request) (coach.Response, error) {
	var resp coach.Response
	err := c.do(ctx, http.MethodPost, CoachPath, req, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		return coach.Response{}, &coach.ValidationError{Message: apiErr.Message}
	}
	return resp, err
}

// TaskInput is the body for creating a task.
type TaskInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty"`
	DueDate     string          `json:"due_date,omitempty"`
	Coach       bool            `json:"coach,omitempty"`
}

// CreatedTask is the server's answer to CreateTask.
type CreatedTask struct {
	Task     *domain.Task    `json:"task"`
	Coaching *coach.Response `json:"coaching,omitempty"`
}

// ListTasks returns the caller's tasks, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	var tasks []*domain.Task
	return tasks, c.do(ctx, http.MethodGet, "/api/tasks", nil, &tasks)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (*CreatedTask, error) {
	var out CreatedTask
	if err := c.do(ctx, http.MethodPost, "/api/tasks", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask applies a partial update to a task.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	var task domain.Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), patch, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// CreateSubtasks turns coaching subtasks into tasks under parentID.
func (c *Client) CreateSubtasks(ctx context.Context, parentID string, subtasks []string) ([]*domain.Task, error) {
	var tasks []*domain.Task
	body := map[string][]string{"subtasks": subtasks}
	return tasks, c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(parentID)+"/subtasks", body, &tasks)
}

// LogMood records a mood check-in.
func (c *Client) LogMood(ctx context.Context, entry domain.MoodEntry) (*domain.MoodEntry, error) {
	var out domain.MoodEntry
	if err := c.do(ctx, http.MethodPost, "/api/mood", entry, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MoodHistory returns up to limit recent mood entries.
func (c *Client) MoodHistory(ctx context.Context, limit int) ([]*domain.MoodEntry, error) {
	path := "/api/mood"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []*domain.MoodEntry
	return entries, c.do(ctx, http.MethodGet, path, nil, &entries)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
