// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/focus-coach/internal/domain"
)

// ErrNotFound is returned when the addressed record does not exist for the user.
var ErrNotFound = errors.New("not found")

// StoreError wraps a failed repository operation so callers can decide
// whether to surface it.
//
//nolint:revive // store.StoreError reads better at call sites than store.Error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Repository defines the interface for persisting users, tasks, and mood entries.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateTask stores a new task. ID and timestamps are assigned when empty.
	CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error)

	// GetTasks lists a user's tasks, newest first.
	GetTasks(ctx context.Context, userID string) ([]*domain.Task, error)

	// UpdateTask applies a partial update to one of the user's tasks.
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (*domain.Task, error)

	// DeleteTask removes one of the user's tasks.
	DeleteTask(ctx context.Context, userID, taskID string) error

	// CreateMoodEntry stores a new mood check-in.
	CreateMoodEntry(ctx context.Context, entry *domain.MoodEntry) (*domain.MoodEntry, error)

	// GetMoodEntries lists the user's most recent mood entries, newest first.
	GetMoodEntries(ctx context.Context, userID string, limit int) ([]*domain.MoodEntry, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
