package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/focus-coach/internal/domain"
	"github.com/ashureev/focus-coach/internal/shared"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

const (
	maxWriteRetries = 3
	retryBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT 'medium',
		status TEXT NOT NULL DEFAULT 'pending',
		due_date TEXT NOT NULL DEFAULT '',
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at);

	CREATE TABLE IF NOT EXISTS mood_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mood_score INTEGER NOT NULL,
		energy_level INTEGER NOT NULL,
		focus_level INTEGER NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mood_user_created ON mood_entries(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) newID(now time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// execWithRetry runs a write with exponential backoff on SQLITE_BUSY / locked errors.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for i := 0; i < maxWriteRetries; i++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !shared.IsSQLiteConflictError(err) || i == maxWriteRetries-1 {
			break
		}
		delay := shared.ConflictBackoff(i, retryBaseDelay)
		slog.Debug("SQLite write busy, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get user", err)
	}

	user.LastSeenAt = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	user.UpdatedAt = time.UnixMilli(updatedAt)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.execWithRetry(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.UnixMilli(),
		user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
	)
	return wrap("upsert user", err)
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.execWithRetry(ctx, query, lastSeen.UnixMilli(), time.Now().UnixMilli(), userID)
	if err != nil {
		return wrap("update last_seen", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return wrap("update last_seen", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// CreateTask stores a new task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	now := time.Now()
	t := *task
	if t.ID == "" {
		t.ID = s.newID(now)
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == domain.TaskCompleted && t.CompletedAt == nil {
		t.CompletedAt = &now
	}

	query := `
		INSERT INTO tasks (id, user_id, title, description, priority, status,
		                   due_date, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.execWithRetry(ctx, query,
		t.ID, t.UserID, t.Title, t.Description, string(t.Priority), string(t.Status),
		t.DueDate, nullableMillis(t.CompletedAt), t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, wrap("create task", err)
	}
	return &t, nil
}

// GetTasks lists a user's tasks, newest first.
func (s *SQLiteStore) GetTasks(ctx context.Context, userID string) ([]*domain.Task, error) {
	query := `
		SELECT id, user_id, title, description, priority, status,
		       due_date, completed_at, created_at, updated_at
		FROM tasks WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, wrap("get tasks", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close task rows", "error", closeErr)
		}
	}()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrap("get tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get tasks", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) getTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	query := `
		SELECT id, user_id, title, description, priority, status,
		       due_date, completed_at, created_at, updated_at
		FROM tasks WHERE user_id = ? AND id = ?`
	t, err := scanTask(s.db.QueryRowContext(ctx, query, userID, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// UpdateTask applies a partial update to one of the user's tasks.
func (s *SQLiteStore) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (*domain.Task, error) {
	if err := patch.Validate(); err != nil {
		return nil, wrap("update task", err)
	}

	t, err := s.getTask(ctx, userID, taskID)
	if err != nil {
		return nil, wrap("update task", err)
	}
	patch.Apply(t, time.Now())

	query := `
		UPDATE tasks SET title = ?, description = ?, priority = ?, status = ?,
		       due_date = ?, completed_at = ?, updated_at = ?
		WHERE user_id = ? AND id = ?`
	result, err := s.execWithRetry(ctx, query,
		t.Title, t.Description, string(t.Priority), string(t.Status),
		t.DueDate, nullableMillis(t.CompletedAt), t.UpdatedAt.UnixMilli(),
		userID, taskID,
	)
	if err != nil {
		return nil, wrap("update task", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return nil, wrap("update task", ErrNotFound)
	}
	return t, nil
}

// DeleteTask removes one of the user's tasks.
func (s *SQLiteStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	result, err := s.execWithRetry(ctx, `DELETE FROM tasks WHERE user_id = ? AND id = ?`, userID, taskID)
	if err != nil {
		return wrap("delete task", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrap("delete task", err)
	}
	if rows == 0 {
		return wrap("delete task", ErrNotFound)
	}
	return nil
}

// CreateMoodEntry stores a new mood check-in.
func (s *SQLiteStore) CreateMoodEntry(ctx context.Context, entry *domain.MoodEntry) (*domain.MoodEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, wrap("create mood entry", err)
	}

	now := time.Now()
	e := *entry
	if e.ID == "" {
		e.ID = s.newID(now)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	query := `
		INSERT INTO mood_entries (id, user_id, mood_score, energy_level, focus_level, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.execWithRetry(ctx, query,
		e.ID, e.UserID, e.MoodScore, e.EnergyLevel, e.FocusLevel, e.Notes, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, wrap("create mood entry", err)
	}
	return &e, nil
}

// GetMoodEntries lists the user's most recent mood entries, newest first.
func (s *SQLiteStore) GetMoodEntries(ctx context.Context, userID string, limit int) ([]*domain.MoodEntry, error) {
	if limit <= 0 {
		limit = 7
	}
	query := `
		SELECT id, user_id, mood_score, energy_level, focus_level, notes, created_at
		FROM mood_entries WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, wrap("get mood entries", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close mood rows", "error", closeErr)
		}
	}()

	var entries []*domain.MoodEntry
	for rows.Next() {
		var e domain.MoodEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.MoodScore, &e.EnergyLevel,
			&e.FocusLevel, &e.Notes, &createdAt); err != nil {
			return nil, wrap("get mood entries", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get mood entries", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var priority, status string
	var completedAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &priority, &status,
		&t.DueDate, &completedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	if completedAt.Valid {
		ts := time.UnixMilli(completedAt.Int64)
		t.CompletedAt = &ts
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	return &t, nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
