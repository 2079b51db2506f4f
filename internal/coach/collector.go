package coach

import (
	"context"
	"log/slog"

	"github.com/ashureev/focus-coach/internal/domain"
)

const maxContextTasks = 20

// HistorySource is the subset of the task/mood store the collector reads.
type HistorySource interface {
	GetTasks(ctx context.Context, userID string) ([]*domain.Task, error)
	GetMoodEntries(ctx context.Context, userID string, limit int) ([]*domain.MoodEntry, error)
}

// ContextCollector fills in situational context from the user's stored
// history when a request asks for it.
type ContextCollector struct {
	source HistorySource
	logger *slog.Logger
}

// NewContextCollector creates a collector backed by source.
func NewContextCollector(source HistorySource, logger *slog.Logger) *ContextCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextCollector{source: source, logger: logger}
}

// Enrich returns req with absent context fields filled from history. Fields
// the caller already supplied are kept. Store failures leave the field absent.
func (c *ContextCollector) Enrich(ctx context.Context, req Request) Request {
	if c == nil || c.source == nil || req.Context == nil {
		return req
	}
	rc := *req.Context
	if !rc.IncludeHistoricalData || rc.UserID == "" {
		return req
	}

	if len(rc.ExistingTasks) == 0 {
		tasks, err := c.source.GetTasks(ctx, rc.UserID)
		if err != nil {
			c.logger.Warn("Failed to load tasks for coaching context", "user_id", rc.UserID, "error", err)
		} else {
			rc.ExistingTasks = OpenTaskTitles(tasks, maxContextTasks)
		}
	}

	if rc.MoodScore == nil || rc.EnergyLevel == nil {
		entries, err := c.source.GetMoodEntries(ctx, rc.UserID, 1)
		if err != nil {
			c.logger.Warn("Failed to load mood for coaching context", "user_id", rc.UserID, "error", err)
		} else if len(entries) > 0 {
			latest := entries[0]
			if rc.MoodScore == nil {
				rc.MoodScore = IntPtr(domain.ClampScore(latest.MoodScore))
			}
			if rc.EnergyLevel == nil {
				rc.EnergyLevel = IntPtr(domain.ClampScore(latest.EnergyLevel))
			}
		}
	}

	req.Context = &rc
	return req
}

// OpenTaskTitles returns the titles of tasks that are not completed, in
// order, capped at limit (0 means no cap).
func OpenTaskTitles(tasks []*domain.Task, limit int) []string {
	var titles []string
	for _, t := range tasks {
		if t == nil || !t.IsOpen() {
			continue
		}
		titles = append(titles, t.Title)
		if limit > 0 && len(titles) == limit {
			break
		}
	}
	return titles
}
