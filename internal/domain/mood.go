package domain

import (
	"fmt"
	"time"
)

const (
	// MinScore and MaxScore bound every mood, energy, and focus score.
	MinScore = 1
	MaxScore = 10
)

// MoodEntry is a single self-reported mood check-in.
type MoodEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	MoodScore   int       `json:"mood_score"`
	EnergyLevel int       `json:"energy_level"`
	FocusLevel  int       `json:"focus_level"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that all scores are within [MinScore, MaxScore].
func (m *MoodEntry) Validate() error {
	for name, v := range map[string]int{
		"mood_score":   m.MoodScore,
		"energy_level": m.EnergyLevel,
		"focus_level":  m.FocusLevel,
	} {
		if v < MinScore || v > MaxScore {
			return fmt.Errorf("%s must be between %d and %d, got %d", name, MinScore, MaxScore, v)
		}
	}
	return nil
}

// ClampScore limits v to [MinScore, MaxScore].
func ClampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
