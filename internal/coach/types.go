// Package coach implements the AI coaching pipeline: prompt construction,
// the upstream model gateway, and normalization of model output.
package coach

import (
	"strings"

	"github.com/ashureev/focus-coach/internal/domain"
)

// Kind selects the framing of a coaching prompt.
type Kind string

const (
	KindTask      Kind = "task"
	KindBrainDump Kind = "brain_dump"
	KindVoiceNote Kind = "voice_note"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindBrainDump, KindVoiceNote:
		return true
	}
	return false
}

// Context carries optional situational context for a request.
type Context struct {
	ExistingTasks         []string `json:"existing_tasks,omitempty"`
	MoodScore             *int     `json:"mood_score,omitempty"`
	EnergyLevel           *int     `json:"energy_level,omitempty"`
	IncludeHistoricalData bool     `json:"include_historical_data,omitempty"`
	UserID                string   `json:"user_id,omitempty"`
}

// Request is a single coaching request.
type Request struct {
	Input   string   `json:"input"`
	Kind    Kind     `json:"type"`
	Context *Context `json:"context,omitempty"`
}

// Validate checks required fields. The only error it returns is *ValidationError.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Input) == "" || r.Kind == "" {
		return &ValidationError{Message: MissingFieldsMessage}
	}
	if !r.Kind.Valid() {
		return &ValidationError{Message: "invalid type: " + string(r.Kind)}
	}
	return nil
}

// Response is the structured coaching reply.
type Response struct {
	CoachingResponse   string          `json:"coaching_response"`
	Subtasks           []string        `json:"subtasks,omitempty"`
	PrioritySuggestion domain.Priority `json:"priority_suggestion,omitempty"`
	EstimatedTime      string          `json:"estimated_time,omitempty"`
	Encouragement      string          `json:"encouragement"`
}

// SpokenText is the text played back to the user: the coaching response
// followed by the encouragement.
func (r Response) SpokenText() string {
	return r.CoachingResponse + " " + r.Encouragement
}

// Fallback returns the fixed response used whenever the model output cannot
// be used or the upstream call fails.
func Fallback() Response {
	return Response{
		CoachingResponse:   "I hear you, and I'm here to help you work through this. Let's take it one step at a time.",
		Encouragement:      "Your neurodivergent mind is not something to fix - it's something to understand and work with.",
		PrioritySuggestion: domain.PriorityMedium,
		EstimatedTime:      "Take your time",
	}
}

// IntPtr is a convenience for building optional context scores.
func IntPtr(v int) *int {
	return &v
}
