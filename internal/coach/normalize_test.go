package coach

import (
	"errors"
	"testing"

	"github.com/ashureev/focus-coach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validJSON = `{
  "coaching_response": "Let's take this one small step at a time.",
  "subtasks": ["Open the laptop", "Write one sentence"],
  "priority_suggestion": "high",
  "estimated_time": "15-30 minutes",
  "encouragement": "Starting is the hardest part."
}`

var validResponse = Response{
	CoachingResponse:   "Let's take this one small step at a time.",
	Subtasks:           []string{"Open the laptop", "Write one sentence"},
	PrioritySuggestion: domain.PriorityHigh,
	EstimatedTime:      "15-30 minutes",
	Encouragement:      "Starting is the hardest part.",
}

func TestNormalizeAcceptsFencedAndBareJSON(t *testing.T) {
	cases := map[string]string{
		"bare":         validJSON,
		"json fence":   "```json\n" + validJSON + "\n```",
		"plain fence":  "```\n" + validJSON + "\n```",
		"upper tag":    "```JSON\n" + validJSON + "```",
		"padded":       "\n\n  " + validJSON + "  \n",
		"fence no nl":  "```json" + validJSON + "```",
		"padded fence": "  ```json\n" + validJSON + "\n```\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, validResponse, Normalize(raw))
		})
	}
}

func TestNormalizeMinimalObject(t *testing.T) {
	got := Normalize(`{"coaching_response":"a","encouragement":"b"}`)
	assert.Equal(t, Response{CoachingResponse: "a", Encouragement: "b"}, got)
}

func TestNormalizeFallsBack(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"whitespace":       "   \n",
		"truncated":        `{"coaching_response": "Let's`,
		"prose":            "Sure! Here is some advice: take a walk.",
		"array":            `["a", "b"]`,
		"null":             "null",
		"missing encourag": `{"coaching_response":"a"}`,
		"wrong type":       `{"coaching_response":"a","encouragement":"b","subtasks":"one"}`,
		"bad priority":     `{"coaching_response":"a","encouragement":"b","priority_suggestion":"urgent"}`,
		"trailing":         `{"coaching_response":"a","encouragement":"b"} and more`,
		"fence only":       "```json\n```",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got := Normalize(raw)
			assert.Equal(t, Fallback(), got)
			assert.NotEmpty(t, got.CoachingResponse)
			assert.NotEmpty(t, got.Encouragement)
		})
	}
}

func TestParseReturnsParseError(t *testing.T) {
	_, err := Parse("not json")
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "not json", parseErr.Raw)
}

func TestFallbackShape(t *testing.T) {
	fb := Fallback()
	assert.Equal(t, domain.PriorityMedium, fb.PrioritySuggestion)
	assert.NotEmpty(t, fb.EstimatedTime)
	assert.Nil(t, fb.Subtasks)

	// Callers may mutate their copy without affecting later fallbacks.
	fb.CoachingResponse = ""
	assert.NotEmpty(t, Fallback().CoachingResponse)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`{"a":1}`))
	assert.Equal(t, "", StripFences("```"))
}
