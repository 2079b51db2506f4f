package coach

import (
	"fmt"
	"strings"
)

const promptPreamble = `You are a gentle, encouraging AI coach specifically designed for neurodivergent minds (ADHD, autism, anxiety). Your role is to help break down tasks and provide supportive guidance.`

const promptSchema = `Please respond with a JSON object containing:
{
  "coaching_response": "A warm, encouraging response that acknowledges their input and provides gentle guidance (2-3 sentences)",
  "subtasks": ["array", "of", "specific", "actionable", "subtasks", "if", "applicable"],
  "priority_suggestion": "low|medium|high based on urgency and user's current state",
  "estimated_time": "realistic time estimate like '15-30 minutes' or 'Quick 5-minute task'",
  "encouragement": "A specific, personalized encouragement that validates their neurodivergent experience"
}`

const promptGuidelines = `Guidelines:
- Use warm, non-judgmental language
- Break complex tasks into tiny, manageable steps
- Consider executive function challenges
- Acknowledge that their brain works differently, not wrong
- Suggest realistic timeframes
- Be specific and actionable
- Validate their feelings and experiences
- Use "you" language to make it personal

Examples of good coaching language:
- "Your brain is working perfectly - it just needs the right support"
- "Let's make this feel less overwhelming by breaking it down"
- "Starting is often the hardest part, and you're already taking that step"
- "This is completely manageable when we take it one piece at a time"

Respond ONLY with valid JSON, no additional text.`

// BuildPrompt renders req into the single prompt sent to the model.
// Context lines are emitted only for fields that are present; a zero mood
// or energy score counts as absent.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "User Input Type: %s\n", req.Kind)
	fmt.Fprintf(&b, "User Input: \"%s\"", req.Input)

	if c := req.Context; c != nil {
		if c.MoodScore != nil && *c.MoodScore > 0 {
			fmt.Fprintf(&b, "\nCurrent Mood Score: %d/10", *c.MoodScore)
		}
		if c.EnergyLevel != nil && *c.EnergyLevel > 0 {
			fmt.Fprintf(&b, "\nCurrent Energy Level: %d/10", *c.EnergyLevel)
		}
		if len(c.ExistingTasks) > 0 {
			fmt.Fprintf(&b, "\nExisting Tasks: %s", strings.Join(c.ExistingTasks, ", "))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(promptSchema)
	b.WriteString("\n\n")
	b.WriteString(promptGuidelines)
	return b.String()
}
