package coach

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Normalize converts raw model text into a Response. It never fails: output
// that does not match the schema yields Fallback().
func Normalize(raw string) Response {
	resp, err := Parse(raw)
	if err != nil {
		return Fallback()
	}
	return resp
}

// Parse strips code fences from raw and decodes it. Unknown fields are
// ignored; trailing data, wrong types, and missing required fields are not.
// The returned error is always a *ParseError.
func Parse(raw string) (Response, error) {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return Response{}, &ParseError{Raw: raw, Err: errors.New("empty output")}
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return Response{}, &ParseError{Raw: raw, Err: err}
	}
	if dec.More() {
		return Response{}, &ParseError{Raw: raw, Err: errors.New("trailing data after JSON object")}
	}
	if err := checkShape(resp); err != nil {
		return Response{}, &ParseError{Raw: raw, Err: err}
	}
	return resp, nil
}

func checkShape(r Response) error {
	if strings.TrimSpace(r.CoachingResponse) == "" {
		return errors.New("coaching_response is empty")
	}
	if strings.TrimSpace(r.Encouragement) == "" {
		return errors.New("encouragement is empty")
	}
	if r.PrioritySuggestion != "" && !r.PrioritySuggestion.Valid() {
		return fmt.Errorf("invalid priority_suggestion %q", r.PrioritySuggestion)
	}
	return nil
}

// StripFences removes a leading ``` or ```json fence, a trailing ``` fence,
// and surrounding whitespace.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
	}
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutSuffix(s, "```"); ok {
		s = rest
	}
	return strings.TrimSpace(s)
}
