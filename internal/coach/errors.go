package coach

import "fmt"

// MissingFieldsMessage is returned to callers that omit input or type.
const MissingFieldsMessage = "Missing required fields: input and type"

// ConfigError reports that no upstream credential is configured.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Message
}

// TransportError reports a failed upstream call: a non-success status,
// a network failure, or a timeout. StatusCode is 0 when no response arrived.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream transport: %v", e.Err)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedUpstreamError reports a success response without candidate content.
type MalformedUpstreamError struct {
	Reason string
}

func (e *MalformedUpstreamError) Error() string {
	return "malformed upstream response: " + e.Reason
}

// ParseError reports model output that does not match the response schema.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError reports an invalid incoming request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
