package coach

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newUpstream starts a fake generateContent endpoint.
func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGateway(t *testing.T, baseURL string) *GeminiGateway {
	t.Helper()
	g, err := NewGeminiGateway(context.Background(), GatewayConfig{
		APIKey:  "test-key",
		BaseURL: baseURL + "/",
	}, nil)
	require.NoError(t, err)
	return g
}

func writeCandidate(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	})
}

func TestGeminiGatewaySendsFixedGenerationConfig(t *testing.T) {
	var captured map[string]any
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), "path %s", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		writeCandidate(w, "hello")
	})

	text, err := newTestGateway(t, srv.URL).Generate(context.Background(), "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	require.NotNil(t, captured)
	cfg, ok := captured["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", captured)
	assert.InDelta(t, 0.7, cfg["temperature"], 1e-6)
	assert.InDelta(t, 0.95, cfg["topP"], 1e-6)
	assert.InDelta(t, 40, cfg["topK"], 1e-6)
	assert.InDelta(t, 1024, cfg["maxOutputTokens"], 1e-6)

	contents, ok := captured["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
	assert.Contains(t, string(mustJSON(t, contents[0])), "the prompt")
}

func TestGeminiGatewayMissingKey(t *testing.T) {
	g, err := NewGeminiGateway(context.Background(), GatewayConfig{}, nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "prompt")
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestGeminiGatewayNonSuccessStatus(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"code":503,"message":"model overloaded","status":"UNAVAILABLE"}}`)
	})

	_, err := newTestGateway(t, srv.URL).Generate(context.Background(), "prompt")
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr), "got %T: %v", err, err)
	assert.Equal(t, http.StatusServiceUnavailable, transportErr.StatusCode)
}

func TestGeminiGatewayMalformedResponse(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := newTestGateway(t, srv.URL).Generate(context.Background(), "prompt")
	var malformed *MalformedUpstreamError
	assert.True(t, errors.As(err, &malformed), "got %T: %v", err, err)
}

func TestGeminiGatewayTimeout(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		writeCandidate(w, "too late")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestGateway(t, srv.URL).Generate(ctx, "prompt")
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr), "got %T: %v", err, err)
	assert.Equal(t, 0, transportErr.StatusCode)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
