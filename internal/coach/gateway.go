package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Fixed generation parameters.
const (
	temperature     float32 = 0.7
	topP            float32 = 0.95
	topK            float32 = 40
	maxOutputTokens int32   = 1024
)

// DefaultModel is the upstream model used when none is configured.
const DefaultModel = "gemini-1.5-flash-latest"

// Gateway performs a single call to the generative model.
type Gateway interface {
	// Generate returns the raw model text for prompt. Errors are
	// *ConfigError, *TransportError, or *MalformedUpstreamError.
	Generate(ctx context.Context, prompt string) (string, error)
}

// GatewayConfig configures GeminiGateway.
type GatewayConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // Override for tests or proxies.
	HTTPClient *http.Client
}

// GeminiGateway calls the Gemini generateContent API.
type GeminiGateway struct {
	client *genai.Client // nil when no API key is configured
	model  string
	logger *slog.Logger
}

var _ Gateway = (*GeminiGateway)(nil)

// NewGeminiGateway creates a gateway. A missing API key is not an error here;
// every Generate call fails with *ConfigError instead.
func NewGeminiGateway(ctx context.Context, cfg GatewayConfig, logger *slog.Logger) (*GeminiGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	g := &GeminiGateway{model: model, logger: logger}
	if cfg.APIKey == "" {
		logger.Warn("Gemini API key not configured, coaching will use fallback responses")
		return g, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Generate sends prompt to the model once. There are no retries.
func (g *GeminiGateway) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", &ConfigError{Message: "Gemini API key not configured"}
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		TopP:            genai.Ptr(topP),
		TopK:            genai.Ptr(topK),
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		terr := toTransportError(err)
		g.logger.Error("Gemini API error",
			"status", terr.StatusCode,
			"body", terr.Body,
			"error", err,
			"duration", time.Since(start),
		)
		return "", terr
	}

	text, err := candidateText(resp)
	if err != nil {
		g.logger.Error("Unexpected Gemini API response structure", "error", err)
		return "", err
	}
	return text, nil
}

func toTransportError(err error) *TransportError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{StatusCode: apiErr.Code, Body: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &TransportError{StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message, Err: err}
	}
	return &TransportError{Err: err}
}

func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", &MalformedUpstreamError{Reason: "no candidates"}
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return "", &MalformedUpstreamError{Reason: "candidate has no content parts"}
	}

	var b strings.Builder
	for _, part := range content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", &MalformedUpstreamError{Reason: "candidate content has no text"}
	}
	return b.String(), nil
}
