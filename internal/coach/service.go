package coach

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single upstream model call.
const DefaultTimeout = 20 * time.Second

// ServiceConfig configures Service.
type ServiceConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// Service runs the coaching pipeline for a single request.
type Service struct {
	gateway   Gateway
	collector *ContextCollector
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

// NewService creates a coaching service. collector may be nil.
func NewService(gateway Gateway, collector *ContextCollector, cfg ServiceConfig) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		gateway:   gateway,
		collector: collector,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Coach validates req and returns a usable Response. The only error it
// returns is *ValidationError; every upstream or parse failure yields
// Fallback().
func (s *Service) Coach(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		s.metrics.observeRequest(req.Kind, outcomeInvalid)
		return Response{}, err
	}

	req = s.collector.Enrich(ctx, req)
	prompt := BuildPrompt(req)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.gateway.Generate(callCtx, prompt)
	s.metrics.observeUpstream(time.Since(start).Seconds(), err)
	if err != nil {
		s.logGatewayError(req, err)
		s.metrics.observeRequest(req.Kind, outcomeUpstream)
		return Fallback(), nil
	}

	resp, err := Parse(raw)
	if err != nil {
		s.logger.Error("Failed to parse model response",
			"kind", req.Kind,
			"error", err,
			"raw", raw,
		)
		s.metrics.observeRequest(req.Kind, outcomeParse)
		return Fallback(), nil
	}

	s.metrics.observeRequest(req.Kind, outcomeOK)
	return resp, nil
}

func (s *Service) logGatewayError(req Request, err error) {
	var cfgErr *ConfigError
	var transportErr *TransportError
	var malformedErr *MalformedUpstreamError
	switch {
	case errors.As(err, &cfgErr):
		s.logger.Error("Coaching upstream not configured", "kind", req.Kind, "error", err)
	case errors.As(err, &transportErr):
		s.logger.Error("Coaching upstream call failed",
			"kind", req.Kind,
			"status", transportErr.StatusCode,
			"body", transportErr.Body,
			"timeout", errors.Is(err, context.DeadlineExceeded),
			"error", err,
		)
	case errors.As(err, &malformedErr):
		s.logger.Error("Coaching upstream returned malformed response", "kind", req.Kind, "error", err)
	default:
		s.logger.Error("Coaching upstream error", "kind", req.Kind, "error", err)
	}
}
