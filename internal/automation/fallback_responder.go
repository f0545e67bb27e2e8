package automation

import (
	"context"
	"strings"

	"github.com/wolfman30/chatlink/pkg/logging"
)

// FallbackResponder tries primary and, when it fails, the fallback provider.
// If both fail the fallback's error is returned, so a throttled fallback still
// surfaces as ErrRateLimited.
type FallbackResponder struct {
	primary  Responder
	fallback Responder
	logger   *logging.Logger
}

// NewFallbackResponder wraps primary. A nil fallback makes it a pass-through.
func NewFallbackResponder(primary, fallback Responder, logger *logging.Logger) *FallbackResponder {
	return &FallbackResponder{
		primary:  primary,
		fallback: fallback,
		logger:   logging.OrDefault(logger),
	}
}

func (r *FallbackResponder) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := r.primary.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary responder failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", r.fallback != nil,
	)
	if r.fallback == nil || ctx.Err() != nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := r.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		r.logger.Error("fallback responder also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return Response{}, fallbackErr
	}
	r.logger.Info("fallback responder succeeded after primary failure")
	return fallbackResp, nil
}

// StaticResponder always answers with the same text. It backs local runs without
// model credentials.
type StaticResponder struct {
	Text string
}

func (r StaticResponder) Generate(_ context.Context, req Request) (Response, error) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		text = "Thanks for your message! We'll get back to you shortly."
	}
	if strings.Contains(text, "%s") {
		text = strings.ReplaceAll(text, "%s", lastUserText(req))
	}
	return Response{Text: text}, nil
}
