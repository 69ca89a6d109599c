package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"tubesearch/apps/backend/internal/metrics"
	"tubesearch/apps/backend/internal/pacing"
	"tubesearch/apps/backend/internal/transcript"
)

// Provider is a raw embedding backend (OpenAI, Gemini).
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client paces calls to a Provider and normalizes its failures to
// transcript.ErrEmbeddingService. It does not retry.
type Client struct {
	provider Provider
	pacer    pacing.Pacer
}

func NewClient(p Provider, pacer pacing.Pacer) *Client {
	if pacer == nil {
		pacer = pacing.None
	}
	return &Client{provider: p, pacer: pacer}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: pacing: %v", transcript.ErrEmbeddingService, err)
	}

	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		metrics.EmbedCallsTotal.WithLabelValues("error").Inc()
		slog.DebugContext(ctx, "embedding call failed", "length", len(text), "error", err)
		return nil, fmt.Errorf("%w: %v", transcript.ErrEmbeddingService, err)
	}
	if len(vec) == 0 {
		metrics.EmbedCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: empty embedding received", transcript.ErrEmbeddingService)
	}

	metrics.EmbedCallsTotal.WithLabelValues("ok").Inc()
	return vec, nil
}
