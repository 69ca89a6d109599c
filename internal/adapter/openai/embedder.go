package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = string(goopenai.SmallEmbedding3)
)

type Embedder struct {
	apiKey string
	model  string
	cfg    goopenai.ClientConfig
	client *goopenai.Client
}

func NewEmbedder(apiKey, model string) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = DefaultBaseURL
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	return &Embedder{
		apiKey: apiKey,
		model:  model,
		cfg:    cfg,
		client: goopenai.NewClientWithConfig(cfg),
	}
}

// SetBaseURL points the client at an OpenAI-compatible endpoint.
func (e *Embedder) SetBaseURL(url string) {
	if url == "" {
		return
	}
	e.cfg.BaseURL = strings.TrimRight(url, "/")
	e.client = goopenai.NewClientWithConfig(e.cfg)
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}

	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(e.model),
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai api error: status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *goopenai.RequestError
		if errors.As(err, &reqErr) {
			return nil, fmt.Errorf("openai api error: status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai response missing embedding")
	}

	slog.DebugContext(ctx, "embedding created", "model", e.model, "dimensions", len(resp.Data[0].Embedding))
	return resp.Data[0].Embedding, nil
}
