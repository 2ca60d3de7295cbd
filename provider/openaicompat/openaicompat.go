// Package openaicompat adapts OpenAI-compatible chat completion APIs
// (OpenAI, Grok/xAI, Cerebras, Together, Ollama) to keyrotor.Provider.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ineyio/keyrotor"
	openai "github.com/sashabaranov/go-openai"
)

// Provider is a universal OpenAI-compatible API adapter.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

var _ keyrotor.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(opts ...Option) *Provider {
	return New("openai", "https://api.openai.com/v1", opts...)
}

// NewGrok creates a provider for Grok/xAI.
func NewGrok(opts ...Option) *Provider {
	return New("grok", "https://api.x.ai/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

// Generate issues a chat completion with the key from req.
func (p *Provider) Generate(ctx context.Context, req keyrotor.ProviderRequest) (keyrotor.ProviderResponse, error) {
	if req.Model == "" {
		return keyrotor.ProviderResponse{}, fmt.Errorf("%w: %s: model is required", keyrotor.ErrInvalidRequest, p.name)
	}

	client := p.client(req.APIKey)
	resp, err := client.CreateChatCompletion(ctx, buildRequest(req))
	if err != nil {
		return keyrotor.ProviderResponse{}, p.mapError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return keyrotor.ProviderResponse{}, fmt.Errorf("%w: %s: empty choices", keyrotor.ErrProviderUnavailable, p.name)
	}

	return keyrotor.ProviderResponse{
		ID:           resp.ID,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Model:        resp.Model,
		Usage: keyrotor.Usage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:      int64(resp.Usage.TotalTokens),
		},
	}, nil
}

// client is built per call since the key changes between rotated attempts.
func (p *Provider) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.baseURL
	cfg.HTTPClient = p.httpClient
	return openai.NewClientWithConfig(cfg)
}

func buildRequest(req keyrotor.ProviderRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	cr := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.Temperature != nil {
		cr.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		cr.MaxTokens = *req.MaxTokens
	}
	return cr
}

func (p *Provider) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(p.name, apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(p.name, reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode))
	}

	return fmt.Errorf("%w: %s: %v", keyrotor.ErrProviderUnavailable, p.name, err)
}

func statusError(name string, status int, msg string) error {
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %s", keyrotor.ErrQuotaExceeded, name, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", keyrotor.ErrAuthFailed, name, msg)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s: %s", keyrotor.ErrInvalidRequest, name, msg)
	default:
		return fmt.Errorf("%w: %s: status %d: %s", keyrotor.ErrProviderUnavailable, name, status, msg)
	}
}
