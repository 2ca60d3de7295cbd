// Package mock provides a scriptable keyrotor.Provider for tests and demos.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/keyrotor"
)

// Provider is a mock LLM provider for testing.
type Provider struct {
	name         string
	latency      time.Duration
	callCount    atomic.Int64
	staticErr    error
	keyErrs      map[string]error
	usage        keyrotor.Usage
	responseFunc func(keyrotor.ProviderRequest) (keyrotor.ProviderResponse, error)

	mu   sync.Mutex
	keys []string
}

var _ keyrotor.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    "mock",
		keyErrs: make(map[string]error),
		usage: keyrotor.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithKeyError makes calls using key fail with err.
func WithKeyError(key string, err error) Option {
	return func(p *Provider) { p.keyErrs[key] = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u keyrotor.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(keyrotor.ProviderRequest) (keyrotor.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req keyrotor.ProviderRequest) (keyrotor.ProviderResponse, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return keyrotor.ProviderResponse{}, ctx.Err()
		}
	}

	p.callCount.Add(1)
	p.mu.Lock()
	p.keys = append(p.keys, req.APIKey)
	p.mu.Unlock()

	if p.staticErr != nil {
		return keyrotor.ProviderResponse{}, p.staticErr
	}
	if err, ok := p.keyErrs[req.APIKey]; ok {
		return keyrotor.ProviderResponse{}, err
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return keyrotor.ProviderResponse{
		ID:           "mock-response-id",
		Content:      "Hello from mock provider",
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Keys returns the keys used by each call, in call order.
func (p *Provider) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}
