package keyrotor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Router sends generation requests down an ordered provider chain. A
// provider is skipped only when it has no usable key; any other failure is
// returned to the caller as is.
type Router struct {
	backends     []Backend
	rotators     []*Rotator
	policy       Policy
	meter        Meter
	health       *HealthTracker
	defaultModel string
}

// Option configures a Router.
type Option func(*Router)

// WithPolicy sets the fallback ordering policy.
func WithPolicy(p Policy) Option {
	return func(r *Router) { r.policy = p }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(r *Router) { r.health = h }
}

// WithDefaultModel sets the model used when neither the backend nor the
// request names one.
func WithDefaultModel(model string) Option {
	return func(r *Router) { r.defaultModel = model }
}

// NewRouter creates a Router over backends, tried in the given order unless
// a Policy reorders them.
func NewRouter(backends []Backend, opts ...Option) (*Router, error) {
	if len(backends) == 0 {
		return nil, ErrNoProviders
	}
	for i, b := range backends {
		if b.Provider == nil {
			return nil, fmt.Errorf("keyrotor: backend[%d]: provider is required", i)
		}
		if b.Pool == nil && b.APIKey == "" {
			return nil, fmt.Errorf("keyrotor: backend[%d] (%s): pool or api key is required", i, b.Provider.Name())
		}
	}

	r := &Router{
		backends: backends,
		health:   NewHealthTracker(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.policy == nil {
		r.policy = staticOrder{}
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}
	if r.health == nil {
		r.health = NewHealthTracker()
	}

	r.rotators = make([]*Rotator, len(backends))
	for i, b := range backends {
		if b.Pool != nil {
			r.rotators[i] = NewRotator(b.Pool, WithProvider(b.Provider.Name()), WithRotatorMeter(r.meter))
		}
	}

	return r, nil
}

// Health returns the router's health tracker.
func (r *Router) Health() *HealthTracker { return r.health }

// Providers returns the provider names in configured order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.backends))
	for i, b := range r.backends {
		names[i] = b.Provider.Name()
	}
	return names
}

// Generate routes req to the first provider in the chain that has a usable key.
func (r *Router) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if len(req.Messages) == 0 {
		return GenerateResponse{}, fmt.Errorf("%w: no messages", ErrInvalidRequest)
	}

	ordered := r.policy.Order(buildCandidates(r.backends, r.rotators, r.health))

	var (
		fallbacks int
		lastErr   error
	)
	for _, c := range ordered {
		name := c.Provider.Name()
		provReq := ProviderRequest{
			Model:       r.modelFor(req, c),
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}

		var (
			resp     ProviderResponse
			usedKey  string
			attempts int
			err      error
		)
		if c.Rotated() {
			resp, err = Call(ctx, c.Rotator, func(ctx context.Context, key string) (ProviderResponse, error) {
				usedKey = key
				attempts++
				provReq.APIKey = key
				return c.Provider.Generate(ctx, provReq)
			})
		} else {
			usedKey, attempts = c.StaticKey, 1
			resp, err = r.callStatic(ctx, c, provReq)
		}

		if err == nil {
			r.health.RecordSuccess(name)
			return GenerateResponse{
				ID:           resp.ID,
				Content:      resp.Content,
				FinishReason: resp.FinishReason,
				Usage:        resp.Usage,
				Model:        resp.Model,
				Routing: RoutingInfo{
					Provider:  name,
					Key:       MaskKey(usedKey),
					Model:     provReq.Model,
					Attempts:  attempts,
					Fallbacks: fallbacks,
				},
			}, nil
		}

		if IsExhausted(err) {
			fallbacks++
			lastErr = err
			continue
		}

		if ctx.Err() == nil {
			r.health.RecordFailure(name)
		}
		return GenerateResponse{}, &RouterError{
			Err:       err,
			Provider:  name,
			Key:       MaskKey(usedKey),
			Attempts:  attempts,
			Fallbacks: fallbacks,
		}
	}

	return GenerateResponse{}, &RouterError{
		Err:       fmt.Errorf("%w: %w", ErrAllFailed, lastErr),
		Fallbacks: fallbacks,
	}
}

// callStatic calls a single-key provider. A quota rejection means the only
// key is used up, which the chain treats like an exhausted pool.
func (r *Router) callStatic(ctx context.Context, c Candidate, req ProviderRequest) (ProviderResponse, error) {
	name := c.Provider.Name()
	masked := MaskKey(c.StaticKey)
	attemptID := uuid.New().String()

	req.APIKey = c.StaticKey
	start := time.Now()
	resp, err := c.Provider.Generate(ctx, req)
	duration := time.Since(start)

	switch {
	case err == nil:
		r.meter.OnAttempt(AttemptEvent{AttemptID: attemptID, Provider: name, Key: masked, Attempt: 1, State: StateSuccess, Duration: duration})
		return resp, nil
	case IsQuotaError(err):
		r.meter.OnAttempt(AttemptEvent{AttemptID: attemptID, Provider: name, Key: masked, Attempt: 1, State: StateExhausted, Duration: duration, Error: err})
		return ProviderResponse{}, errors.Join(ErrPoolExhausted, err)
	default:
		r.meter.OnAttempt(AttemptEvent{AttemptID: attemptID, Provider: name, Key: masked, Attempt: 1, State: StateOtherFailure, Duration: duration, Error: err})
		return ProviderResponse{}, err
	}
}

// modelFor picks the backend model, then the request model, then the default.
func (r *Router) modelFor(req GenerateRequest, c Candidate) string {
	if c.Model != "" {
		return c.Model
	}
	if req.Model != "" {
		return req.Model
	}
	return r.defaultModel
}
