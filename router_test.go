package keyrotor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kr "github.com/ineyio/keyrotor"
	"github.com/ineyio/keyrotor/meter"
	"github.com/ineyio/keyrotor/policy"
	"github.com/ineyio/keyrotor/provider/mock"
)

func newTestPool(t *testing.T, limit int, keys ...string) *kr.Pool {
	t.Helper()
	p, err := kr.NewPool(keys, limit)
	require.NoError(t, err)
	return p
}

func newTestRouter(t *testing.T, backends []kr.Backend, opts ...kr.Option) *kr.Router {
	t.Helper()
	opts = append([]kr.Option{
		kr.WithPolicy(&policy.HealthyFirst{}),
		kr.WithMeter(&meter.NoopMeter{}),
	}, opts...)
	r, err := kr.NewRouter(backends, opts...)
	require.NoError(t, err)
	return r
}

func hello() kr.GenerateRequest { return kr.UserPrompt("hello") }

// Test 1: Rotated provider serves the request with the first key
func TestRouter_RotatedProviderServes(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"))
	pool := newTestPool(t, 10, testKey1, testKey2)

	r := newTestRouter(t, []kr.Backend{{Provider: gem, Model: "gemini-2.0-flash", Pool: pool}})

	resp, err := r.Generate(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, "Hello from mock provider", resp.Content)
	assert.Equal(t, "gemini", resp.Routing.Provider)
	assert.Equal(t, kr.MaskKey(testKey1), resp.Routing.Key)
	assert.Equal(t, "gemini-2.0-flash", resp.Routing.Model)
	assert.Equal(t, 1, resp.Routing.Attempts)
	assert.Equal(t, 0, resp.Routing.Fallbacks)
	assert.Equal(t, []string{testKey1}, gem.Keys())
}

// Test 2: Quota error on one key rotates to the next key of the same provider
func TestRouter_QuotaRotatesWithinProvider(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"), mock.WithKeyError(testKey1, kr.ErrQuotaExceeded))
	pool := newTestPool(t, 10, testKey1, testKey2)

	r := newTestRouter(t, []kr.Backend{{Provider: gem, Model: "m", Pool: pool}})

	resp, err := r.Generate(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, kr.MaskKey(testKey2), resp.Routing.Key)
	assert.Equal(t, 2, resp.Routing.Attempts)
	assert.Equal(t, 10, pool.Usage(testKey1))
	assert.Equal(t, []string{testKey1, testKey2}, gem.Keys())
}

// Test 3: Exhausted pool falls back to the next provider
func TestRouter_FallbackWhenPoolExhausted(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"), mock.WithError(kr.ErrQuotaExceeded))
	oai := mock.New(mock.WithName("openai"))
	pool := newTestPool(t, 10, testKey1, testKey2)

	r := newTestRouter(t, []kr.Backend{
		{Provider: gem, Model: "gemini-2.0-flash", Pool: pool},
		{Provider: oai, Model: "gpt-4o-mini", APIKey: "sk-static-0123456789"},
	})

	resp, err := r.Generate(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Routing.Provider)
	assert.Equal(t, "gpt-4o-mini", resp.Routing.Model)
	assert.Equal(t, 1, resp.Routing.Fallbacks)
	assert.Equal(t, int64(2), gem.CallCount())
	assert.Equal(t, []string{"sk-static-0123456789"}, oai.Keys())
	assert.Equal(t, 0, pool.Available())

	// The next request skips gemini without calling it.
	_, err = r.Generate(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, int64(2), gem.CallCount())
}

// Test 4: Non-quota failure is returned without falling back
func TestRouter_OtherFailureNotFallenBack(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"), mock.WithError(kr.ErrProviderUnavailable))
	oai := mock.New(mock.WithName("openai"))
	pool := newTestPool(t, 10, testKey1, testKey2)

	r := newTestRouter(t, []kr.Backend{
		{Provider: gem, Model: "m", Pool: pool},
		{Provider: oai, Model: "m", APIKey: "sk-static-0123456789"},
	})

	_, err := r.Generate(context.Background(), hello())
	require.Error(t, err)
	assert.ErrorIs(t, err, kr.ErrProviderUnavailable)
	assert.Equal(t, int64(1), gem.CallCount())
	assert.Equal(t, int64(0), oai.CallCount())

	var routerErr *kr.RouterError
	require.ErrorAs(t, err, &routerErr)
	assert.Equal(t, "gemini", routerErr.Provider)
	assert.Equal(t, 1, routerErr.Attempts)
	assert.Equal(t, kr.MaskKey(testKey1), routerErr.Key)
}

// Test 5: Fatal error stops at the first attempt
func TestRouter_FatalErrorStops(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"), mock.WithError(kr.ErrAuthFailed))
	pool := newTestPool(t, 10, testKey1, testKey2)

	r := newTestRouter(t, []kr.Backend{{Provider: gem, Model: "m", Pool: pool}})

	_, err := r.Generate(context.Background(), hello())
	require.Error(t, err)
	assert.ErrorIs(t, err, kr.ErrAuthFailed)
	assert.True(t, kr.IsFatal(err))

	var routerErr *kr.RouterError
	require.ErrorAs(t, err, &routerErr)
	assert.Equal(t, 1, routerErr.Attempts)
}

// Test 6: Quota error from a single-key provider counts as exhaustion
func TestRouter_StaticQuotaFallsBack(t *testing.T) {
	first := mock.New(mock.WithName("grok"), mock.WithError(kr.ErrRateLimited))
	second := mock.New(mock.WithName("openai"))

	r := newTestRouter(t, []kr.Backend{
		{Provider: first, Model: "grok-3", APIKey: "xai-static-0123456789"},
		{Provider: second, Model: "gpt-4o-mini", APIKey: "sk-static-0123456789"},
	})

	resp, err := r.Generate(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Routing.Provider)
	assert.Equal(t, 1, resp.Routing.Fallbacks)
}

// Test 7: Every provider exhausted
func TestRouter_AllExhausted(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"), mock.WithError(kr.ErrQuotaExceeded))
	oai := mock.New(mock.WithName("openai"), mock.WithError(kr.ErrQuotaExceeded))
	pool := newTestPool(t, 10, testKey1)

	r := newTestRouter(t, []kr.Backend{
		{Provider: gem, Model: "m", Pool: pool},
		{Provider: oai, Model: "m", APIKey: "sk-static-0123456789"},
	})

	_, err := r.Generate(context.Background(), hello())
	require.Error(t, err)
	assert.ErrorIs(t, err, kr.ErrAllFailed)
	assert.ErrorIs(t, err, kr.ErrPoolExhausted)

	var routerErr *kr.RouterError
	require.ErrorAs(t, err, &routerErr)
	assert.Equal(t, 2, routerErr.Fallbacks)
}

// Test 8: Quota failures do not mark a provider unhealthy
func TestRouter_QuotaIsNotHealthFailure(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"), mock.WithError(kr.ErrQuotaExceeded))
	oai := mock.New(mock.WithName("openai"))

	r := newTestRouter(t, []kr.Backend{
		{Provider: gem, Model: "m", Pool: newTestPool(t, 10, testKey1, testKey2, testKey3)},
		{Provider: oai, Model: "m", APIKey: "sk-static-0123456789"},
	})

	_, err := r.Generate(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, kr.HealthHealthy, r.Health().GetHealth("gemini"))
}

// Test 9: Unhealthy providers are tried last
func TestRouter_HealthyFirstReordering(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"))
	oai := mock.New(mock.WithName("openai"))

	r := newTestRouter(t, []kr.Backend{
		{Provider: gem, Model: "m", Pool: newTestPool(t, 10, testKey1)},
		{Provider: oai, Model: "m", APIKey: "sk-static-0123456789"},
	})
	for i := 0; i < 3; i++ {
		r.Health().RecordFailure("gemini")
	}

	resp, err := r.Generate(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Routing.Provider)
	assert.Equal(t, int64(0), gem.CallCount())
	assert.Equal(t, kr.HealthHealthy, r.Health().GetHealth("openai"))
}

// Test 10: Repeated provider failures open the circuit
func TestRouter_FailuresRecordedInHealth(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"), mock.WithError(kr.ErrProviderUnavailable))
	r := newTestRouter(t, []kr.Backend{{Provider: gem, Model: "m", Pool: newTestPool(t, 100, testKey1)}})

	for i := 0; i < 3; i++ {
		_, err := r.Generate(context.Background(), hello())
		require.Error(t, err)
	}
	assert.Equal(t, kr.HealthUnhealthy, r.Health().GetHealth("gemini"))
}

// Test 11: Model precedence
func TestRouter_ModelPrecedence(t *testing.T) {
	gem := mock.New(mock.WithName("gemini"))
	pool := newTestPool(t, 10, testKey1)

	t.Run("backend model wins", func(t *testing.T) {
		r := newTestRouter(t, []kr.Backend{{Provider: gem, Model: "pinned", Pool: pool}}, kr.WithDefaultModel("default"))
		req := hello()
		req.Model = "requested"
		resp, err := r.Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "pinned", resp.Model)
	})

	t.Run("request model next", func(t *testing.T) {
		r := newTestRouter(t, []kr.Backend{{Provider: gem, Pool: pool}}, kr.WithDefaultModel("default"))
		req := hello()
		req.Model = "requested"
		resp, err := r.Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "requested", resp.Model)
	})

	t.Run("default last", func(t *testing.T) {
		r := newTestRouter(t, []kr.Backend{{Provider: gem, Pool: pool}}, kr.WithDefaultModel("default"))
		resp, err := r.Generate(context.Background(), hello())
		require.NoError(t, err)
		assert.Equal(t, "default", resp.Model)
	})
}

// Test 12: Request validation
func TestRouter_EmptyMessages(t *testing.T) {
	r := newTestRouter(t, []kr.Backend{{Provider: mock.New(), Pool: newTestPool(t, 10, testKey1)}})

	_, err := r.Generate(context.Background(), kr.GenerateRequest{})
	assert.ErrorIs(t, err, kr.ErrInvalidRequest)
}

// Test 13: Construction errors
func TestNewRouter_Validation(t *testing.T) {
	_, err := kr.NewRouter(nil)
	assert.ErrorIs(t, err, kr.ErrNoProviders)

	_, err = kr.NewRouter([]kr.Backend{{Model: "m", APIKey: "k"}})
	assert.Error(t, err)

	_, err = kr.NewRouter([]kr.Backend{{Provider: mock.New()}})
	assert.Error(t, err)
}

// Test 14: Attempts are reported to the meter
func TestRouter_MeterSeesAttempts(t *testing.T) {
	m := &recordingMeter{}
	gem := mock.New(mock.WithName("gemini"), mock.WithKeyError(testKey1, kr.ErrQuotaExceeded))
	oai := mock.New(mock.WithName("openai"))

	r := newTestRouter(t, []kr.Backend{
		{Provider: gem, Model: "m", Pool: newTestPool(t, 10, testKey1)},
		{Provider: oai, Model: "m", APIKey: "sk-static-0123456789"},
	}, kr.WithMeter(m))

	_, err := r.Generate(context.Background(), hello())
	require.NoError(t, err)
	assert.Equal(t, []kr.State{kr.StateQuotaFailure, kr.StateSuccess}, m.attemptStates())
	assert.Equal(t, "openai", m.attempts[1].Provider)
	assert.Equal(t, kr.MaskKey("sk-static-0123456789"), m.attempts[1].Key)
}

func TestRouter_Providers(t *testing.T) {
	r := newTestRouter(t, []kr.Backend{
		{Provider: mock.New(mock.WithName("a")), APIKey: "k"},
		{Provider: mock.New(mock.WithName("b")), APIKey: "k"},
	})
	assert.Equal(t, []string{"a", "b"}, r.Providers())
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, kr.IsFatal(kr.ErrAuthFailed))
	assert.True(t, kr.IsFatal(kr.ErrInvalidRequest))
	assert.False(t, kr.IsFatal(kr.ErrRateLimited))

	assert.True(t, kr.IsQuotaError(kr.ErrRateLimited))
	assert.True(t, kr.IsQuotaError(kr.ErrQuotaExceeded))
	assert.False(t, kr.IsQuotaError(kr.ErrProviderUnavailable))

	assert.True(t, kr.IsExhausted(kr.ErrPoolExhausted))
	assert.False(t, kr.IsExhausted(kr.ErrQuotaExceeded))
}
