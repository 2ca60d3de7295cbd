package keyrotor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is a step of a rotated request.
type State int

const (
	StateSelecting State = iota
	StateRequesting
	StateSuccess
	StateQuotaFailure
	StateOtherFailure
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateSelecting:
		return "selecting"
	case StateRequesting:
		return "requesting"
	case StateSuccess:
		return "success"
	case StateQuotaFailure:
		return "quota_failure"
	case StateOtherFailure:
		return "other_failure"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Rotator runs requests against a pool, switching keys on quota errors.
type Rotator struct {
	pool     *Pool
	provider string
	meter    Meter
}

// RotatorOption configures a Rotator.
type RotatorOption func(*Rotator)

// WithRotatorMeter sets the meter notified of attempts.
func WithRotatorMeter(m Meter) RotatorOption {
	return func(r *Rotator) { r.meter = m }
}

// WithProvider sets the provider name reported in errors and events
// (default: the pool name).
func WithProvider(name string) RotatorOption {
	return func(r *Rotator) { r.provider = name }
}

// NewRotator creates a Rotator over pool.
func NewRotator(pool *Pool, opts ...RotatorOption) *Rotator {
	r := &Rotator{pool: pool, provider: pool.Name()}
	for _, opt := range opts {
		opt(r)
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}
	return r
}

// Do calls fn with successive keys until it succeeds, fails with a non-quota
// error, or the pool runs out. A quota error marks the key exhausted and
// selects another one. At most one attempt per key in the pool is made.
//
// Errors are *RotationError. errors.Is(err, ErrPoolExhausted) reports that
// the caller should fall back to another provider; any other error came
// from fn and was not retried.
func (r *Rotator) Do(ctx context.Context, fn func(ctx context.Context, key string) error) error {
	_, err := Call(ctx, r, func(ctx context.Context, key string) (struct{}, error) {
		return struct{}{}, fn(ctx, key)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, r *Rotator, fn func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T

	maxAttempts := r.pool.Len()
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var lastKey string
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &RotationError{Err: err, Provider: r.provider, Key: lastKey, Attempts: attempt - 1, State: StateOtherFailure}
		}

		key, err := r.pool.Select()
		if err != nil {
			r.meter.OnAttempt(AttemptEvent{Provider: r.provider, Attempt: attempt, State: StateExhausted, Error: err})
			return zero, &RotationError{Err: err, Provider: r.provider, Key: lastKey, Attempts: attempt - 1, State: StateExhausted}
		}

		masked := MaskKey(key)
		attemptID := uuid.New().String()

		start := time.Now()
		v, err := fn(ctx, key)
		duration := time.Since(start)

		if err == nil {
			r.meter.OnAttempt(AttemptEvent{AttemptID: attemptID, Provider: r.provider, Key: masked, Attempt: attempt, State: StateSuccess, Duration: duration})
			return v, nil
		}

		if !IsQuotaError(err) {
			r.meter.OnAttempt(AttemptEvent{AttemptID: attemptID, Provider: r.provider, Key: masked, Attempt: attempt, State: StateOtherFailure, Duration: duration, Error: err})
			return zero, &RotationError{Err: err, Provider: r.provider, Key: masked, Attempts: attempt, State: StateOtherFailure}
		}

		r.pool.MarkExhausted(key)
		r.meter.OnAttempt(AttemptEvent{AttemptID: attemptID, Provider: r.provider, Key: masked, Attempt: attempt, State: StateQuotaFailure, Duration: duration, Error: err})
		lastKey, lastErr = masked, err
	}

	// Every key was tried and rejected upstream within this call.
	return zero, &RotationError{
		Err:      &exhaustedError{cause: lastErr},
		Provider: r.provider,
		Key:      lastKey,
		Attempts: maxAttempts,
		State:    StateExhausted,
	}
}

// exhaustedError reports pool exhaustion while keeping the last provider error visible.
type exhaustedError struct {
	cause error
}

func (e *exhaustedError) Error() string {
	if e.cause == nil {
		return ErrPoolExhausted.Error()
	}
	return ErrPoolExhausted.Error() + ": last error: " + e.cause.Error()
}

func (e *exhaustedError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrPoolExhausted}
	}
	return []error{ErrPoolExhausted, e.cause}
}
