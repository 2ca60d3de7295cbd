package keyrotor

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrPoolExhausted       = errors.New("keyrotor: no key available")
	ErrQuotaExceeded       = errors.New("keyrotor: quota exceeded")
	ErrRateLimited         = errors.New("keyrotor: rate limited by provider")
	ErrAuthFailed          = errors.New("keyrotor: authentication failed")
	ErrInvalidRequest      = errors.New("keyrotor: invalid request")
	ErrProviderUnavailable = errors.New("keyrotor: provider unavailable")
	ErrNoProviders         = errors.New("keyrotor: no providers configured")
	ErrAllFailed           = errors.New("keyrotor: all providers exhausted")
)

// RotationError wraps the terminal outcome of a rotated call.
type RotationError struct {
	Err      error
	Provider string
	Key      string // masked
	Attempts int
	State    State
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("keyrotor: provider=%s key=%s state=%s attempts=%d: %v",
		e.Provider, e.Key, e.State, e.Attempts, e.Err)
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// RouterError wraps an error with routing context.
type RouterError struct {
	Err       error
	Provider  string
	Key       string // masked
	Attempts  int
	Fallbacks int
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("keyrotor: provider=%s key=%s attempts=%d fallbacks=%d: %v",
		e.Provider, e.Key, e.Attempts, e.Fallbacks, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// IsQuotaError reports whether err is a provider-side quota or rate-limit
// rejection. Such errors are fixed by switching keys.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrRateLimited)
}

// IsExhausted reports whether err means the provider has no usable key left.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsFatal returns true if the error points at the request or credentials
// rather than at the provider's capacity.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest)
}
