package keyrotor

import "time"

// Meter observes pool and rotation events for monitoring/logging.
// Implementations must be safe for concurrent use and must not block.
type Meter interface {
	// OnSelect is called after every selection, successful or not.
	OnSelect(event SelectEvent)

	// OnAttempt is called when a rotated request reaches a state other than SELECTING.
	OnAttempt(event AttemptEvent)

	// OnReset is called when the pool clears its counters for a new day.
	OnReset(event ResetEvent)
}

// SelectEvent describes a selection from a pool.
type SelectEvent struct {
	Pool      string
	Key       string // masked; empty when no key was available
	Used      int
	Limit     int
	Available int
	OK        bool
}

// AttemptEvent describes one attempt of a rotated request.
type AttemptEvent struct {
	AttemptID string
	Provider  string
	Key       string // masked
	Attempt   int
	State     State
	Duration  time.Duration
	Error     error
}

// ResetEvent describes a daily counter reset.
type ResetEvent struct {
	Pool    string
	Day     string
	Cleared int
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnSelect(SelectEvent)   {}
func (noopMeter) OnAttempt(AttemptEvent) {}
func (noopMeter) OnReset(ResetEvent)     {}
