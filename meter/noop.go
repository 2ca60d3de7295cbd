package meter

import "github.com/ineyio/keyrotor"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ keyrotor.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnSelect(keyrotor.SelectEvent)   {}
func (m *NoopMeter) OnAttempt(keyrotor.AttemptEvent) {}
func (m *NoopMeter) OnReset(keyrotor.ResetEvent)     {}
