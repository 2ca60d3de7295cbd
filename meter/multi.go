package meter

import "github.com/ineyio/keyrotor"

// Multi fans events out to several meters in order.
type Multi []keyrotor.Meter

var _ keyrotor.Meter = Multi(nil)

func (m Multi) OnSelect(e keyrotor.SelectEvent) {
	for _, mm := range m {
		mm.OnSelect(e)
	}
}

func (m Multi) OnAttempt(e keyrotor.AttemptEvent) {
	for _, mm := range m {
		mm.OnAttempt(e)
	}
}

func (m Multi) OnReset(e keyrotor.ResetEvent) {
	for _, mm := range m {
		mm.OnReset(e)
	}
}
