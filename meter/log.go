package meter

import (
	"log/slog"

	"github.com/ineyio/keyrotor"
)

// LogMeter logs pool and rotation events using slog. Keys arrive masked.
type LogMeter struct {
	Logger *slog.Logger
}

var _ keyrotor.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnSelect(e keyrotor.SelectEvent) {
	if !e.OK {
		m.Logger.Warn("pool_exhausted",
			"pool", e.Pool,
			"limit", e.Limit,
		)
		return
	}
	m.Logger.Debug("key_selected",
		"pool", e.Pool,
		"key", e.Key,
		"used", e.Used,
		"limit", e.Limit,
		"available", e.Available,
	)
}

func (m *LogMeter) OnAttempt(e keyrotor.AttemptEvent) {
	switch e.State {
	case keyrotor.StateSuccess:
		m.Logger.Info("attempt",
			"provider", e.Provider,
			"key", e.Key,
			"attempt", e.Attempt,
			"attempt_id", e.AttemptID,
			"duration_ms", e.Duration.Milliseconds(),
		)
	case keyrotor.StateQuotaFailure:
		m.Logger.Warn("attempt_quota_exceeded",
			"provider", e.Provider,
			"key", e.Key,
			"attempt", e.Attempt,
			"attempt_id", e.AttemptID,
			"error", e.Error,
		)
	case keyrotor.StateExhausted:
		m.Logger.Warn("provider_exhausted",
			"provider", e.Provider,
			"attempt", e.Attempt,
			"error", e.Error,
		)
	default:
		m.Logger.Error("attempt_failed",
			"provider", e.Provider,
			"key", e.Key,
			"attempt", e.Attempt,
			"attempt_id", e.AttemptID,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnReset(e keyrotor.ResetEvent) {
	m.Logger.Info("daily_reset",
		"pool", e.Pool,
		"day", e.Day,
		"cleared", e.Cleared,
	)
}
