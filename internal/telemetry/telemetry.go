// Package telemetry provides injected sinks for request outcome metrics,
// replacing any notion of process-wide counters.
package telemetry

import (
	"io"
	"log/slog"
	"time"
)

// LogSink records request outcomes as structured log events.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordRequest(outcome string, status int, elapsed time.Duration) {
	s.logger.Info("analysis request recorded",
		"outcome", outcome,
		"status", status,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}
