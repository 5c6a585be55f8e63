package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/progress"
)

// LogSink emits structured logs for fleet events. It replaces a monitoring
// display during development or unattended runs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("kind", string(evt.Kind)),
			zap.Time("observed_at", evt.TS),
		}
		switch evt.Kind {
		case progress.KindStateChanged:
			fields = append(fields,
				zap.String("worker_id", string(evt.WorkerID)),
				zap.String("state", string(evt.State)),
			)
			s.logger.Info("worker state changed", fields...)
		case progress.KindFlagTotal:
			fields = append(fields,
				zap.String("flag", string(evt.Flag)),
				zap.Int("total", evt.Total),
			)
			s.logger.Debug("flag total changed", fields...)
		case progress.KindStateCounts:
			fields = append(fields,
				zap.Int("running", evt.Counts[fleet.StateRunning]),
				zap.Int("paused", evt.Counts[fleet.StatePaused]),
				zap.Int("stopped", evt.Counts[fleet.StateStopped]),
			)
			s.logger.Debug("fleet state counts", fields...)
		case progress.KindWorkerRemoved:
			fields = append(fields, zap.String("worker_id", string(evt.WorkerID)))
			s.logger.Info("worker removed", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
