package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/progress"
)

// LogSink emits structured logs for debugging decision streams. It is useful
// during development or audits where a durable sink is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch using structured fields. Decisions are
// logged at debug level since there is one per discovered link.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
		}
		switch evt.Stage {
		case progress.StageDecision, progress.StageBatch:
			fields = append(fields,
				zap.String("via", evt.Via),
				zap.String("outcome", evt.Outcome),
				zap.String("reason", evt.Reason),
				zap.Int("precedence", evt.Precedence),
			)
		case progress.StageFetchDone:
			fields = append(fields,
				zap.Int64("bytes", evt.Bytes),
				zap.String("status_class", string(evt.StatusClass)),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageDecision {
			s.logger.Debug("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
