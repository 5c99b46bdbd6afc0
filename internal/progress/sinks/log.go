package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/progress"
)

// LogSink writes every event through zap at the level it was emitted with.
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
		fields := make([]zap.Field, 0, len(evt.Fields)+4)
		if evt.RunID != [16]byte{} {
			fields = append(fields, zap.String("run_id", evt.RunUUID().String()))
		}
		switch evt.Stage {
		case progress.StageLog:
			for k, v := range evt.Fields {
				fields = append(fields, zap.Any(k, v))
			}
			s.logger.Log(zapLevel(evt.Level), evt.Message, fields...)
		case progress.StageError:
			fields = append(fields,
				zap.String("item_kind", evt.ItemKind),
				zap.String("item_id", evt.ItemID),
			)
			if evt.Trace != "" {
				fields = append(fields, zap.String("trace", evt.Trace))
			}
			s.logger.Error(evt.Message, fields...)
		case progress.StageRunStart:
			s.logger.Info("run started", append(fields, zap.String("kind", evt.RunKind))...)
		case progress.StageRunDone:
			s.logger.Info("run finished", append(fields, zap.String("kind", evt.RunKind), zap.Duration("dur", evt.Dur))...)
		case progress.StageRunError:
			s.logger.Warn("run failed", append(fields,
				zap.String("kind", evt.RunKind), zap.Duration("dur", evt.Dur), zap.String("error", evt.Message))...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func zapLevel(level crawler.LogLevel) zapcore.Level {
	switch level {
	case crawler.LevelDebug:
		return zapcore.DebugLevel
	case crawler.LevelWarning:
		return zapcore.WarnLevel
	case crawler.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
