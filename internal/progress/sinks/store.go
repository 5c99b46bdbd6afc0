package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/progress"
)

// Journal persists log lines and error records. store.Repository satisfies it.
type Journal interface {
	InsertLog(ctx context.Context, e crawler.LogEntry) error
	InsertError(ctx context.Context, e crawler.ErrorRecord) error
}

// StoreSink persists log and error events to the logs and errors tables.
// Debug lines are dropped unless PersistDebug is set.
type StoreSink struct {
	journal      Journal
	persistDebug bool
	logger       *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided journal.
func NewStoreSink(journal Journal, persistDebug bool, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{journal: journal, persistDebug: persistDebug, logger: logger}
}

// Consume writes the batch in order. It respects ctx deadlines and stops at the
// first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.journal == nil {
		return nil
	}
	for _, evt := range batch {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("store sink: %w", err)
		}
		switch evt.Stage {
		case progress.StageLog:
			if evt.Level == crawler.LevelDebug && !s.persistDebug {
				continue
			}
			if err := s.journal.InsertLog(ctx, crawler.LogEntry{
				Level:     evt.Level,
				Message:   evt.Message,
				Context:   withRunID(evt),
				CreatedAt: evt.TS,
			}); err != nil {
				return fmt.Errorf("insert log: %w", err)
			}
		case progress.StageError:
			if err := s.journal.InsertError(ctx, crawler.ErrorRecord{
				ItemKind:  evt.ItemKind,
				ItemID:    evt.ItemID,
				Message:   evt.Message,
				Trace:     evt.Trace,
				CreatedAt: evt.TS,
			}); err != nil {
				return fmt.Errorf("insert error record: %w", err)
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func withRunID(evt progress.Event) map[string]any {
	if evt.RunID == [16]byte{} {
		return evt.Fields
	}
	out := make(map[string]any, len(evt.Fields)+1)
	for k, v := range evt.Fields {
		out[k] = v
	}
	out["run_id"] = evt.RunUUID().String()
	return out
}
