package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageLog      Stage = "LOG"
	StageError    Stage = "ERROR"
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Event captures one observability record.
type Event struct {
	// RunID correlates events of one scheduler run or operator trigger; zero when unscoped.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Level and Message are set for log events.
	Level   crawler.LogLevel
	Message string
	// Fields is structured context; emitters hand over a private copy.
	Fields map[string]any
	// ItemKind, ItemID and Trace are set for error records.
	ItemKind string
	ItemID   string
	Trace    string
	// RunKind names the scheduler operation for run events.
	RunKind string
	// Dur captures run latency on completion.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageLog:
		switch e.Level {
		case crawler.LevelDebug, crawler.LevelInfo, crawler.LevelWarning, crawler.LevelError:
		default:
			return fmt.Errorf("unknown level %q", e.Level)
		}
		if e.Message == "" {
			return errors.New("log event requires message")
		}
	case StageError:
		if e.ItemKind == "" {
			return errors.New("error event requires item kind")
		}
		if e.Message == "" {
			return errors.New("error event requires message")
		}
	case StageRunStart, StageRunDone, StageRunError:
		if e.RunKind == "" {
			return errors.New("run event requires run kind")
		}
		if e.RunID == [16]byte{} {
			return errors.New("run event requires run id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

type runIDKey struct{}

// WithRunID scopes ctx to a run so every event emitted under it carries the id.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id attached to ctx, if any.
func RunIDFrom(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
