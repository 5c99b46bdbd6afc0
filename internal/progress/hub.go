package progress

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below; BaseContext defaults to context.Background().
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub is the crawler.Observer behind every component. Events are buffered and
// handed to the sinks in batches, flushed by size, by age, or when a run ends.
// Emitting never blocks: a full buffer drops the event.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog *rate.Sometimes
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   slices.DeleteFunc(slices.Clone(sinks), func(s Sink) bool { return s == nil }),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: &rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt. Invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)), zap.String("stage", string(evt.Stage)))
		})
	}
}

var _ crawler.Observer = (*Hub)(nil)

// Log emits a leveled log event scoped to the run carried by ctx.
func (h *Hub) Log(ctx context.Context, level crawler.LogLevel, message string, fields map[string]any) {
	h.Emit(Event{
		RunID:   runID(ctx),
		TS:      time.Now().UTC(),
		Stage:   StageLog,
		Level:   level,
		Message: message,
		Fields:  maps.Clone(fields),
	})
}

// RecordError emits a per-item error record.
func (h *Hub) RecordError(ctx context.Context, rec crawler.ErrorRecord) {
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	h.Emit(Event{
		RunID:    runID(ctx),
		TS:       ts,
		Stage:    StageError,
		ItemKind: rec.ItemKind,
		ItemID:   rec.ItemID,
		Message:  rec.Message,
		Trace:    rec.Trace,
	})
}

// RunStarted marks the start of a scheduler run; ctx must carry a run id.
func (h *Hub) RunStarted(ctx context.Context, kind string) {
	h.Emit(Event{RunID: runID(ctx), TS: time.Now().UTC(), Stage: StageRunStart, RunKind: kind})
}

// RunFinished marks the end of a scheduler run.
func (h *Hub) RunFinished(ctx context.Context, kind string, dur time.Duration, err error) {
	evt := Event{RunID: runID(ctx), TS: time.Now().UTC(), Stage: StageRunDone, RunKind: kind, Dur: dur}
	if err != nil {
		evt.Stage = StageRunError
		evt.Message = err.Error()
	}
	h.Emit(evt)
}

func runID(ctx context.Context) [16]byte {
	id, ok := RunIDFrom(ctx)
	if !ok {
		return [16]byte{}
	}
	return UUIDToBytes(id)
}

// Close flushes whatever is buffered, closes the sinks and waits for the
// batching goroutine, or for ctx. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	var deadline *time.Timer
	var flushC <-chan time.Time
	flushNow := func() {
		if deadline != nil {
			deadline.Stop()
			deadline, flushC = nil, nil
		}
		h.flush(batch)
		batch = batch[:0]
	}
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			switch {
			case len(batch) >= h.cfg.MaxBatchEvents, evt.Stage == StageRunDone, evt.Stage == StageRunError:
				// A finished run is visible in the journal right away.
				flushNow()
			case deadline == nil:
				deadline = time.NewTimer(h.cfg.MaxBatchWait)
				flushC = deadline.C
			}
		case <-flushC:
			deadline, flushC = nil, nil
			h.flush(batch)
			batch = batch[:0]
		case <-h.stopCh:
			for drained := false; !drained; {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
				default:
					drained = true
				}
			}
			flushNow()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	snapshot := slices.Clone(batch)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)), zap.Int("events", len(snapshot)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
