package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent()
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent())
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{},
		events:  make(chan Event),
		logger:  zap.NewNop(),
		dropLog: &rate.Sometimes{Interval: time.Minute},
	}
	start := time.Now()
	hub.Emit(sampleEvent())
	hub.Emit(sampleEvent())
	require.Less(t, time.Since(start), 50*time.Millisecond)
	// The first drop is logged and resets the counter; the second is pending.
	require.Equal(t, int64(1), hub.dropped.Load())
}

// TestHubFlushesWhenRunEnds keeps finished runs from waiting out the batch timer.
func TestHubFlushesWhenRunEnds(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 100, MaxBatchWait: time.Hour}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	ctx := WithRunID(context.Background(), uuid.New())
	hub.RunStarted(ctx, "check_sources")
	hub.Log(ctx, crawler.LevelInfo, "source checked", nil)
	hub.RunFinished(ctx, "check_sources", time.Second, nil)

	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 3
	}, time.Second, 5*time.Millisecond)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent()
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent() Event {
	return Event{
		TS:      time.Now(),
		Stage:   StageLog,
		Level:   crawler.LevelInfo,
		Message: "collection scraped",
	}
}

// TestHubObserverMethods checks the crawler.Observer surface produces valid events scoped to the run.
func TestHubObserverMethods(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	runID := uuid.New()
	ctx := WithRunID(context.Background(), runID)
	fields := map[string]any{"source_id": int64(1)}

	hub.Log(ctx, crawler.LevelWarning, "listing page failed", fields)
	fields["source_id"] = int64(2)
	hub.RecordError(ctx, crawler.ErrorRecord{ItemKind: "unit", ItemID: "alpha/chapter-1", Message: "boom"})
	hub.RunStarted(ctx, "process_queue")
	hub.RunFinished(ctx, "process_queue", time.Second, errors.New("store down"))
	hub.Log(ctx, "loud", "ignored", nil)
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	events := batches[0]
	require.Len(t, events, 4)
	for _, evt := range events {
		require.Equal(t, runID, evt.RunUUID())
	}
	require.Equal(t, StageLog, events[0].Stage)
	require.Equal(t, int64(1), events[0].Fields["source_id"])
	require.Equal(t, StageError, events[1].Stage)
	require.Equal(t, "alpha/chapter-1", events[1].ItemID)
	require.Equal(t, StageRunStart, events[2].Stage)
	require.Equal(t, StageRunError, events[3].Stage)
	require.Equal(t, "store down", events[3].Message)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	id := UUIDToBytes(uuid.New())
	require.NoError(t, Event{TS: now, Stage: StageError, ItemKind: "collection", Message: "x"}.Validate())
	require.NoError(t, Event{TS: now, Stage: StageRunDone, RunKind: "check_sources", RunID: id}.Validate())
	require.Error(t, Event{Stage: StageLog, Level: crawler.LevelInfo, Message: "x"}.Validate())
	require.Error(t, Event{TS: now, Stage: StageLog, Level: crawler.LevelInfo}.Validate())
	require.Error(t, Event{TS: now, Stage: StageError, Message: "x"}.Validate())
	require.Error(t, Event{TS: now, Stage: StageRunStart, RunKind: "check_sources"}.Validate())
	require.Error(t, Event{TS: now, Stage: "FETCH"}.Validate())
}

func TestRunIDFrom(t *testing.T) {
	t.Parallel()

	_, ok := RunIDFrom(context.Background())
	require.False(t, ok)
	id := uuid.New()
	got, ok := RunIDFrom(WithRunID(context.Background(), id))
	require.True(t, ok)
	require.Equal(t, id, got)
}
