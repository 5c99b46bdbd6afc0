package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and the running gauge follow the events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, RunKind: "process_queue"},
		{TS: now, Stage: progress.StageLog, Level: crawler.LevelWarning, Message: "asset download failed"},
		{TS: now, Stage: progress.StageLog, Level: crawler.LevelWarning, Message: "asset download failed"},
		{TS: now, Stage: progress.StageError, ItemKind: "unit", ItemID: "alpha/chapter-1", Message: "x"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues("process_queue")))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunDone, RunKind: "process_queue", Dur: time.Second},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, RunKind: "process_queue", Dur: time.Second},
	}))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.logEvents.WithLabelValues("warning")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.errorRecords.WithLabelValues("unit")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("process_queue")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsDone.WithLabelValues("process_queue", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues("process_queue")))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
