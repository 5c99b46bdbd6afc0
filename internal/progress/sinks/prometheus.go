package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/madara-crawler/internal/progress"
)

// PrometheusSink counts observer events and tracks in-flight scheduler runs.
type PrometheusSink struct {
	logEvents    *prometheus.CounterVec
	errorRecords *prometheus.CounterVec
	runsStarted  *prometheus.CounterVec
	runsDone     *prometheus.CounterVec
	runsRunning  *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		logEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "madara_log_events_total",
			Help: "Observer log lines partitioned by level.",
		}, []string{"level"}),
		errorRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "madara_error_records_total",
			Help: "Per-item error records partitioned by item kind.",
		}, []string{"item_kind"}),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "madara_runs_started_total",
			Help: "Scheduler runs started partitioned by kind.",
		}, []string{"kind"}),
		runsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "madara_runs_completed_total",
			Help: "Scheduler runs completed partitioned by kind and result.",
		}, []string{"kind", "result"}),
		runsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "madara_runs_running",
			Help: "Scheduler runs currently in flight.",
		}, []string{"kind"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.logEvents,
		s.errorRecords,
		s.runsStarted,
		s.runsDone,
		s.runsRunning,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageLog:
			s.logEvents.WithLabelValues(string(evt.Level)).Inc()
		case progress.StageError:
			s.errorRecords.WithLabelValues(evt.ItemKind).Inc()
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(evt.RunKind).Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.WithLabelValues(evt.RunKind).Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsDone.WithLabelValues(evt.RunKind, result).Inc()
			if s.tracker.complete(evt.RunID) {
				s.runsRunning.WithLabelValues(evt.RunKind).Dec()
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
