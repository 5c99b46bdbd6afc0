// Package scheduler runs the periodic source checks and queue batches and
// serves operator-triggered runs of the same work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/madara-crawler/internal/clock/system"
	"github.com/JakeFAU/madara-crawler/internal/crawler"
	runid "github.com/JakeFAU/madara-crawler/internal/id/uuid"
	"github.com/JakeFAU/madara-crawler/internal/metrics"
	"github.com/JakeFAU/madara-crawler/internal/progress"
	"github.com/JakeFAU/madara-crawler/internal/queue"
)

// Run kinds.
const (
	KindCheckSources = "check_sources"
	KindProcessQueue = "process_queue"
)

var (
	// ErrUnknownKind is returned by RunNow for anything but the two run kinds.
	ErrUnknownKind = errors.New("unknown run kind")
	// ErrAlreadyRunning is returned by RunNow while a run of the same kind is active.
	ErrAlreadyRunning = errors.New("run already in progress")
	// ErrNotBound is returned by RunNow before Bind or Run supplied a lifetime context.
	ErrNotBound = errors.New("scheduler not started")
)

// Checker is the slice of the collection crawler the source check needs.
type Checker interface {
	CheckNewCollections(ctx context.Context, src crawler.Source, max int) (int, error)
	CheckNewUnits(ctx context.Context, src crawler.Source, coll crawler.Collection, maxNew int) (crawler.UnitReport, error)
}

// Queue is the slice of the work queue a batch run needs. RequeueFailed must
// keep attempt counters so max_attempts still ends a hopeless item.
type Queue interface {
	RequeueFailed(ctx context.Context) (int64, error)
	Process(ctx context.Context, n int, exec queue.Executor) (queue.BatchReport, error)
}

// RunObserver is told when runs start and finish. progress.Hub satisfies it.
type RunObserver interface {
	RunStarted(ctx context.Context, kind string)
	RunFinished(ctx context.Context, kind string, dur time.Duration, err error)
}

// Deps wires the scheduler.
type Deps struct {
	Catalog  crawler.Catalog
	Checker  Checker
	Queue    Queue
	Executor queue.Executor
	Settings crawler.SettingsSource
	Runs     RunObserver
	Observer crawler.Observer
	Clock    crawler.Clock
	Logger   *zap.Logger
	// Shuffle reorders collections before the unit check; defaults to a random permutation.
	Shuffle func([]crawler.Collection)
}

// CheckReport summarizes one source check run.
type CheckReport struct {
	Sources        int `json:"sources"`
	Failed         int `json:"failed"`
	NewCollections int `json:"new_collections"`
	Checked        int `json:"collections_checked"`
	WithNewUnits   int `json:"collections_with_new_units"`
	NewUnits       int `json:"new_units"`
}

// Scheduler owns the two periodic loops.
type Scheduler struct {
	d       Deps
	running map[string]*atomic.Bool

	mu   sync.Mutex
	base context.Context
	wg   sync.WaitGroup
}

// New builds a Scheduler.
func New(d Deps) *Scheduler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Observer == nil {
		d.Observer = crawler.NopObserver{}
	}
	if d.Settings == nil {
		d.Settings = crawler.StaticSettings(crawler.DefaultSettings())
	}
	if d.Clock == nil {
		d.Clock = system.New()
	}
	if d.Shuffle == nil {
		d.Shuffle = func(c []crawler.Collection) {
			rand.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
		}
	}
	return &Scheduler{
		d: d,
		running: map[string]*atomic.Bool{
			KindCheckSources: {},
			KindProcessQueue: {},
		},
	}
}

// CheckSources looks for new collections and new units on every active source.
// Each source is checked in its own error boundary.
func (s *Scheduler) CheckSources(ctx context.Context) (CheckReport, error) {
	var report CheckReport
	settings, err := s.d.Settings.Current(ctx)
	if err != nil {
		return report, fmt.Errorf("load settings: %w", err)
	}
	active := true
	sources, err := s.d.Catalog.ListSources(ctx, crawler.SourceFilter{Active: &active})
	if err != nil {
		return report, fmt.Errorf("list active sources: %w", err)
	}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Sources++
		if err := s.checkSource(ctx, settings, src, &report); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			s.d.Observer.Log(ctx, crawler.LevelError, "source check failed", map[string]any{
				"source_id": src.ID, "error": err.Error(),
			})
			s.d.Observer.RecordError(ctx, crawler.ErrorRecord{
				ItemKind: "source",
				ItemID:   fmt.Sprint(src.ID),
				Message:  "source check failed: " + err.Error(),
			})
		}
	}
	return report, nil
}

func (s *Scheduler) checkSource(ctx context.Context, settings crawler.Settings, src crawler.Source, report *CheckReport) error {
	if settings.CheckNewCollections {
		n, err := s.d.Checker.CheckNewCollections(ctx, src, settings.MaxNewCollections)
		if err != nil {
			return fmt.Errorf("check new collections: %w", err)
		}
		report.NewCollections += n
	}
	if settings.CheckNewUnits {
		colls, err := s.d.Catalog.ListCollections(ctx, crawler.CollectionFilter{SourceID: src.ID})
		if err != nil {
			return fmt.Errorf("list collections: %w", err)
		}
		s.d.Shuffle(colls)
		withNew := 0
		for _, coll := range colls {
			if settings.MaxCollectionsChecked > 0 && withNew >= settings.MaxCollectionsChecked {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Checked++
			ur, err := s.d.Checker.CheckNewUnits(ctx, src, coll, settings.MaxNewUnits)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.d.Observer.Log(ctx, crawler.LevelWarning, "unit check failed", map[string]any{
					"source_id": src.ID, "collection": coll.NativeID, "error": err.Error(),
				})
				continue
			}
			if ur.New > 0 {
				withNew++
				report.NewUnits += ur.New
			}
		}
		report.WithNewUnits += withNew
	}
	if err := s.d.Catalog.TouchSource(ctx, src.ID, s.d.Clock.Now()); err != nil {
		return fmt.Errorf("touch source: %w", err)
	}
	return nil
}

// ProcessQueue optionally re-arms failed items that still have attempts left
// and then runs one batch.
func (s *Scheduler) ProcessQueue(ctx context.Context) (queue.BatchReport, error) {
	settings, err := s.d.Settings.Current(ctx)
	if err != nil {
		return queue.BatchReport{}, fmt.Errorf("load settings: %w", err)
	}
	if settings.RetryFailedEachTick {
		n, err := s.d.Queue.RequeueFailed(ctx)
		if err != nil {
			return queue.BatchReport{}, fmt.Errorf("requeue failed: %w", err)
		}
		if n > 0 {
			s.d.Logger.Debug("failed items re-armed", zap.Int64("count", n))
		}
	}
	return s.d.Queue.Process(ctx, settings.BatchSize, s.d.Executor)
}

// Bind sets the lifetime context for operator-triggered runs.
func (s *Scheduler) Bind(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
}

// RunNow starts a run of kind in the background and returns its run id. The
// run is bounded by the bound lifetime context, not by ctx.
func (s *Scheduler) RunNow(_ context.Context, kind string) (uuid.UUID, error) {
	flag, ok := s.running[kind]
	if !ok {
		return uuid.Nil, crawler.Invalid("kind", fmt.Sprintf("%s: %q", ErrUnknownKind, kind))
	}
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		return uuid.Nil, ErrNotBound
	}
	if err := base.Err(); err != nil {
		return uuid.Nil, err
	}
	if !flag.CompareAndSwap(false, true) {
		return uuid.Nil, ErrAlreadyRunning
	}
	id := runid.NewRunID()
	s.d.Logger.Info("run triggered", zap.String("kind", kind), zap.String("run_id", id.String()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer flag.Store(false)
		s.execute(progress.WithRunID(base, id), kind)
	}()
	return id, nil
}

// Wait blocks until background runs started by RunNow have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Run drives both loops until ctx is done. Intervals are re-read after every
// tick, and a tick is skipped while the previous run of that kind is active.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Bind(ctx)
	settings, err := s.d.Settings.Current(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	checkTimer := time.NewTimer(interval(settings.CheckInterval, crawler.DefaultSettings().CheckInterval))
	queueTimer := time.NewTimer(interval(settings.QueueInterval, crawler.DefaultSettings().QueueInterval))
	defer checkTimer.Stop()
	defer queueTimer.Stop()

	s.d.Logger.Info("scheduler started",
		zap.Duration("check_interval", settings.CheckInterval),
		zap.Duration("queue_interval", settings.QueueInterval))
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.d.Logger.Info("scheduler stopped")
			return nil
		case <-checkTimer.C:
			s.tick(ctx, KindCheckSources)
			checkTimer.Reset(s.nextInterval(ctx, KindCheckSources))
		case <-queueTimer.C:
			s.tick(ctx, KindProcessQueue)
			queueTimer.Reset(s.nextInterval(ctx, KindProcessQueue))
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, kind string) {
	flag := s.running[kind]
	if !flag.CompareAndSwap(false, true) {
		s.d.Logger.Debug("tick skipped, run still active", zap.String("kind", kind))
		metrics.ObserveSchedulerRun(kind, "skipped", 0)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer flag.Store(false)
		s.execute(progress.WithRunID(ctx, runid.NewRunID()), kind)
	}()
}

func (s *Scheduler) nextInterval(ctx context.Context, kind string) time.Duration {
	defaults := crawler.DefaultSettings()
	settings, err := s.d.Settings.Current(ctx)
	if err != nil {
		s.d.Logger.Warn("settings reload failed, keeping defaults", zap.Error(err))
		settings = defaults
	}
	if kind == KindCheckSources {
		return interval(settings.CheckInterval, defaults.CheckInterval)
	}
	return interval(settings.QueueInterval, defaults.QueueInterval)
}

func interval(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// execute runs one kind with run bookkeeping. Errors end up in the logs, never panics.
func (s *Scheduler) execute(ctx context.Context, kind string) {
	start := time.Now()
	if s.d.Runs != nil {
		s.d.Runs.RunStarted(ctx, kind)
	}
	log := s.d.Logger.With(zap.String("kind", kind))
	if id, ok := progress.RunIDFrom(ctx); ok {
		log = log.With(zap.String("run_id", id.String()))
	}

	var err error
	switch kind {
	case KindCheckSources:
		var report CheckReport
		report, err = s.CheckSources(ctx)
		log.Info("source check finished",
			zap.Int("sources", report.Sources),
			zap.Int("failed", report.Failed),
			zap.Int("new_collections", report.NewCollections),
			zap.Int("new_units", report.NewUnits))
	case KindProcessQueue:
		var report queue.BatchReport
		report, err = s.ProcessQueue(ctx)
		log.Info("queue batch finished",
			zap.Int("claimed", report.Claimed),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
			zap.Int("released", report.Released))
	}

	dur := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		if ctx.Err() != nil {
			status = "canceled"
		}
		log.Error("run failed", zap.Error(err))
	}
	metrics.ObserveSchedulerRun(kind, status, dur)
	if s.d.Runs != nil {
		s.d.Runs.RunFinished(ctx, kind, dur, err)
	}
}
