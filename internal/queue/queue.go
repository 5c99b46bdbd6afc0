// Package queue implements the durable, priority-ordered work ledger on top of store.Store.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/metrics"
	"github.com/JakeFAU/madara-crawler/internal/store"
)

// AttemptMode selects when the attempt counter moves.
type AttemptMode string

const (
	// AttemptOnDispatch counts an attempt when the item is claimed, so a crash mid-run still uses one up.
	AttemptOnDispatch AttemptMode = "dispatch"
	// AttemptOnFailure counts an attempt only when the executor reports failure.
	AttemptOnFailure AttemptMode = "failure"
)

// ParseAttemptMode accepts "dispatch" or "failure"; empty means dispatch.
func ParseAttemptMode(raw string) (AttemptMode, error) {
	switch AttemptMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AttemptOnDispatch:
		return AttemptOnDispatch, nil
	case AttemptOnFailure:
		return AttemptOnFailure, nil
	}
	return "", crawler.Invalid("attempt_mode", fmt.Sprintf("unknown mode %q", raw))
}

// Executor runs one claimed item.
type Executor interface {
	Execute(ctx context.Context, item crawler.QueueItem) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, item crawler.QueueItem) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, item crawler.QueueItem) error {
	return f(ctx, item)
}

// Filter narrows List, Count and Clear. Zero fields match everything.
type Filter struct {
	Status   crawler.QueueStatus
	Kind     crawler.ItemKind
	SourceID int64
}

func (f Filter) match() store.Match {
	m := store.Match{}
	if f.Status != "" {
		m["status"] = string(f.Status)
	}
	if f.Kind != "" {
		m["kind"] = string(f.Kind)
	}
	if f.SourceID != 0 {
		m["source_id"] = f.SourceID
	}
	return m
}

// Stats counts items by status and kind.
type Stats struct {
	Total    int64                                              `json:"total"`
	ByStatus map[crawler.QueueStatus]int64                      `json:"by_status"`
	ByKind   map[crawler.ItemKind]map[crawler.QueueStatus]int64 `json:"by_kind"`
}

// ItemResult records the outcome of one dispatched item.
type ItemResult struct {
	ID       int64            `json:"id"`
	Kind     crawler.ItemKind `json:"kind"`
	NativeID string           `json:"native_id"`
	Error    string           `json:"error,omitempty"`
}

// BatchReport summarizes a Process call.
type BatchReport struct {
	Claimed   int          `json:"claimed"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Released  int          `json:"released"`
	Results   []ItemResult `json:"results"`
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithAttemptMode selects when attempts are counted.
func WithAttemptMode(m AttemptMode) Option {
	return func(q *Queue) {
		if m != "" {
			q.mode = m
		}
	}
}

// WithBackoff makes drains skip items whose last attempt is too recent.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) {
		q.backoff = b
	}
}

// WithObserver routes queue lifecycle logs.
func WithObserver(o crawler.Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.observer = o
		}
	}
}

// Queue is the work ledger. It keeps no in-memory state between calls.
type Queue struct {
	store    store.Store
	settings crawler.SettingsSource
	clock    crawler.Clock
	mode     AttemptMode
	backoff  Backoff
	observer crawler.Observer
}

var _ crawler.Enqueuer = (*Queue)(nil)

// New builds a Queue. settings supplies max_attempts for new rows.
func New(s store.Store, settings crawler.SettingsSource, opts ...Option) *Queue {
	if settings == nil {
		settings = crawler.StaticSettings(crawler.DefaultSettings())
	}
	q := &Queue{
		store:    s,
		settings: settings,
		clock:    systemClock{},
		mode:     AttemptOnDispatch,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Mode reports the configured attempt mode.
func (q *Queue) Mode() AttemptMode {
	return q.mode
}

func (q *Queue) now() time.Time {
	return q.clock.Now().UTC()
}

// Enqueue adds pending work. A pending row with the same kind, native id and source
// absorbs the call: its priority becomes the larger of the two and no row is added.
func (q *Queue) Enqueue(ctx context.Context, kind crawler.ItemKind, nativeID string, sourceID int64, priority int) (int64, error) {
	if !kind.Valid() {
		return 0, crawler.Invalid("kind", fmt.Sprintf("unknown kind %q", kind))
	}
	nativeID = strings.TrimSpace(nativeID)
	if nativeID == "" {
		return 0, crawler.Invalid("native_id", "must not be empty")
	}
	if sourceID <= 0 {
		return 0, crawler.Invalid("source_id", "must be positive")
	}
	key := store.Match{
		"kind":      string(kind),
		"native_id": nativeID,
		"source_id": sourceID,
		"status":    string(crawler.StatusPending),
	}

	for attempt := 0; attempt < 3; attempt++ {
		row, err := q.store.GetOne(ctx, store.Queue, key)
		switch {
		case err == nil:
			return q.raisePriority(ctx, row, priority)
		case !errors.Is(err, store.ErrNotFound):
			return 0, storageErr("enqueue lookup", err)
		}

		settings, err := q.settings.Current(ctx)
		if err != nil {
			return 0, fmt.Errorf("load settings: %w", err)
		}
		id, err := q.store.Insert(ctx, store.Queue, store.Fields{
			"kind":         string(kind),
			"native_id":    nativeID,
			"source_id":    sourceID,
			"priority":     priority,
			"status":       string(crawler.StatusPending),
			"attempts":     0,
			"max_attempts": settings.MaxAttempts,
			"created_at":   q.now(),
		})
		if errors.Is(err, store.ErrConflict) {
			// A concurrent enqueue inserted the same pending key; fold into it.
			continue
		}
		if err != nil {
			return 0, storageErr("enqueue insert", err)
		}
		return id, nil
	}
	return 0, storageErr("enqueue", store.ErrConflict)
}

func (q *Queue) raisePriority(ctx context.Context, row store.Row, priority int) (int64, error) {
	id := row.Int64("id")
	if priority <= row.Int("priority") {
		return id, nil
	}
	if _, err := q.store.Update(ctx, store.Queue, store.Fields{
		"priority":   priority,
		"updated_at": q.now(),
	}, store.Match{"id": id, "status": string(crawler.StatusPending)}); err != nil {
		return 0, storageErr("raise priority", err)
	}
	return id, nil
}

var drainOrder = []store.Order{
	{Column: "priority", Desc: true},
	{Column: "created_at"},
	{Column: "id"},
}

// DrainBatch claims up to n eligible pending items, flipping each to processing.
// Items come back ordered by priority descending, then oldest first. An item
// claimed here cannot be returned by a concurrent DrainBatch.
func (q *Queue) DrainBatch(ctx context.Context, n int) ([]crawler.QueueItem, error) {
	if n <= 0 {
		return []crawler.QueueItem{}, nil
	}
	claimed := make([]crawler.QueueItem, 0, n)
	seen := make(map[int64]struct{})

	for len(claimed) < n {
		if err := ctx.Err(); err != nil {
			return claimed, err
		}
		limit := n - len(claimed) + len(seen)
		rows, err := q.store.GetMany(ctx, store.Queue, store.Query{
			Match: store.Match{"status": string(crawler.StatusPending)},
			Order: drainOrder,
			Limit: limit,
		})
		if err != nil {
			return claimed, storageErr("drain select", err)
		}
		fresh := 0
		for _, row := range rows {
			id := row.Int64("id")
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh++

			item := itemFromRow(row)
			if !q.eligible(item) {
				continue
			}
			ok, err := q.claim(ctx, &item)
			if err != nil {
				return claimed, err
			}
			if !ok {
				continue
			}
			claimed = append(claimed, item)
			if len(claimed) == n {
				break
			}
		}
		if fresh == 0 || len(rows) < limit {
			break
		}
	}
	return claimed, nil
}

func (q *Queue) eligible(item crawler.QueueItem) bool {
	if item.Exhausted() {
		return false
	}
	if item.LastAttempt == nil || item.Attempts == 0 {
		return true
	}
	wait := q.backoff.Delay(item.Attempts)
	return wait <= 0 || !q.now().Before(item.LastAttempt.Add(wait))
}

// claim is a compare-and-swap on (status, attempts); it reports whether this caller won.
func (q *Queue) claim(ctx context.Context, item *crawler.QueueItem) (bool, error) {
	now := q.now()
	fields := store.Fields{
		"status":     string(crawler.StatusProcessing),
		"updated_at": now,
	}
	if q.mode == AttemptOnDispatch {
		fields["attempts"] = item.Attempts + 1
		fields["last_attempt"] = now
	}
	n, err := q.store.Update(ctx, store.Queue, fields, store.Match{
		"id":       item.ID,
		"status":   string(crawler.StatusPending),
		"attempts": item.Attempts,
	})
	if err != nil {
		return false, storageErr("drain claim", err)
	}
	if n != 1 {
		metrics.ObserveClaimConflict()
		return false, nil
	}
	item.Status = crawler.StatusProcessing
	item.UpdatedAt = &now
	if q.mode == AttemptOnDispatch {
		item.Attempts++
		item.LastAttempt = &now
	}
	return true, nil
}

// MarkProcessing claims a single pending item by id.
func (q *Queue) MarkProcessing(ctx context.Context, id int64) (crawler.QueueItem, error) {
	item, err := q.Get(ctx, id)
	if err != nil {
		return crawler.QueueItem{}, err
	}
	if item.Status != crawler.StatusPending {
		return crawler.QueueItem{}, crawler.Invalid("status", fmt.Sprintf("item %d is %s, not pending", id, item.Status))
	}
	ok, err := q.claim(ctx, &item)
	if err != nil {
		return crawler.QueueItem{}, err
	}
	if !ok {
		return crawler.QueueItem{}, crawler.Invalid("status", fmt.Sprintf("item %d was claimed concurrently", id))
	}
	return item, nil
}

// MarkCompleted finishes an item and clears its error.
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	n, err := q.store.Update(ctx, store.Queue, store.Fields{
		"status":        string(crawler.StatusCompleted),
		"error_message": nil,
		"updated_at":    q.now(),
	}, store.Match{"id": id})
	if err != nil {
		return storageErr("mark completed", err)
	}
	if n == 0 {
		return fmt.Errorf("queue item %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// MarkFailed records the failure message. In failure mode it also counts the attempt.
func (q *Queue) MarkFailed(ctx context.Context, id int64, message string) error {
	return q.fail(ctx, id, message, false)
}

func (q *Queue) fail(ctx context.Context, id int64, message string, terminal bool) error {
	now := q.now()
	fields := store.Fields{
		"status":        string(crawler.StatusFailed),
		"error_message": truncate(message, 2000),
		"updated_at":    now,
	}
	if q.mode == AttemptOnFailure || terminal {
		item, err := q.Get(ctx, id)
		if err != nil {
			return err
		}
		if q.mode == AttemptOnFailure {
			fields["attempts"] = item.Attempts + 1
			fields["last_attempt"] = now
		}
		if terminal && item.MaxAttempts > 0 {
			fields["attempts"] = item.MaxAttempts
		}
	}
	n, err := q.store.Update(ctx, store.Queue, fields, store.Match{"id": id})
	if err != nil {
		return storageErr("mark failed", err)
	}
	if n == 0 {
		return fmt.Errorf("queue item %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// RetryFailed moves every failed item back to pending with a fresh attempt budget.
// Items whose key already has a pending row stay failed.
func (q *Queue) RetryFailed(ctx context.Context) (int64, error) {
	return q.requeueFailed(ctx, true)
}

// RequeueFailed moves failed items that still have attempts left back to pending,
// leaving their attempt counters alone. The scheduler uses it for automatic retries.
func (q *Queue) RequeueFailed(ctx context.Context) (int64, error) {
	return q.requeueFailed(ctx, false)
}

func (q *Queue) requeueFailed(ctx context.Context, resetAttempts bool) (int64, error) {
	rows, err := q.store.GetMany(ctx, store.Queue, store.Query{
		Match: store.Match{"status": string(crawler.StatusFailed)},
		Order: []store.Order{{Column: "id"}},
	})
	if err != nil {
		return 0, storageErr("retry failed select", err)
	}
	var count int64
	for _, row := range rows {
		item := itemFromRow(row)
		fields := store.Fields{
			"status":        string(crawler.StatusPending),
			"error_message": nil,
			"updated_at":    q.now(),
		}
		if resetAttempts {
			fields["attempts"] = 0
			fields["last_attempt"] = nil
		} else if item.Exhausted() {
			continue
		}
		n, err := q.store.Update(ctx, store.Queue, fields, store.Match{
			"id":     item.ID,
			"status": string(crawler.StatusFailed),
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return count, storageErr("retry failed", err)
		}
		count += n
	}
	return count, nil
}

// ResetProcessing returns items stuck in processing to pending. Attempts are kept.
func (q *Queue) ResetProcessing(ctx context.Context) (int64, error) {
	rows, err := q.store.GetMany(ctx, store.Queue, store.Query{
		Match: store.Match{"status": string(crawler.StatusProcessing)},
		Order: []store.Order{{Column: "id"}},
	})
	if err != nil {
		return 0, storageErr("reset processing select", err)
	}
	var count int64
	for _, row := range rows {
		n, err := q.store.Update(ctx, store.Queue, store.Fields{
			"status":     string(crawler.StatusPending),
			"updated_at": q.now(),
		}, store.Match{"id": row.Int64("id"), "status": string(crawler.StatusProcessing)})
		if errors.Is(err, store.ErrConflict) {
			// Another pending row owns the key; the stuck copy is redundant.
			n, err = q.store.Delete(ctx, store.Queue, store.Match{"id": row.Int64("id"), "status": string(crawler.StatusProcessing)})
		}
		if err != nil {
			return count, storageErr("reset processing", err)
		}
		count += n
	}
	return count, nil
}

// Stats counts items by status and by kind.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByStatus: make(map[crawler.QueueStatus]int64),
		ByKind:   make(map[crawler.ItemKind]map[crawler.QueueStatus]int64),
	}
	statuses := []crawler.QueueStatus{crawler.StatusPending, crawler.StatusProcessing, crawler.StatusCompleted, crawler.StatusFailed}
	for _, kind := range []crawler.ItemKind{crawler.KindCollection, crawler.KindUnit} {
		stats.ByKind[kind] = make(map[crawler.QueueStatus]int64)
		for _, status := range statuses {
			n, err := q.store.Count(ctx, store.Queue, store.Match{"kind": string(kind), "status": string(status)})
			if err != nil {
				return Stats{}, storageErr("stats", err)
			}
			stats.ByKind[kind][status] = n
			stats.ByStatus[status] += n
			stats.Total += n
		}
	}
	return stats, nil
}

// Clear deletes items matching filter; an empty filter empties the queue.
func (q *Queue) Clear(ctx context.Context, filter Filter) (int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return 0, crawler.Invalid("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return 0, crawler.Invalid("kind", fmt.Sprintf("unknown kind %q", filter.Kind))
	}
	n, err := q.store.Delete(ctx, store.Queue, filter.match())
	if err != nil {
		return 0, storageErr("clear", err)
	}
	return n, nil
}

// SetPriority overwrites an item's priority.
func (q *Queue) SetPriority(ctx context.Context, id int64, priority int) error {
	n, err := q.store.Update(ctx, store.Queue, store.Fields{"priority": priority, "updated_at": q.now()}, store.Match{"id": id})
	if err != nil {
		return storageErr("set priority", err)
	}
	if n == 0 {
		return fmt.Errorf("queue item %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// Get loads one item.
func (q *Queue) Get(ctx context.Context, id int64) (crawler.QueueItem, error) {
	row, err := q.store.GetOne(ctx, store.Queue, store.Match{"id": id})
	if errors.Is(err, store.ErrNotFound) {
		return crawler.QueueItem{}, fmt.Errorf("queue item %d: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.QueueItem{}, storageErr("get", err)
	}
	return itemFromRow(row), nil
}

// List pages through items in drain order.
func (q *Queue) List(ctx context.Context, filter Filter, limit, offset int) ([]crawler.QueueItem, error) {
	rows, err := q.store.GetMany(ctx, store.Queue, store.Query{
		Match:  filter.match(),
		Order:  drainOrder,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, storageErr("list", err)
	}
	out := make([]crawler.QueueItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, itemFromRow(row))
	}
	return out, nil
}

// Count counts items matching filter.
func (q *Queue) Count(ctx context.Context, filter Filter) (int64, error) {
	n, err := q.store.Count(ctx, store.Queue, filter.match())
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// Delete removes one item.
func (q *Queue) Delete(ctx context.Context, id int64) error {
	n, err := q.store.Delete(ctx, store.Queue, store.Match{"id": id})
	if err != nil {
		return storageErr("delete", err)
	}
	if n == 0 {
		return fmt.Errorf("queue item %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// Process drains up to n items and runs each through exec. A failing item is
// marked failed and the batch moves on. Cancellation releases unstarted items.
func (q *Queue) Process(ctx context.Context, n int, exec Executor) (BatchReport, error) {
	items, err := q.DrainBatch(ctx, n)
	report := BatchReport{Claimed: len(items), Results: make([]ItemResult, 0, len(items))}
	if err != nil && len(items) == 0 {
		return report, err
	}

	for i, item := range items {
		if ctx.Err() != nil {
			report.Released += q.release(items[i:])
			break
		}
		res := ItemResult{ID: item.ID, Kind: item.Kind, NativeID: item.NativeID}
		q.observer.Log(ctx, crawler.LevelInfo, "processing queue item", map[string]any{
			"id": item.ID, "kind": string(item.Kind), "native_id": item.NativeID, "attempts": item.Attempts,
		})

		execErr := q.execute(ctx, exec, item)
		switch {
		case execErr == nil:
			if err := q.MarkCompleted(ctx, item.ID); err != nil {
				return report, err
			}
			report.Completed++
			metrics.ObserveQueueItem(string(item.Kind), "completed")
		case ctx.Err() != nil && errors.Is(execErr, ctx.Err()):
			report.Released += q.release(items[i:])
			res.Error = execErr.Error()
			report.Results = append(report.Results, res)
			return report, ctx.Err()
		default:
			res.Error = execErr.Error()
			if err := q.fail(context.WithoutCancel(ctx), item.ID, execErr.Error(), crawler.IsValidation(execErr)); err != nil {
				return report, err
			}
			report.Failed++
			metrics.ObserveQueueItem(string(item.Kind), "failed")
			q.observer.Log(ctx, crawler.LevelError, "queue item failed", map[string]any{
				"id": item.ID, "kind": string(item.Kind), "native_id": item.NativeID, "error": execErr.Error(),
			})
			q.observer.RecordError(ctx, crawler.ErrorRecord{
				ItemKind: string(item.Kind),
				ItemID:   item.NativeID,
				Message:  execErr.Error(),
			})
		}
		report.Results = append(report.Results, res)
	}
	return report, err
}

// execute shields the batch from executor panics.
func (q *Queue) execute(ctx context.Context, exec Executor, item crawler.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, item)
}

// release puts claimed but unfinished items back to pending.
func (q *Queue) release(items []crawler.QueueItem) int {
	ctx := context.Background()
	released := 0
	for _, item := range items {
		n, err := q.store.Update(ctx, store.Queue, store.Fields{
			"status":     string(crawler.StatusPending),
			"updated_at": q.now(),
		}, store.Match{"id": item.ID, "status": string(crawler.StatusProcessing)})
		if err == nil && n == 1 {
			released++
			metrics.ObserveQueueItem(string(item.Kind), "released")
		}
	}
	return released
}

func itemFromRow(row store.Row) crawler.QueueItem {
	return crawler.QueueItem{
		ID:           row.Int64("id"),
		Kind:         crawler.ItemKind(row.String("kind")),
		NativeID:     row.String("native_id"),
		SourceID:     row.Int64("source_id"),
		Priority:     row.Int("priority"),
		Status:       crawler.QueueStatus(row.String("status")),
		Attempts:     row.Int("attempts"),
		MaxAttempts:  row.Int("max_attempts"),
		LastAttempt:  row.TimePtr("last_attempt"),
		ErrorMessage: row.String("error_message"),
		CreatedAt:    row.Time("created_at"),
		UpdatedAt:    row.TimePtr("updated_at"),
	}
}

func storageErr(op string, err error) error {
	var se *crawler.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &crawler.StorageError{Op: "queue " + op, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type nopObserver struct{}

func (nopObserver) Log(context.Context, crawler.LogLevel, string, map[string]any) {}
func (nopObserver) RecordError(context.Context, crawler.ErrorRecord)              {}
