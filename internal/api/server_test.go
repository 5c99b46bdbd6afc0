package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/progress"
	"github.com/JakeFAU/madara-crawler/internal/queue"
	"github.com/JakeFAU/madara-crawler/internal/scheduler"
	"github.com/JakeFAU/madara-crawler/internal/settings"
	"github.com/JakeFAU/madara-crawler/internal/storage/memory"
	"github.com/JakeFAU/madara-crawler/internal/store"
)

type testEnv struct {
	server      *Server
	repo        *store.Repository
	queue       *queue.Queue
	sources     *fakeSources
	collections *fakeCollections
	units       *fakeUnits
	runner      *fakeRunner
	executed    chan crawler.QueueItem
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	repo := store.NewRepository(memory.NewStore(), nil)
	provider := settings.NewProvider(crawler.DefaultSettings(), repo)
	env := &testEnv{
		repo:        repo,
		queue:       queue.New(repo.Store(), provider),
		sources:     &fakeSources{items: map[int64]crawler.Source{1: {ID: 1, Name: "Example", URL: "https://example.test/", Active: true}}},
		collections: &fakeCollections{},
		units:       &fakeUnits{},
		runner:      &fakeRunner{},
		executed:    make(chan crawler.QueueItem, 10),
	}
	env.server = NewServer(Deps{
		Sources:     env.sources,
		Collections: env.collections,
		Units:       env.units,
		Catalog:     repo,
		Queue:       env.queue,
		Executor: queue.ExecutorFunc(func(_ context.Context, item crawler.QueueItem) error {
			env.executed <- item
			return nil
		}),
		Runner:   env.runner,
		Settings: provider,
		Journal:  repo,
	}, cfg, zap.NewNop())
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "").Code)

	failing := NewServer(Deps{Ready: func(context.Context) error { return errors.New("db down") }}, Config{}, nil)
	rec := httptest.NewRecorder()
	failing.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{AuthEnabled: true, APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/sources", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := newTestEnv(t, Config{}).do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSourceRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/sources", `{"name":"Other","url":"https://other.test"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["id"])

	rec = env.do(t, http.MethodPost, "/v1/sources", `{"name":"","url":"https://other.test"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name")

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/sources", `{bad`).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/sources/99", "").Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/sources/abc", "").Code)

	rec = env.do(t, http.MethodGet, "/v1/sources/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://example.test/")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/sources/1/deactivate", "").Code)
	assert.False(t, env.sources.get(1).Active)

	rec = env.do(t, http.MethodGet, "/v1/sources?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["sources"], 1)

	rec = env.do(t, http.MethodPut, "/v1/sources/1", `{"name":"Renamed","url":"https://example.test/"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", env.sources.get(1).Name)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/sources/2", "").Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/v1/sources/2", "").Code)
}

func TestScrapeTriggersRunInBackground(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/sources/1/scrape", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	runID := decodeBody(t, rec)["run_id"].(string)

	rec = env.do(t, http.MethodPost, "/v1/sources/1/collections/alpha/scrape", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sources/1/units/alpha/chapter-1/scrape", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/sources/9/scrape", "").Code)

	env.server.Wait()
	calls := env.collections.snapshot()
	require.Contains(t, calls, "all:1:"+runID)
	require.Contains(t, calls, "collection:1:alpha")
	require.Equal(t, []string{"alpha/chapter-1"}, env.units.snapshot())
}

func TestCollectionRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	coll, err := env.repo.UpsertCollection(ctx, crawler.Collection{SourceID: 1, NativeID: "alpha", Title: "Alpha", Slug: "alpha"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/collections?source_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["total"])

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/collections/%d", coll.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alpha")

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/collections/999", "").Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/v1/collections/%d", coll.ID), "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, env.collections.snapshot(), fmt.Sprintf("delete:%d", coll.ID))

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/units?downloaded=maybe", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/units?collection_id=1&downloaded=false", "").Code)
}

func TestQueueRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.queue.Enqueue(ctx, crawler.KindCollection, "alpha", 1, 5)
	require.NoError(t, err)
	unitID, err := env.queue.Enqueue(ctx, crawler.KindUnit, "alpha/chapter-1", 1, 5)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/queue?kind=unit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total"])

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/queue?status=stuck", "").Code)

	rec = env.do(t, http.MethodGet, "/v1/queue/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["total"])

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/v1/queue/%d/priority", unitID), `{"priority":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	item, err := env.queue.Get(ctx, unitID)
	require.NoError(t, err)
	assert.Equal(t, 9, item.Priority)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, fmt.Sprintf("/v1/queue/%d/priority", unitID), `{}`).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/v1/queue/999/priority", `{"priority":1}`).Code)

	rec = env.do(t, http.MethodPost, "/v1/queue/process?n=1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.server.Wait()
	executed := <-env.executed
	assert.Equal(t, unitID, executed.ID)

	rec = env.do(t, http.MethodDelete, "/v1/queue?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["deleted"])

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/queue/retry-failed", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/queue/reset-processing", "").Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/queue/process?n=0", "").Code)
}

func TestSchedulerTrigger(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/scheduler/run/process_queue", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["run_id"])

	env.runner.err = scheduler.ErrAlreadyRunning
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/v1/scheduler/run/process_queue", "").Code)

	env.runner.err = crawler.Invalid("kind", "unknown")
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/scheduler/run/reindex", "").Code)
}

func TestSettingsRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeBody(t, rec)["settings"].(map[string]any)
	assert.Equal(t, "2s", current["request_delay"])

	rec = env.do(t, http.MethodPut, "/v1/settings", `{"request_delay":"3s","batch_size":8,"merge_assets":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody(t, rec)["settings"].(map[string]any)
	assert.Equal(t, "3s", updated["request_delay"])
	assert.EqualValues(t, 8, updated["batch_size"])
	assert.Equal(t, false, updated["merge_assets"])

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/v1/settings", `{"colour":"blue"}`).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/v1/settings", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/v1/settings", `{"batch_size":[1]}`).Code)
}

func TestJournalRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	require.NoError(t, env.repo.InsertLog(ctx, crawler.LogEntry{Level: crawler.LevelWarning, Message: "listing page failed"}))
	require.NoError(t, env.repo.InsertLog(ctx, crawler.LogEntry{Level: crawler.LevelInfo, Message: "walk started"}))
	require.NoError(t, env.repo.InsertError(ctx, crawler.ErrorRecord{ItemKind: "unit", ItemID: "alpha/chapter-1", Message: "boom"}))

	rec := env.do(t, http.MethodGet, "/v1/logs?level=warning", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["logs"], 1)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/logs?level=loud", "").Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/logs?limit=-1", "").Code)

	rec = env.do(t, http.MethodGet, "/v1/errors?item_kind=unit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["errors"], 1)

	rec = env.do(t, http.MethodDelete, "/v1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["deleted"])

	rec = env.do(t, http.MethodDelete, "/v1/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["deleted"])
}

func TestMissingServicesAnswerUnavailable(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{}, Config{}, nil)
	for _, target := range []string{"/v1/sources", "/v1/queue", "/v1/settings", "/v1/logs", "/v1/units", "/v1/collections"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeSources struct {
	mu    sync.Mutex
	items map[int64]crawler.Source
}

func (f *fakeSources) get(id int64) crawler.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

func (f *fakeSources) AddSource(_ context.Context, name, rawURL string) (int64, error) {
	if name == "" {
		return 0, crawler.Invalid("name", "is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := int64(len(f.items) + 1)
	f.items[id] = crawler.Source{ID: id, Name: name, URL: rawURL, Active: true}
	return id, nil
}

func (f *fakeSources) UpdateSource(_ context.Context, id int64, name, rawURL string) (crawler.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.items[id]
	if !ok {
		return crawler.Source{}, fmt.Errorf("source %d: %w", id, crawler.ErrNotFound)
	}
	src.Name, src.URL = name, rawURL
	f.items[id] = src
	return src, nil
}

func (f *fakeSources) DeleteSource(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return fmt.Errorf("source %d: %w", id, crawler.ErrNotFound)
	}
	delete(f.items, id)
	return nil
}

func (f *fakeSources) SetActive(_ context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.items[id]
	if !ok {
		return fmt.Errorf("source %d: %w", id, crawler.ErrNotFound)
	}
	src.Active = active
	f.items[id] = src
	return nil
}

func (f *fakeSources) GetSource(_ context.Context, id int64) (crawler.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.items[id]
	if !ok {
		return crawler.Source{}, fmt.Errorf("source %d: %w", id, crawler.ErrNotFound)
	}
	return src, nil
}

func (f *fakeSources) ListSources(_ context.Context, filter crawler.SourceFilter) ([]crawler.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []crawler.Source
	for _, src := range f.items {
		if filter.Active != nil && src.Active != *filter.Active {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

type fakeCollections struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCollections) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCollections) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCollections) ScrapeAll(ctx context.Context, src crawler.Source) (crawler.CrawlReport, error) {
	id, _ := progress.RunIDFrom(ctx)
	f.record(fmt.Sprintf("all:%d:%s", src.ID, id))
	return crawler.CrawlReport{}, nil
}

func (f *fakeCollections) ScrapeCollection(_ context.Context, src crawler.Source, nativeID string) (crawler.Collection, crawler.UnitReport, error) {
	f.record(fmt.Sprintf("collection:%d:%s", src.ID, nativeID))
	return crawler.Collection{}, crawler.UnitReport{}, nil
}

func (f *fakeCollections) DeleteCollectionCascade(_ context.Context, id int64) error {
	f.record(fmt.Sprintf("delete:%d", id))
	return nil
}

type fakeUnits struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeUnits) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUnits) ScrapeUnit(_ context.Context, _ crawler.Source, coll, unit string) (crawler.DownloadReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, crawler.UnitItemID(coll, unit))
	return crawler.DownloadReport{}, nil
}

func (f *fakeUnits) GetUnits(context.Context, crawler.UnitFilter) ([]crawler.Unit, error) {
	return []crawler.Unit{}, nil
}

type fakeRunner struct {
	err error
}

func (f *fakeRunner) RunNow(context.Context, string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return uuid.New(), nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
