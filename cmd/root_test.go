package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/madara-crawler/internal/config"
	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/queue"
	"github.com/JakeFAU/madara-crawler/internal/scheduler"
	"github.com/JakeFAU/madara-crawler/internal/settings"
	"github.com/JakeFAU/madara-crawler/internal/storage/memory"
	"github.com/JakeFAU/madara-crawler/internal/store"
)

// testApp is an in-memory graph without fetching, telemetry or the API.
type testApp struct {
	repo        *store.Repository
	settings    *settings.Provider
	queue       *queue.Queue
	sources     *crawler.Sources
	collections *crawler.CollectionCrawler
	units       *crawler.UnitCrawler
	dispatcher  *crawler.Dispatcher
	scheduler   *scheduler.Scheduler
	closed      int
}

func newTestApp() *testApp {
	repo := store.NewRepository(memory.NewStore(), nil)
	provider := settings.NewProvider(crawler.DefaultSettings(), repo)
	q := queue.New(repo.Store(), provider)
	deps := crawler.Deps{Catalog: repo, Queue: q, Settings: provider, Blobs: memory.NewBlobStore()}
	a := &testApp{
		repo:        repo,
		settings:    provider,
		queue:       q,
		sources:     crawler.NewSources(deps),
		collections: crawler.NewCollectionCrawler(deps),
		units:       crawler.NewUnitCrawler(deps),
	}
	a.dispatcher = crawler.NewDispatcher(repo, a.collections, a.units)
	a.scheduler = scheduler.New(scheduler.Deps{
		Catalog:  repo,
		Checker:  a.collections,
		Queue:    q,
		Executor: a.dispatcher,
		Settings: provider,
	})
	return a
}

func (a *testApp) Run(context.Context) error { return nil }
func (a *testApp) Close(context.Context) { a.closed++ }
func (a *testApp) Logger() *zap.Logger { return zap.NewNop() }
func (a *testApp) Repository() *store.Repository { return a.repo }
func (a *testApp) Settings() *settings.Provider { return a.settings }
func (a *testApp) Queue() *queue.Queue { return a.queue }
func (a *testApp) Sources() *crawler.Sources { return a.sources }
func (a *testApp) Collections() *crawler.CollectionCrawler { return a.collections }
func (a *testApp) Units() *crawler.UnitCrawler { return a.units }
func (a *testApp) Dispatcher() *crawler.Dispatcher { return a.dispatcher }
func (a *testApp) Scheduler() *scheduler.Scheduler { return a.scheduler }

// run executes the CLI against app. Tests using it share package globals and
// must not run in parallel.
func run(t *testing.T, app *testApp, args ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: memory\nstorage:\n  backend: memory\n"), 0o600))

	prev := newApp
	newApp = func(context.Context, *config.Config) (App, error) { return app, nil }
	t.Cleanup(func() {
		newApp = prev
		cfgFile = ""
	})

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSourceListAndActivate(t *testing.T) {
	app := newTestApp()
	id, err := app.repo.InsertSource(context.Background(), crawler.Source{
		Name:   "Alpha",
		URL:    "https://alpha.example/",
		Active: true,
	})
	require.NoError(t, err)

	out, err := run(t, app, "source", "list")
	require.NoError(t, err)
	var sources []crawler.Source
	require.NoError(t, json.Unmarshal([]byte(out), &sources))
	require.Len(t, sources, 1)
	require.Equal(t, "Alpha", sources[0].Name)

	_, err = run(t, app, "source", "deactivate", strconv.FormatInt(id, 10))
	require.NoError(t, err)
	src, err := app.repo.GetSource(context.Background(), id)
	require.NoError(t, err)
	require.False(t, src.Active)
	require.Equal(t, 2, app.closed)
}

func TestSourceDeleteRejectsBadID(t *testing.T) {
	_, err := run(t, newTestApp(), "source", "delete", "abc")
	require.Error(t, err)
	require.True(t, crawler.IsValidation(err))
}

func TestQueueStatsAndClear(t *testing.T) {
	app := newTestApp()
	ctx := context.Background()
	_, err := app.queue.Enqueue(ctx, crawler.KindCollection, "alpha", 1, 5)
	require.NoError(t, err)
	_, err = app.queue.Enqueue(ctx, crawler.KindUnit, "alpha/chapter-1", 1, 5)
	require.NoError(t, err)

	out, err := run(t, app, "queue", "stats")
	require.NoError(t, err)
	var stats queue.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.EqualValues(t, 2, stats.Total)

	_, err = run(t, app, "queue", "clear", "--status", "bogus")
	require.Error(t, err)

	out, err = run(t, app, "queue", "clear", "--kind", "unit")
	require.NoError(t, err)
	require.Contains(t, out, "1 items deleted")
}

func TestSettingsSetAndGet(t *testing.T) {
	app := newTestApp()

	_, err := run(t, app, "settings", "set", "batch_size=12", "merge_format=webp")
	require.NoError(t, err)

	current, err := app.settings.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, current.BatchSize)
	require.Equal(t, "webp", current.MergeFormat)

	_, err = run(t, app, "settings", "set", "batch_size")
	require.Error(t, err)
}

func TestMigrateSkipsAppBuild(t *testing.T) {
	app := newTestApp()
	out, err := run(t, app, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "memory schema ready")
	require.Zero(t, app.closed)
}
