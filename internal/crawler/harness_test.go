package crawler_test

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/queue"
	"github.com/JakeFAU/madara-crawler/internal/storage/memory"
	"github.com/JakeFAU/madara-crawler/internal/store"
)

const siteURL = "https://example.test/"

type route struct {
	status      int
	body        string
	contentType string
}

// fakeFetcher serves canned bodies keyed by "METHOD url" and records every request.
type fakeFetcher struct {
	mu     sync.Mutex
	routes map[string]route
	calls  []crawler.FetchRequest
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: map[string]route{}}
}

func (f *fakeFetcher) get(url, body string) {
	f.routes["GET "+url] = route{status: http.StatusOK, body: body, contentType: "text/html; charset=UTF-8"}
}

func (f *fakeFetcher) post(url, body string) {
	f.routes["POST "+url] = route{status: http.StatusOK, body: body, contentType: "text/html; charset=UTF-8"}
}

func (f *fakeFetcher) image(url string) {
	f.routes["GET "+url] = route{status: http.StatusOK, body: "\xff\xd8\xff" + url, contentType: "image/jpeg"}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	r, ok := f.routes[method+" "+req.URL]
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, Cause: err}
	}
	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, StatusCode: http.StatusNotFound}
	}
	if r.status >= 300 {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, StatusCode: r.status}
	}
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: r.status,
		Headers:    http.Header{"Content-Type": {r.contentType}},
		Body:       []byte(r.body),
	}, nil
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.URL)
	}
	return out
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *recordingPauser) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delays)
}

type recordingObserver struct {
	mu       sync.Mutex
	messages []string
	errors   []crawler.ErrorRecord
}

func (o *recordingObserver) Log(_ context.Context, _ crawler.LogLevel, message string, _ map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, message)
}

func (o *recordingObserver) RecordError(_ context.Context, rec crawler.ErrorRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, rec)
}

func (o *recordingObserver) saw(message string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.messages {
		if m == message {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu            sync.Mutex
	collections   int
	units         int
	unitAssets    []string
	collectionRef string
}

func (p *fakePublisher) PublishCollection(_ context.Context, c crawler.Collection) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collections++
	return "post-" + c.NativeID, nil
}

func (p *fakePublisher) PublishUnit(_ context.Context, u crawler.Unit, assets []string, collectionRef string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.units++
	p.unitAssets = assets
	p.collectionRef = collectionRef
	return "post-" + u.NativeID, nil
}

type fakeMerger struct {
	paths []string
}

func (m *fakeMerger) Merge(_ context.Context, paths []string, stem, format string) (string, error) {
	m.paths = paths
	if format == "avif" {
		format = "png"
	}
	return stem + "." + format, nil
}

type harness struct {
	store    *memory.Store
	repo     *store.Repository
	queue    *queue.Queue
	fetcher  *fakeFetcher
	pauser   *recordingPauser
	observer *recordingObserver
	blobs    crawler.BlobStore
	mem      *memory.BlobStore
	settings crawler.Settings
	src      crawler.Source
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memory.NewStore()
	settings := crawler.DefaultSettings()
	mem := memory.NewBlobStore()
	h := &harness{
		store:    s,
		repo:     store.NewRepository(s, nil),
		fetcher:  newFakeFetcher(),
		pauser:   &recordingPauser{},
		observer: &recordingObserver{},
		blobs:    mem,
		mem:      mem,
		settings: settings,
	}
	h.queue = queue.New(s, crawler.StaticSettings(settings))

	id, err := h.repo.InsertSource(context.Background(), crawler.Source{Name: "Example", URL: siteURL, Active: true})
	require.NoError(t, err)
	h.src, err = h.repo.GetSource(context.Background(), id)
	require.NoError(t, err)
	return h
}

func (h *harness) deps() crawler.Deps {
	return crawler.Deps{
		Catalog:  h.repo,
		Fetcher:  h.fetcher,
		Queue:    h.queue,
		Blobs:    h.blobs,
		Observer: h.observer,
		Settings: crawler.StaticSettings(h.settings),
		Pauser:   h.pauser,
	}
}

func (h *harness) pending(t *testing.T, kind crawler.ItemKind) []crawler.QueueItem {
	t.Helper()
	items, err := h.queue.List(context.Background(), queue.Filter{Kind: kind, Status: crawler.StatusPending}, 0, 0)
	require.NoError(t, err)
	return items
}

func nativeIDs(items []crawler.QueueItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.NativeID)
	}
	return out
}

func listingCard(href, title string) string {
	return `<div class="page-item-detail manga"><div class="item-summary"><div class="post-title font-title"><h3 class="h5"><a href="` +
		href + `">` + title + `</a></h3></div></div></div>`
}

func page(body string) string {
	return `<!DOCTYPE html><html><head><link rel="stylesheet" href="/wp-content/themes/madara/style.css"></head><body class="wp-manga-template">` +
		body + `</body></html>`
}

const detailTemplate = `<div class="post-title"><h1>{{title}}</h1></div>
<div class="summary_image"><a href="#"><img src="https://example.test/covers/alpha.jpg"></a></div>
<div class="author-content"><a href="#">Author A</a></div>
<div class="genres-content"><a href="#">Action</a><a href="#">Drama</a></div>
<div class="post-status"><div class="post-content_item"><div class="summary-heading"><h5>Status</h5></div><div class="summary-content">OnGoing</div></div></div>
<div class="description-summary"><div class="summary__content"><p>A long story.</p></div></div>
{{extra}}`

func detailPage(title, extra string) string {
	return page(strings.NewReplacer("{{title}}", title, "{{extra}}", extra).Replace(detailTemplate))
}

const tokenScript = `<script>var manga = {"manga_id":"77","chapter_type":"manga","_wpnonce":"abc123"};</script>`

func chapterList(collection string, numbers ...string) string {
	var b strings.Builder
	b.WriteString(`<ul class="main version-chap">`)
	for _, n := range numbers {
		b.WriteString(`<li class="wp-manga-chapter"><a href="https://example.test/manga/` + collection + `/chapter-` + n + `/">Chapter ` + n + `</a>`)
		b.WriteString(`<span class="chapter-release-date"><i>January 5, 2024</i></span></li>`)
	}
	b.WriteString(`</ul>`)
	return b.String()
}

func readerPage(images ...string) string {
	var b strings.Builder
	b.WriteString(`<div class="reading-content">`)
	for _, img := range images {
		b.WriteString(`<div class="page-break"><img class="wp-manga-chapter-img" src="` + img + `"></div>`)
	}
	b.WriteString(`</div>`)
	return page(b.String())
}

func tempDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "assets")
}
