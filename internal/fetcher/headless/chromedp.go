// Package headless renders pages in headless Chrome for sites that assemble
// their Madara markup client-side.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/metrics"
)

const (
	// DefaultNavigationTimeout bounds one page render.
	DefaultNavigationTimeout = 45 * time.Second
	// DefaultReadySelector matches the containers a Madara listing, series or
	// chapter page renders its content into.
	DefaultReadySelector = ".site-content, .reading-content, .page-content-listing, body"

	defaultSettle = 500 * time.Millisecond
	fetchMethod   = "HEADLESS"
)

// ErrMethodNotSupported is returned for anything but GET. The chapter list
// POST endpoint is always served by the plain fetcher.
var ErrMethodNotSupported = errors.New("headless fetcher only supports GET")

// blockedAssets never matter to extraction; chapter images are downloaded
// separately by the unit crawler.
var blockedAssets = []string{
	"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp", "*.avif",
	"*.woff", "*.woff2", "*.ttf", "*.mp4",
}

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the ready selector appears for lazy
	// scripts such as chapter list loaders.
	Settle        time.Duration
	ReadySelector string
	// LoadImages disables the asset block list.
	LoadImages bool
}

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements crawler.Fetcher with one shared Chrome process and a tab
// per request.
type Fetcher struct {
	cfg     Config
	slots   chan struct{}
	limiter Waiter

	browser context.Context
	stop    context.CancelFunc
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// NewChromedp prepares a Chrome allocator. The browser itself starts lazily
// on the first Fetch. limiter may be nil; MaxParallel 0 means unbounded.
func NewChromedp(cfg Config, limiter Waiter) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("headless: max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.ReadySelector == "" {
		cfg.ReadySelector = DefaultReadySelector
	}

	f := &Fetcher{cfg: cfg, limiter: limiter}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	f.browser, f.stop = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down. Fetch must not be called afterwards.
func (f *Fetcher) Close() {
	f.stop()
}

// Fetch renders request.URL and returns the resulting DOM. Status and headers
// come from the main document response when Chrome reports one.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	fail := func(status int, cause error) (crawler.FetchResponse, error) {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, StatusCode: status, Cause: cause}
	}
	if request.Method != "" && request.Method != http.MethodGet {
		return fail(0, ErrMethodNotSupported)
	}
	target, err := url.ParseRequestURI(request.URL)
	if err != nil {
		return fail(0, err)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return fail(0, err)
		}
	}
	if err := f.acquire(ctx); err != nil {
		return fail(0, err)
	}
	defer f.release()

	start := time.Now()
	page, err := f.render(ctx, request.URL, withReferer(request.Headers, target))
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveFetch(request.URL, fetchMethod, "error", 0, elapsed)
		return fail(0, err)
	}
	if page.status < 200 || page.status > 299 {
		metrics.ObserveFetch(request.URL, fetchMethod, "error", 0, elapsed)
		return fail(page.status, nil)
	}

	metrics.ObserveFetch(request.URL, fetchMethod, "ok", len(page.html), elapsed)
	return crawler.FetchResponse{
		URL:        page.url,
		StatusCode: page.status,
		Headers:    page.headers,
		Body:       []byte(page.html),
		Duration:   elapsed,
		Headless:   true,
	}, nil
}

type renderedPage struct {
	html    string
	url     string
	status  int
	headers http.Header
}

func (f *Fetcher) render(ctx context.Context, target string, headers http.Header) (renderedPage, error) {
	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	unlink := context.AfterFunc(ctx, closeTab)
	defer unlink()
	tab, cancel := context.WithTimeout(tab, f.navTimeout())
	defer cancel()

	doc := &documentRecorder{}
	chromedp.ListenTarget(tab, doc.observe)

	var page renderedPage
	err := chromedp.Run(tab,
		f.prepareTab(headers),
		chromedp.Navigate(target),
		chromedp.WaitReady(f.cfg.ReadySelector, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&page.url),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	)
	if err != nil {
		return renderedPage{}, fmt.Errorf("render %s: %w", target, err)
	}
	page.status, page.headers, page.url = doc.result(target, page.url)
	return page, nil
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if !f.cfg.LoadImages {
			if err := network.SetBlockedURLs(blockedAssets).Do(ctx); err != nil {
				return fmt.Errorf("block assets: %w", err)
			}
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := cdpHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for a browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

// withReferer mirrors what a reader clicking through the site would send;
// several Madara hosts reject chapter pages without one.
func withReferer(h http.Header, target *url.URL) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	if out.Get("Referer") == "" {
		out.Set("Referer", target.Scheme+"://"+target.Host+"/")
	}
	return out
}

// documentRecorder remembers the first document response of a tab. Later
// ones belong to iframes such as ad slots.
type documentRecorder struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *documentRecorder) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.headers = httpHeaders(resp.Response.Headers)
}

// result falls back to the tab location, then the requested URL, and assumes
// 200 when Chrome never reported the document.
func (d *documentRecorder) result(requested, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, finalURL := d.status, d.url
	if finalURL == "" {
		finalURL = location
	}
	if finalURL == "" {
		finalURL = requested
	}
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, finalURL
}

func httpHeaders(in network.Headers) http.Header {
	out := make(http.Header, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func cdpHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
