// Package ratelimit implements a per-host token bucket shared by all fetchers.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/madara-crawler/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive rate disables
// limiting for the hosts it applies to.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// HostRPS overrides DefaultRPS per host. Keys are matched without a
	// leading "www.".
	HostRPS map[string]float64
}

// Limiter hands out one token bucket per host. Listing pages, chapter pages
// and the image CDN of a site are throttled independently.
type Limiter struct {
	burst    int
	fallback rate.Limit
	perHost  map[string]rate.Limit

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{
		burst:    max(cfg.DefaultBurst, 1),
		fallback: limitFor(cfg.DefaultRPS),
		perHost:  make(map[string]rate.Limit, len(cfg.HostRPS)),
		buckets:  make(map[string]*rate.Limiter),
	}
	for host, rps := range cfg.HostRPS {
		l.perHost[canonicalHost(host)] = limitFor(rps)
	}
	return l
}

// Wait blocks until the host of rawURL has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	bucket := l.bucket(host)
	if bucket.Limit() == rate.Inf {
		return nil
	}

	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Limit reports the rate applied to rawURL's host.
func (l *Limiter) Limit(rawURL string) rate.Limit {
	return l.bucket(hostOf(rawURL)).Limit()
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	limit, ok := l.perHost[host]
	if !ok {
		limit = l.fallback
	}
	b := rate.NewLimiter(limit, l.burst)
	l.buckets[host] = b
	return b
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return canonicalHost(u.Hostname())
}

func canonicalHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
