// Package progress provides the event primitives and the non-blocking hub the
// crawl engine reports through. The Hub implements crawler.Observer: leveled
// log lines, per-item error records and scheduler run milestones are batched on
// a background goroutine and fanned out to pluggable sinks such as structured
// logging, Prometheus counters or the persistent logs and errors tables.
package progress
