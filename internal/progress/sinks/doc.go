// Package sinks implements concrete progress consumers: Prometheus counters,
// the persistent logs and errors tables, and structured zap logging. Each sink
// satisfies the progress.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
