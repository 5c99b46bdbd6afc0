// Package api hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/sources, /v1/collections and /v1/units for catalog management and
//     scrape triggers.
//   - /v1/queue for queue inspection and maintenance.
//   - /v1/scheduler, /v1/settings, /v1/logs and /v1/errors for operations.
//
// Scrape and run triggers return 202 with a run id and continue in the
// background under the server's lifetime context.
package api
