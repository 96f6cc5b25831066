// Package api hosts the admin HTTP server that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the latest run summary.
package api
