// Package api hosts the optional status server exposed while a crawl runs.
// Routes:
//   - GET /healthz for liveness probes.
//   - GET /stats for the live crawl statistics as JSON.
//   - GET /metrics for Prometheus scraping.
package api
