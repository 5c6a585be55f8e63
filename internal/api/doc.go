// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/fleet for the aggregated state counts, flag totals and workers.
//   - POST /v1/fleet/pause|resume and POST /v1/workers/{id}/pause|resume|stop
//     for fleet control; DELETE /v1/workers/{id} removes a worker.
//   - GET /v1/workers/{id}/history and GET /v1/flags for persisted status
//     via the StatusRepository interface.
//   - GET /v1/fleet/stream upgrades to a websocket carrying progress events.
package api
