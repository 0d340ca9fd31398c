// Package api hosts the HTTP server, middleware, and REST handlers that let
// an external crawler drive the frontier. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/candidates to score and submit discovered links.
//   - POST /v1/cost to score a candidate without submitting it.
//   - GET /v1/next and POST /v1/finished to lease and release work.
//   - POST /v1/terminate and GET /v1/stats to end and inspect the crawl.
package api
