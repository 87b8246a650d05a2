// Package api hosts the HTTP server, middleware, and REST handlers for the
// watchlist. Notable routes:
//   - GET /api/items, PUT /api/item and POST /api/toggle-item/{id} for items.
//   - GET /api/script/{domain} and POST /api/edit-script/{domain} for
//     extraction routines. {domain} may also be a URL-encoded product URL.
//   - POST /api/update-item/{id} and POST /api/update-items for refreshes.
//   - GET /api/events streams refreshed items as server-sent events.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
