// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/scrape-clothing lists garment candidates found on a product page.
//   - POST /api/virtual-tryon composes a garment onto a person photo.
//   - GET /api/sessions/{session_id} returns the results recorded for a session.
//
// Errors are returned as {"detail": "..."} with a message the client can show as-is.
package api
