// Package main hosts the virtual try-on service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics, and the /api routes for scraping garment
//     candidates, composing a try-on image, and reading back a session. Bodies are size-capped and every request runs
//     under a deadline.
//   - Scrape pipeline: the Colly-based fetcher downloads the product page with browser-like headers, the extractor
//     runs the structural → broad → last-resort candidate cascade, and when the page yields nothing the heuristic
//     detector may promote it to a Chromedp render that is extracted again.
//   - Composition: the configured composer (Gemini generateContent, or a no-op echo for local runs) merges the person
//     and garment images under the configured prompt.
//   - Persistence & fanout: each result is saved to the record store (memory/Postgres/Redis). Person, garment, and
//     result images are archived best-effort to the blob store (memory/local/GCS/MinIO), and a completion event is
//     published to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: one goroutine per request under net/http; headless renders share a semaphore inside the
//     Chromedp renderer. Shutdown is coordinated via context cancellation from SIGINT/SIGTERM.
//   - Cloud Run: the HTTP server listens on the configured port (overridable via PORT), keeps no state outside the
//     configured stores, and drains in-flight requests on SIGTERM.
//
// Quick checklist:
//   - Configure env vars: TRYON_SERVER_PORT or PORT, TRYON_COMPOSE_PROVIDER and TRYON_COMPOSE_API_KEY, TRYON_STORE_*,
//     TRYON_STORAGE_*, TRYON_PUBSUB_*, and TRYON_HEADLESS_ENABLED when a Chrome binary is available.
//   - Run locally: go run ./cmd/tryon -config config.yaml (or rely solely on env overrides).
package main
