// Package gateway orchestrates the chatwoot-relay server components.
//
// # Overview
//
// The gateway owns every relay component and the single HTTP server that
// exposes them: the SQLite store, the broadcast hub, the Chatwoot client,
// the dispatcher shared by the webhook and bootstrap poll paths, the
// forwarder, the transcript recorder and the bounded caches behind them.
//
// # HTTP API
//
//	GET  /api/chatwoot/stream     SSE stream of one conversation
//	GET  /api/chatwoot/messages   raw conversation messages
//	GET  /api/chatwoot/history    normalized transcript, both directions
//	POST /api/chatwoot/webhook    signed Chatwoot webhook deliveries
//	POST /api/webhook             browser sends (Chatwoot or pass-through)
//	POST /api/email/validate      email deliverability check
//	GET  /health                  liveness
//	GET  /health/ready            readiness, pings the store
//	GET  /metrics                 Prometheus metrics when enabled
//
// Errors are JSON objects with an "error" field and, for upstream failures,
// a "details" field carrying the remote body. The POST endpoints share a
// per-client token bucket when ratelimit.rps is set.
//
// # Lifecycle
//
// Run listens and serves until its context is canceled, then calls
// Shutdown, which ends every open stream, drains the HTTP server, flushes
// the transcript queue and closes the store.
package gateway
