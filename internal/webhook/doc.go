// ABOUTME: Package webhook ingests signed deliveries from the conversation platform
// ABOUTME: Verification, payload extraction and dispatch to the hub

// Package webhook handles POST /api/chatwoot/webhook deliveries.
//
// Bodies are verified with an HMAC-SHA256 over the raw bytes using the
// shared webhook token, then run through ordered extractor chains because
// the platform nests data differently per event type. Labels update the
// per-conversation handoff state and agent messages are normalized and
// published to the hub.
//
// Once a signature is accepted, processing problems are only logged. The
// platform is always answered with 200 so it does not retry.
package webhook
