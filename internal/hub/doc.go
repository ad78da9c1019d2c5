// ABOUTME: Package hub provides per-conversation fan-out of SSE frames
// ABOUTME: Used by webhook ingestion to push events to open streams

// Package hub is an explicitly constructed publish/subscribe hub keyed by
// conversation id.
//
// Each Subscriber wraps a Sink owned by an SSE stream. Publish encodes a
// payload once into an SSE frame and hands it to every Sink registered for
// the conversation. A Sink that returns an error from Send is removed and
// closed without affecting the others. The hub also sends periodic ping
// frames to each subscriber until it unsubscribes.
package hub
