// ABOUTME: Package relay turns remote conversation payloads into chat events
// ABOUTME: Holds the normalizer, transcript builder and per-conversation trackers

// Package relay contains the transport-independent core of the relay.
//
// The Normalizer accepts the loosely-typed message objects returned by the
// conversation API and delivered by webhooks, and converts the public,
// agent-authored ones into ChatEvents with a composite id of the form
// "<conversationId>-<remoteId>". A shared seen set makes delivery idempotent
// across the webhook and polling paths.
//
// LabelTracker derives handoff transitions from conversation labels and
// PendingTracker remembers when the local user last wrote, so replies that
// predate that send are not surfaced as new.
package relay
