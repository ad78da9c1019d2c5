// Package stream implements the Server-Sent Events endpoint browsers use to
// follow a conversation.
//
// # Modes
//
// In hub mode (the default) a stream subscribes to the hub and relays what
// webhook ingestion publishes. With bootstrap polling enabled, a stream also
// polls the conversation API until the first webhook for its conversation
// arrives, publishing through the shared dispatcher so every subscriber
// benefits and nothing is delivered twice.
//
// In poll mode each stream polls on its own with a private seen set, so a
// fresh connection replays the conversation's agent messages.
//
// # Lifecycle
//
// A stream lives for at most the configured lease. When the lease expires a
// drain event is sent, and after a short grace period the response ends so
// the client reconnects. Client disconnects, hub closes and write failures
// take the same teardown path: unsubscribe, cancel the background loops,
// wait for them, then close the sink.
package stream
