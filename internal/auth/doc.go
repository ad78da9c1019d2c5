// Package auth issues and verifies stream tokens.
//
// When a stream token secret is configured, the forwarder returns a token in
// the x-chatwoot-stream-token response header after each successful send.
// The token is an HS256 JWT whose subject is the remote conversation id and
// whose audience is "chatwoot-stream". The SSE endpoint then requires the
// token in the "token" query parameter (or as a bearer Authorization header)
// and rejects tokens issued for a different conversation.
//
// Without a secret the stream endpoint is open, matching deployments where
// conversation ids are treated as unguessable.
package auth
