// ABOUTME: Helpers for reading stream tokens from HTTP requests
// ABOUTME: Accepts the token query parameter or a bearer Authorization header

package auth

import (
	"net/http"
	"strings"
)

// TokenHeader carries a freshly issued stream token on forwarder responses.
const TokenHeader = "x-chatwoot-stream-token"

// TokenFromRequest returns the stream token of r. EventSource cannot set
// headers, so the query parameter is checked first.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
