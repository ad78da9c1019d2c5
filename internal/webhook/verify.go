// ABOUTME: HMAC-SHA256 verification of signed webhook deliveries
// ABOUTME: Accepts everything when no shared secret is configured

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/2389/chatwoot-relay/internal/apierr"
)

// SignatureHeader carries the hex HMAC of the raw request body.
const SignatureHeader = "x-chatwoot-signature"

// MaxBodyBytes caps the webhook body read from the network.
const MaxBodyBytes = 1 << 20

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. An empty secret disables verification.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks signature against body.
func (v *Verifier) Verify(body []byte, signature string) error {
	if !v.Enabled() {
		return nil
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return &apierr.AuthenticationError{Reason: "missing signature"}
	}

	expected := Sign(v.secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return &apierr.AuthenticationError{Reason: "signature mismatch"}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
