// ABOUTME: Signed stream tokens binding an SSE subscription to one conversation
// ABOUTME: Uses HS256 JWTs with the conversation id as subject

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
	ErrMissingClaim      = errors.New("missing required claim")
	ErrWrongConversation = errors.New("token issued for another conversation")
)

// streamAudience scopes tokens to the stream endpoint.
const streamAudience = "chatwoot-stream"

// StreamTokenVerifier checks that a token grants access to a conversation.
type StreamTokenVerifier interface {
	Verify(tokenString, conversationID string) error
}

// StreamTokens issues and verifies stream tokens.
type StreamTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStreamTokens creates a token issuer with the given secret and lifetime.
func NewStreamTokens(secret []byte, ttl time.Duration) *StreamTokens {
	return &StreamTokens{secret: secret, ttl: ttl, now: time.Now}
}

// Issue creates a token for the conversation.
func (s *StreamTokens) Issue(conversationID string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   conversationID,
		Audience:  jwt.ClaimStrings{streamAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates the token and checks it was issued for conversationID.
func (s *StreamTokens) Verify(tokenString, conversationID string) error {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithAudience(streamAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}

	if claims.Subject == "" {
		return fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Subject != conversationID {
		return ErrWrongConversation
	}
	return nil
}
