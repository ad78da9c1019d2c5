// ABOUTME: Error taxonomy shared by the relay components and HTTP handlers
// ABOUTME: Maps configuration, validation, auth, upstream and lookup failures to HTTP statuses

package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ConfigurationError reports required settings that are not present.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing environment variables: " + strings.Join(e.Missing, ", ")
}

// ValidationError reports a missing or malformed request parameter.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation is shorthand for building a ValidationError.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthenticationError reports a bad or missing signature or token.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return "authentication failed"
	}
	return "authentication failed: " + e.Reason
}

// UpstreamError carries the status and body of a non-2xx response from a
// remote API so callers can surface both to operators.
type UpstreamError struct {
	Operation string
	Status    int
	Body      string
}

func (e *UpstreamError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("%s: upstream error (status %d): %s", e.Operation, e.Status, e.Body)
}

// NotFoundError reports a resource that could not be resolved.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// Status returns the HTTP status an error should be reported with.
func Status(err error) int {
	var (
		cfgErr  *ConfigurationError
		valErr  *ValidationError
		authErr *AuthenticationError
		upErr   *UpstreamError
		nfErr   *NotFoundError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &nfErr):
		return http.StatusNotFound
	case errors.As(err, &upErr):
		if upErr.Status >= 400 && upErr.Status <= 599 {
			return upErr.Status
		}
		return http.StatusBadGateway
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing error text. Unclassified errors are
// reported generically so internal details do not leak.
func Message(err error) string {
	var (
		cfgErr  *ConfigurationError
		valErr  *ValidationError
		authErr *AuthenticationError
		upErr   *UpstreamError
		nfErr   *NotFoundError
	)
	switch {
	case errors.As(err, &valErr):
		return valErr.Message
	case errors.As(err, &authErr):
		return "invalid signature"
	case errors.As(err, &nfErr):
		return nfErr.Error()
	case errors.As(err, &upErr):
		if upErr.Operation != "" {
			return fmt.Sprintf("upstream error: %s failed with status %d", upErr.Operation, upErr.Status)
		}
		return fmt.Sprintf("upstream error: status %d", upErr.Status)
	case errors.As(err, &cfgErr):
		return cfgErr.Error()
	default:
		return "internal server error"
	}
}

// Details returns the diagnostic payload attached to an error, if any.
func Details(err error) string {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Body
	}
	return ""
}

// IsStatus reports whether err is an UpstreamError with one of the given statuses.
func IsStatus(err error, statuses ...int) bool {
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		return false
	}
	for _, s := range statuses {
		if upErr.Status == s {
			return true
		}
	}
	return false
}
