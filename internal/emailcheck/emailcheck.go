// ABOUTME: Client for the third-party email validation service
// ABOUTME: Returns the provider verdict or a typed failure the HTTP layer maps to 502

package emailcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public validator used when none is configured.
const DefaultBaseURL = "https://rapid-email-verifier.fly.dev"

const maxResponseBody = 1 << 20

// ErrInvalidResponse is returned when the provider answers 2xx with
// something other than a JSON object.
var ErrInvalidResponse = errors.New("provider returned an invalid response")

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider responded %d", e.Status)
}

// Result is the provider verdict. Provider holds the full response object.
type Result struct {
	Status   json.RawMessage `json:"status"`
	Provider json.RawMessage `json:"provider"`
}

// Validator calls the validation service.
type Validator struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a validator. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Validator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "emailcheck"),
	}
}

// Validate asks the provider about email.
func (v *Validator) Validate(ctx context.Context, email string) (*Result, error) {
	target := v.baseURL + "/api/validate?email=" + url.QueryEscape(email)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling validator: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading validator response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		v.logger.Warn("validator rejected request", "status", resp.StatusCode)
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(body)}
	}

	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidResponse
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, ErrInvalidResponse
	}

	status := json.RawMessage("null")
	if s := parsed.Get("status"); s.Exists() {
		status = json.RawMessage(s.Raw)
	}
	return &Result{Status: status, Provider: json.RawMessage(body)}, nil
}
