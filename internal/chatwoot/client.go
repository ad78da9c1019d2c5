// ABOUTME: HTTP client for the Chatwoot account and public inbox APIs
// ABOUTME: Builds account/public paths, sends api_access_token and maps non-2xx responses to UpstreamError

package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/chatwoot-relay/internal/apierr"
	"github.com/2389/chatwoot-relay/internal/cache"
)

const (
	// DefaultTimeout bounds a single request to the platform.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is kept for diagnostics.
	maxErrorBody = 64 << 10
)

// Config holds what the client needs to reach a Chatwoot installation.
type Config struct {
	BaseURL   string
	AccountID string
	APIToken  string
	Timeout   time.Duration

	// InboxCache memoizes public inbox identifiers to numeric ids. Optional.
	InboxCache *cache.Cache[int64]
}

// Attachment is a file uploaded alongside a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client talks to one Chatwoot account. None of its operations retry.
type Client struct {
	BaseURL   string
	AccountID string
	APIToken  string
	HTTP      *http.Client

	inboxIDs *cache.Cache[int64]
	logger   *slog.Logger
}

// New creates a client. Pass nil logger for default.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		AccountID: cfg.AccountID,
		APIToken:  cfg.APIToken,
		HTTP:      &http.Client{Timeout: timeout},
		inboxIDs:  cfg.InboxCache,
		logger:    logger.With("component", "chatwoot"),
	}
}

// Missing lists the credentials required for account-scoped calls that are unset.
func (c *Client) Missing() []string {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "CHATWOOT_BASE_URL")
	}
	if c.AccountID == "" {
		missing = append(missing, "CHATWOOT_ACCOUNT_ID")
	}
	if c.APIToken == "" {
		missing = append(missing, "CHATWOOT_API_TOKEN")
	}
	return missing
}

// Configured reports whether account-scoped calls can be made.
func (c *Client) Configured() bool {
	return len(c.Missing()) == 0
}

func (c *Client) requirePrivate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return &apierr.ConfigurationError{Missing: missing}
	}
	return nil
}

func (c *Client) requirePublic() error {
	if c.BaseURL == "" {
		return &apierr.ConfigurationError{Missing: []string{"CHATWOOT_BASE_URL"}}
	}
	return nil
}

// accountPath returns the URL for account-scoped API calls
func (c *Client) accountPath(path string) string {
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("%s/api/v1/accounts/%s%s", c.BaseURL, c.AccountID, path)
}

// publicPath returns the URL for public client API calls
func (c *Client) publicPath(path string) string {
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("%s/public/api/v1%s", c.BaseURL, path)
}

// request describes one call to the platform.
type request struct {
	op          string
	method      string
	url         string
	contentType string
	body        []byte
	private     bool
}

// do performs the request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.private {
		req.Header.Set("api_access_token", c.APIToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("chatwoot request failed",
			"op", r.op,
			"status", resp.StatusCode,
			"body", string(errBody))
		return nil, &apierr.UpstreamError{
			Operation: r.op,
			Status:    resp.StatusCode,
			Body:      string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", r.op, err)
	}
	return respBody, nil
}

// doJSON marshals payload and performs the request.
func (c *Client) doJSON(ctx context.Context, op, method, url string, payload any, private bool) ([]byte, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshaling request: %w", op, err)
		}
	}
	return c.do(ctx, request{
		op:          op,
		method:      method,
		url:         url,
		contentType: "application/json",
		body:        data,
		private:     private,
	})
}

// formField is a plain multipart value.
type formField struct {
	name  string
	value string
}

// encodeMultipart builds a multipart body with the fields followed by
// every attachment under attachments[].
func encodeMultipart(fields []formField, attachments []Attachment) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", f.name, err)
		}
	}

	for i, a := range attachments {
		name := strings.TrimSpace(a.Filename)
		if name == "" {
			name = fmt.Sprintf("attachment-%d", i+1)
		}
		ctype := a.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", multipart.FileContentDisposition("attachments[]", name))
		h.Set("Content-Type", ctype)
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating attachment part: %w", err)
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", fmt.Errorf("writing attachment: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// firstOf returns the first path in body that holds a non-null value.
func firstOf(body []byte, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := gjson.GetBytes(body, p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// firstArray returns the first path in body that holds an array. The empty
// path stands for the document root.
func firstArray(body []byte, paths ...string) (gjson.Result, bool) {
	for _, p := range paths {
		var r gjson.Result
		if p == "" {
			r = gjson.ParseBytes(body)
		} else {
			r = gjson.GetBytes(body, p)
		}
		if r.IsArray() {
			return r, true
		}
	}
	return gjson.Result{}, false
}
