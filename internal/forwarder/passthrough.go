// ABOUTME: Pass-through mode of the forwarder for agents without a Chatwoot inbox
// ABOUTME: Rebuilds the browser form and posts it to the agent's own webhook

package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/2389/chatwoot-relay/internal/apierr"
	"github.com/2389/chatwoot-relay/internal/store"
)

// maxErrorBody caps how much of a failed webhook response is kept.
const maxErrorBody = 64 << 10

// Passthrough posts req to the agent's webhook and returns the response for
// the caller to stream back. The caller must close the body. A non-2xx
// answer is returned as an UpstreamError instead.
func (f *Forwarder) Passthrough(ctx context.Context, agent *store.Agent, req *Request) (*http.Response, error) {
	resp, err := f.passthrough(ctx, agent, req)
	if err != nil {
		f.metrics.Forwarded(IntegrationN8N, "error")
		return nil, err
	}
	f.metrics.Forwarded(IntegrationN8N, "ok")
	return resp, nil
}

func (f *Forwarder) passthrough(ctx context.Context, agent *store.Agent, req *Request) (*http.Response, error) {
	target := strings.TrimSpace(agent.WebhookURL)
	if target == "" {
		target = strings.TrimSpace(req.WebhookURL)
	}
	if target == "" {
		return nil, apierr.Validation("webhookUrl is required")
	}

	body, contentType, err := encodePassthrough(req)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := f.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling agent webhook: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		f.logger.Warn("agent webhook rejected message", "agent", agent.ID, "status", resp.StatusCode)
		return nil, &apierr.UpstreamError{Operation: "agent webhook", Status: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

func encodePassthrough(req *Request) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"message", req.Message},
		{"agentId", req.AgentID},
		{"sessionId", req.SessionID},
		{"userEmail", req.UserEmail},
	}
	if id := strings.TrimSpace(req.ConversationID); id != "" {
		fields = append(fields, [2]string{"conversationId", id})
	}
	if req.VideoAnalysis {
		fields = append(fields, [2]string{"videoAnalysis", "true"})
	}
	for _, field := range fields {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}

	files := req.Files
	if req.Audio != nil {
		audio := *req.Audio
		audio.Field = "audio"
		files = append(files[:len(files):len(files)], audio)
	}
	for _, file := range files {
		if err := writeFile(w, file); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, file File) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Filename))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(file.Data)
	return err
}
