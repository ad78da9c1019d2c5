// ABOUTME: HTTP API handlers for the Chatwoot relay
// ABOUTME: Serves messages, history, the Chatwoot webhook, outbound sends and email validation

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2389/chatwoot-relay/internal/apierr"
	"github.com/2389/chatwoot-relay/internal/auth"
	"github.com/2389/chatwoot-relay/internal/emailcheck"
	"github.com/2389/chatwoot-relay/internal/forwarder"
	"github.com/2389/chatwoot-relay/internal/relay"
	"github.com/2389/chatwoot-relay/internal/store"
	"github.com/2389/chatwoot-relay/internal/webhook"
)

// Response headers of POST /api/webhook.
const (
	headerIntegration  = "x-agent-integration"
	headerConversation = "x-chatwoot-conversation"
)

// MessagesResponse is the JSON response for GET /api/chatwoot/messages.
type MessagesResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

// HistoryResponse is the JSON response for GET /api/chatwoot/history.
type HistoryResponse struct {
	Messages []relay.HistoryMessage `json:"messages"`
}

// ForwardResponse is the JSON response for a Chatwoot-mode POST /api/webhook.
type ForwardResponse struct {
	Forwarded      bool    `json:"forwarded"`
	ConversationID *string `json:"conversationId"`
}

// EmailValidateRequest is the JSON request body for POST /api/email/validate.
type EmailValidateRequest struct {
	Email string `json:"email"`
}

// handleMessages handles GET /api/chatwoot/messages requests.
// It returns the raw messages of a conversation as the platform sent them.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if missing := g.chatwoot.Missing(); len(missing) > 0 {
		g.sendAPIError(w, &apierr.ConfigurationError{Missing: missing})
		return
	}

	conversationID := strings.TrimSpace(r.URL.Query().Get("conversationId"))
	if conversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	messages, err := g.chatwoot.FetchMessages(r.Context(), conversationID)
	if err != nil {
		g.logger.Error("failed to fetch messages", "conversation_id", conversationID, "error", err)
		g.sendAPIError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

// handleHistory handles GET /api/chatwoot/history requests.
// It returns the public transcript of a conversation in both directions.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if missing := g.chatwoot.Missing(); len(missing) > 0 {
		g.sendAPIError(w, &apierr.ConfigurationError{Missing: missing})
		return
	}

	conversationID := strings.TrimSpace(r.URL.Query().Get("conversationId"))
	if conversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	raws, err := g.chatwoot.FetchMessages(r.Context(), conversationID)
	if err != nil {
		g.logger.Error("failed to fetch history", "conversation_id", conversationID, "error", err)
		g.sendAPIError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, HistoryResponse{Messages: relay.NormalizeHistory(conversationID, raws)})
}

// handleChatwootWebhook handles POST /api/chatwoot/webhook requests.
// Once the signature checks out the platform always gets 200, whatever
// happens to the delivery afterwards.
func (g *Gateway) handleChatwootWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhook.MaxBodyBytes+1))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > webhook.MaxBodyBytes {
		g.metrics.WebhookReceived("too_large")
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	if err := g.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		g.metrics.WebhookReceived("unauthorized")
		g.logger.Warn("rejected webhook", "error", err, "remote_addr", r.RemoteAddr)
		g.sendJSONError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	g.ingestSafely(body)
	g.sendJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ingestSafely runs the ingester, logging rather than propagating a panic.
func (g *Gateway) ingestSafely(body []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			g.metrics.WebhookReceived("error")
			g.logger.Error("webhook processing panicked", "panic", rec)
		}
	}()

	res := g.ingester.Ingest(body)
	g.logger.Debug("webhook processed",
		"event", res.Event,
		"conversation_id", res.ConversationID,
		"messages", res.Messages,
		"handoff", res.Handoff,
	)
}

// handleForward handles POST /api/webhook requests.
// Chatwoot agents get a JSON acknowledgement; other agents get their own
// webhook's response streamed back.
func (g *Gateway) handleForward(w http.ResponseWriter, r *http.Request) {
	req, err := forwarder.ParseRequest(r)
	if err != nil {
		g.sendAPIError(w, err)
		return
	}

	agent, err := g.forwarder.Agent(r.Context(), req.AgentID)
	if err != nil {
		g.sendAPIError(w, err)
		return
	}

	if !agent.UsesChatwoot() {
		g.passthrough(w, r, agent, req)
		return
	}

	res, err := g.forwarder.Forward(r.Context(), agent, req)
	if err != nil {
		g.logger.Error("failed to forward message to chatwoot", "agent", agent.ID, "error", err)
		g.sendAPIError(w, err)
		return
	}

	h := w.Header()
	h.Set(headerIntegration, forwarder.IntegrationChatwoot)

	resp := ForwardResponse{Forwarded: true}
	if res.ConversationID != "" {
		h.Set(headerConversation, res.ConversationID)
		resp.ConversationID = &res.ConversationID
	}
	if res.StreamToken != "" {
		h.Set(auth.TokenHeader, res.StreamToken)
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// passthrough streams the agent webhook's response back to the browser,
// flushing as chunks arrive.
func (g *Gateway) passthrough(w http.ResponseWriter, r *http.Request, agent *store.Agent, req *forwarder.Request) {
	agentID := agent.ID
	req.AgentID = agentID
	resp, err := g.forwarder.Passthrough(r.Context(), agent, req)
	if err != nil {
		g.logger.Error("agent webhook failed", "agent", agentID, "error", err)
		g.sendAPIError(w, err)
		return
	}
	defer resp.Body.Close()

	h := w.Header()
	for k, values := range resp.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range values {
			h.Add(k, v)
		}
	}
	h.Set(headerIntegration, forwarder.IntegrationN8N)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32<<10)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				g.logger.Debug("client went away during passthrough", "agent", agentID, "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				g.logger.Warn("agent webhook stream ended with error", "agent", agentID, "error", readErr)
			}
			return
		}
	}
}

// handleEmailValidate handles POST /api/email/validate requests.
func (g *Gateway) handleEmailValidate(w http.ResponseWriter, r *http.Request) {
	var req EmailValidateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		g.sendJSONError(w, http.StatusBadRequest, "email is required")
		return
	}

	res, err := g.emails.Validate(r.Context(), email)
	if err != nil {
		var provErr *emailcheck.ProviderError
		switch {
		case errors.As(err, &provErr):
			g.logger.Warn("email validator failed", "status", provErr.Status)
			g.sendJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "validation_failed",
				"message": provErr.Error(),
				"details": provErr.Body,
			})
		case errors.Is(err, emailcheck.ErrInvalidResponse):
			g.sendJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "invalid_response",
				"message": err.Error(),
			})
		default:
			g.logger.Error("email validation error", "error", err)
			g.sendJSON(w, http.StatusInternalServerError, map[string]string{
				"error":   "internal_error",
				"message": "could not validate email",
			})
		}
		return
	}

	g.sendJSON(w, http.StatusOK, res)
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError sends a JSON error response with the given status code and message.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// sendAPIError maps err to its status and writes {error, details}.
func (g *Gateway) sendAPIError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": apierr.Message(err)}
	if details := apierr.Details(err); details != "" {
		body["details"] = details
	}
	g.sendJSON(w, apierr.Status(err), body)
}
