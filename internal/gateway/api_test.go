// ABOUTME: Tests for the relay HTTP API handlers
// ABOUTME: Covers webhook verification, the webhook-to-stream path, sends, history and email validation

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatwoot-relay/internal/store"
	"github.com/2389/chatwoot-relay/internal/webhook"
)

func postWebhook(t *testing.T, url string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/chatwoot/webhook", bytes.NewReader(body))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

func TestChatwootWebhook_Signature(t *testing.T) {
	tg := newTestGateway(t, newTestConfig())
	body := []byte(`{"event":"conversation_updated","conversation":{"id":5,"labels":[]}}`)
	sig := webhook.Sign([]byte("webhook-secret"), body)

	resp := postWebhook(t, tg.srv.URL, body, sig)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true}, decodeJSON(t, resp.Body))

	flipped := bytes.Clone(body)
	flipped[10] ^= 1
	resp = postWebhook(t, tg.srv.URL, flipped, sig)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid signature", decodeJSON(t, resp.Body)["error"])

	resp = postWebhook(t, tg.srv.URL, body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatwootWebhook_NoSecretAcceptsAnything(t *testing.T) {
	cfg := newTestConfig()
	cfg.Chatwoot.WebhookToken = ""
	tg := newTestGateway(t, cfg)

	resp := postWebhook(t, tg.srv.URL, []byte(`not even json`), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatwootWebhook_TooLarge(t *testing.T) {
	cfg := newTestConfig()
	cfg.Chatwoot.WebhookToken = ""
	tg := newTestGateway(t, cfg)

	resp := postWebhook(t, tg.srv.URL, bytes.Repeat([]byte("a"), webhook.MaxBodyBytes+1), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestWebhookToStream_EndToEnd(t *testing.T) {
	tg := newTestGateway(t, newTestConfig())

	stream := openStream(t, tg.srv.URL+"/api/chatwoot/stream?conversationId=42")
	connected := stream.next(t)
	require.Equal(t, "connected", connected.Event)
	assert.JSONEq(t, `{"conversationId":"42","clients":1}`, connected.Data)

	body := []byte(`{"event":"message_created","message":{"conversation_id":"42","message_type":"outgoing","content":"Hi"}}`)
	resp := postWebhook(t, tg.srv.URL, body, webhook.Sign([]byte("webhook-secret"), body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev := stream.next(t)
	require.Equal(t, "chatwoot_message", ev.Event)

	var payload struct {
		ConversationID string `json:"conversationId"`
		Message        struct {
			ID        string `json:"id"`
			Content   string `json:"content"`
			Direction string `json:"direction"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
	assert.Equal(t, "42", payload.ConversationID)
	assert.Equal(t, "Hi", payload.Message.Content)
	assert.Equal(t, "outbound", payload.Message.Direction)
	assert.True(t, strings.HasPrefix(payload.Message.ID, "42-"), "id %q", payload.Message.ID)
}

func TestWebhookToStream_Handoff(t *testing.T) {
	tg := newTestGateway(t, newTestConfig())
	stream := openStream(t, tg.srv.URL+"/api/chatwoot/stream?conversationId=9")
	require.Equal(t, "connected", stream.next(t).Event)

	send := func(labels string) {
		body := []byte(`{"event":"conversation_updated","conversation":{"id":9,"labels":` + labels + `}}`)
		postWebhook(t, tg.srv.URL, body, webhook.Sign([]byte("webhook-secret"), body))
	}

	send(`[]`)
	send(`["Humano"]`)
	ev := stream.next(t)
	require.Equal(t, "chatwoot_handoff", ev.Event)
	assert.JSONEq(t, `{"conversationId":"9","human":true,"labels":["Humano"]}`, ev.Data)

	send(`["Humano"]`)
	send(`[]`)
	ev = stream.next(t)
	require.Equal(t, "chatwoot_handoff", ev.Event)
	assert.JSONEq(t, `{"conversationId":"9","human":false,"labels":[]}`, ev.Data)
}

func TestStream_MissingConversationID(t *testing.T) {
	tg := newTestGateway(t, newTestConfig())

	resp, err := http.Get(tg.srv.URL + "/api/chatwoot/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// fakeChatwoot serves the account API paths the handlers use.
func fakeChatwoot(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/accounts/1/conversations/42/messages" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"payload":[
				{"id":2,"message_type":1,"content":"hello","created_at":1700000010},
				{"id":1,"message_type":0,"content":"hi","created_at":1700000000},
				{"id":3,"message_type":1,"private":true,"content":"note","created_at":1700000020}
			]}`))
		case r.URL.Path == "/api/v1/accounts/1/conversations/500/messages":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		case strings.HasSuffix(r.URL.Path, "/contacts"):
			_, _ = w.Write([]byte(`{"id":77}`))
		case strings.HasPrefix(r.URL.Path, "/public/") && strings.HasSuffix(r.URL.Path, "/messages"):
			_, _ = w.Write([]byte(`{"id":5,"conversation_id":314}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configuredGateway(t *testing.T) *testGateway {
	t.Helper()
	cw := fakeChatwoot(t)
	cfg := newTestConfig()
	cfg.Chatwoot.BaseURL = cw.URL
	cfg.Chatwoot.AccountID = "1"
	cfg.Chatwoot.APIToken = "token"
	return newTestGateway(t, cfg)
}

func TestMessages_MissingCredentials(t *testing.T) {
	tg := newTestGateway(t, newTestConfig())

	resp, err := http.Get(tg.srv.URL + "/api/chatwoot/messages?conversationId=42")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "missing environment variables: CHATWOOT_BASE_URL, CHATWOOT_ACCOUNT_ID, CHATWOOT_API_TOKEN",
		decodeJSON(t, resp.Body)["error"])
}

func TestMessages(t *testing.T) {
	tg := configuredGateway(t)

	resp, err := http.Get(tg.srv.URL + "/api/chatwoot/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(tg.srv.URL + "/api/chatwoot/messages?conversationId=42")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out MessagesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Messages, 3, "messages are returned raw")
}

func TestMessages_UpstreamError(t *testing.T) {
	tg := configuredGateway(t)

	resp, err := http.Get(tg.srv.URL + "/api/chatwoot/messages?conversationId=500")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, `{"error":"nope"}`, decodeJSON(t, resp.Body)["details"])
}

func TestHistory(t *testing.T) {
	tg := configuredGateway(t)

	resp, err := http.Get(tg.srv.URL + "/api/chatwoot/history?conversationId=42")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Messages []struct {
			ID      string `json:"id"`
			Sender  string `json:"sender"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Messages, 2, "private notes are skipped")
	assert.Equal(t, "user", out.Messages[0].Sender)
	assert.Equal(t, "hi", out.Messages[0].Content)
	assert.Equal(t, "agent", out.Messages[1].Sender)
	assert.Equal(t, "42-2", out.Messages[1].ID)
}

func sendForm(t *testing.T, url string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	resp, err := http.Post(url+"/api/webhook", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestForward_Errors(t *testing.T) {
	tg := configuredGateway(t)

	resp := sendForm(t, tg.srv.URL, map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = sendForm(t, tg.srv.URL, map[string]string{"agentId": "ghost", "message": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestForward_Chatwoot(t *testing.T) {
	tg := configuredGateway(t)
	require.NoError(t, tg.store.CreateAgent(context.Background(), &store.Agent{
		ID: "support", Name: "Support", ChatwootInboxIdentifier: "inbox-abc",
	}))

	resp := sendForm(t, tg.srv.URL, map[string]string{
		"agentId": "support", "sessionId": "s1", "userEmail": "a@example.com", "message": "hola",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chatwoot", resp.Header.Get("x-agent-integration"))
	assert.Equal(t, "314", resp.Header.Get("x-chatwoot-conversation"))
	assert.Equal(t, map[string]any{"forwarded": true, "conversationId": "314"}, decodeJSON(t, resp.Body))

	mappings, err := tg.store.ListConversations(context.Background(), "support")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "314", mappings[0].ChatwootConversationID)
}

func TestForward_Passthrough(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hi", r.FormValue("message"))
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("{\"type\":\"begin\"}\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("{\"type\":\"end\"}\n"))
	}))
	defer hook.Close()

	tg := newTestGateway(t, newTestConfig())
	require.NoError(t, tg.store.CreateAgent(context.Background(), &store.Agent{
		ID: "direct", Name: "Direct", WebhookURL: hook.URL,
	}))

	resp := sendForm(t, tg.srv.URL, map[string]string{"agentId": "direct", "sessionId": "s1", "message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "n8n", resp.Header.Get("x-agent-integration"))
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"begin\"}\n{\"type\":\"end\"}\n", string(body))
}

func TestEmailValidate(t *testing.T) {
	validator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("email") {
		case "down@example.com":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("maintenance"))
		case "weird@example.com":
			_, _ = w.Write([]byte(`[]`))
		default:
			_, _ = w.Write([]byte(`{"status":"VALID"}`))
		}
	}))
	defer validator.Close()

	cfg := newTestConfig()
	cfg.EmailValidation.URL = validator.URL
	tg := newTestGateway(t, cfg)

	post := func(body string) *http.Response {
		resp, err := http.Post(tg.srv.URL+"/api/email/validate", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post(`{"email":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(`nope`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(`{"email":"down@example.com"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	out := decodeJSON(t, resp.Body)
	assert.Equal(t, "validation_failed", out["error"])
	assert.Equal(t, "maintenance", out["details"])

	resp = post(`{"email":"weird@example.com"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "invalid_response", decodeJSON(t, resp.Body)["error"])

	resp = post(`{"email":"ok@example.com"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"status": "VALID", "provider": map[string]any{"status": "VALID"}}, decodeJSON(t, resp.Body))
}

func TestForward_StreamTokenGatesStream(t *testing.T) {
	cw := fakeChatwoot(t)
	cfg := newTestConfig()
	cfg.Chatwoot.BaseURL = cw.URL
	cfg.Chatwoot.AccountID = "1"
	cfg.Chatwoot.APIToken = "token"
	cfg.Auth.StreamTokenSecret = strings.Repeat("s", 32)
	tg := newTestGateway(t, cfg)
	require.NoError(t, tg.store.CreateAgent(context.Background(), &store.Agent{
		ID: "support", Name: "Support", ChatwootInboxIdentifier: "inbox-abc",
	}))

	resp := sendForm(t, tg.srv.URL, map[string]string{"agentId": "support", "sessionId": "s1", "message": "hola"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := resp.Header.Get("x-chatwoot-stream-token")
	require.NotEmpty(t, token)

	denied, err := http.Get(tg.srv.URL + "/api/chatwoot/stream?conversationId=314")
	require.NoError(t, err)
	denied.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, denied.StatusCode)

	other, err := http.Get(tg.srv.URL + "/api/chatwoot/stream?conversationId=999&token=" + token)
	require.NoError(t, err)
	other.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, other.StatusCode)

	stream := openStream(t, tg.srv.URL+"/api/chatwoot/stream?conversationId=314&token="+token)
	assert.Equal(t, "connected", stream.next(t).Event)
}
