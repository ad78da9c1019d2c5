// ABOUTME: Tests for the Chatwoot client against an httptest fake
// ABOUTME: Covers paths, auth header, encodings, envelope extraction and error propagation

package chatwoot

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatwoot-relay/internal/apierr"
	"github.com/2389/chatwoot-relay/internal/cache"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	inboxes := cache.New[int64](time.Minute, 16)
	t.Cleanup(inboxes.Close)

	return New(Config{
		BaseURL:    srv.URL + "/",
		AccountID:  "1",
		APIToken:   "token",
		InboxCache: inboxes,
	}, nil)
}

func TestClient_FetchMessages(t *testing.T) {
	var gotPath, gotToken string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("api_access_token")
		_, _ = w.Write([]byte(`{"payload":[{"id":1,"content":"a"},"junk",{"id":2,"content":"b"}]}`))
	})

	msgs, err := c.FetchMessages(t.Context(), "456")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/accounts/1/conversations/456/messages", gotPath)
	assert.Equal(t, "token", gotToken)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"id":1,"content":"a"}`, string(msgs[0]))
}

func TestExtractMessages_Envelopes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"messages", `{"messages":[{"id":1}]}`, 1},
		{"payload.messages", `{"payload":{"messages":[{"id":1},{"id":2}]}}`, 2},
		{"payload array", `{"payload":[{"id":1}]}`, 1},
		{"data.messages", `{"data":{"messages":[{"id":1}]}}`, 1},
		{"data array", `{"data":[{"id":1},{"id":2},{"id":3}]}`, 3},
		{"root array", `[{"id":1}]`, 1},
		{"messages wins over payload", `{"messages":[{"id":1}],"payload":[{"id":2},{"id":3}]}`, 1},
		{"nothing", `{"foo":"bar"}`, 0},
		{"not json", `oops`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMessages([]byte(tt.body))
			assert.NotNil(t, got)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestClient_UpstreamErrorCarriesStatusAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"closed"}`))
	})

	_, err := c.FetchMessages(t.Context(), "9")
	require.Error(t, err)

	var upErr *apierr.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusUnprocessableEntity, upErr.Status)
	assert.Equal(t, `{"error":"closed"}`, upErr.Body)
	assert.Equal(t, "fetch messages", upErr.Operation)
}

func TestClient_MissingCredentials(t *testing.T) {
	c := New(Config{BaseURL: "https://chat.example.com"}, nil)

	assert.False(t, c.Configured())
	_, err := c.FetchMessages(t.Context(), "1")

	var cfgErr *apierr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"CHATWOOT_ACCOUNT_ID", "CHATWOOT_API_TOKEN"}, cfgErr.Missing)
}

func TestClient_FindOrCreateContact(t *testing.T) {
	var body map[string]any
	var gotToken string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/api/v1/inboxes/inbox-abc/contacts", r.URL.Path)
		gotToken = r.Header.Get("api_access_token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":77,"source_id":"alice@example.com"}`))
	})

	contact, err := c.FindOrCreateContact(t.Context(), "inbox-abc", ContactRequest{
		SourceID: "alice@example.com",
		Name:     "Alice",
		Email:    "alice@example.com",
		CustomAttributes: map[string]any{
			"agentId": "agent-1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(77), contact.ID)
	assert.Equal(t, "alice@example.com", contact.SourceID)
	assert.Empty(t, gotToken, "public API must not receive the account token")
	assert.Equal(t, "alice@example.com", body["source_id"])
	assert.Equal(t, map[string]any{"agentId": "agent-1"}, body["custom_attributes"])
	_, hasIdentifier := body["identifier"]
	assert.False(t, hasIdentifier, "empty identifier is omitted")
}

func TestClient_PostPublicMessage_JSON(t *testing.T) {
	var body map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/api/v1/inboxes/inbox-abc/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":5,"conversation_id":42}`))
	})

	res, err := c.PostPublicMessage(t.Context(), PublicMessage{
		SourceID:        "src",
		InboxIdentifier: "inbox-abc",
		Content:         "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "42", res.ConversationID, "conversation_id wins over id")
	assert.Equal(t, map[string]string{
		"source_id":        "src",
		"content":          "hello",
		"content_type":     "text",
		"message_type":     "incoming",
		"inbox_identifier": "inbox-abc",
	}, body)
}

func TestClient_PostConversationMessage_Multipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/1/conversations/42/messages", r.URL.Path)
		assert.Equal(t, "token", r.Header.Get("api_access_token"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "caption", r.FormValue("content"))
		assert.Equal(t, "incoming", r.FormValue("message_type"))
		assert.Equal(t, "text", r.FormValue("content_type"))

		files := r.MultipartForm.File["attachments[]"]
		if !assert.Len(t, files, 2) {
			return
		}
		assert.Equal(t, "photo.png", files[0].Filename)
		assert.Equal(t, "attachment-2", files[1].Filename)

		f, err := files[0].Open()
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "png-bytes", string(data))

		_, _ = w.Write([]byte(`{"id":1}`))
	})

	err := c.PostConversationMessage(t.Context(), "42", "caption", []Attachment{
		{Filename: "photo.png", ContentType: "image/png", Data: []byte("png-bytes")},
		{Data: []byte("blob")},
	})
	require.NoError(t, err)
}

func TestClient_ResolveInboxNumericID_Memoized(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/v1/accounts/1/inboxes", r.URL.Path)
		_, _ = w.Write([]byte(`{"payload":[{"id":3,"inbox_identifier":"other"},{"inbox_id":9,"identifier":"inbox-abc"}]}`))
	})

	id, err := c.ResolveInboxNumericID(t.Context(), "inbox-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	id, err = c.ResolveInboxNumericID(t.Context(), "inbox-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")
}

func TestClient_ResolveInboxNumericID_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":3,"inbox_identifier":"other"}]`))
	})

	_, err := c.ResolveInboxNumericID(t.Context(), "inbox-abc")
	var nfErr *apierr.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "inbox-abc", nfErr.Key)
}

func TestClient_CreateConversation(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/1/conversations", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":101}`))
	})

	id, err := c.CreateConversation(t.Context(), CreateConversationRequest{
		SourceID:  "src",
		InboxID:   9,
		ContactID: 77,
	})
	require.NoError(t, err)

	assert.Equal(t, "101", id)
	assert.Equal(t, "open", body["status"])
	assert.EqualValues(t, 9, body["inbox_id"])
	assert.EqualValues(t, 77, body["contact_id"])
}

func TestClient_FetchConversationMeta(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/1/conversations/42", r.URL.Path)
		_, _ = w.Write([]byte(`{"payload":{"conversation":{"labels":["Humano","vip"]}}}`))
	})

	meta, err := c.FetchConversationMeta(t.Context(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"Humano", "vip"}, meta.Labels)
}

func TestExtractLabels_Order(t *testing.T) {
	assert.Equal(t, []string{"a"}, ExtractLabels([]byte(`{"labels":["a"],"data":{"labels":["b"]}}`)))
	assert.Equal(t, []string{"b"}, ExtractLabels([]byte(`{"data":{"labels":["b"]}}`)))
	assert.Equal(t, []string{"1", ""}, ExtractLabels([]byte(`{"conversation":{"labels":[1,null]}}`)))
	assert.Equal(t, []string{}, ExtractLabels([]byte(`{"labels":"humano"}`)))
}
