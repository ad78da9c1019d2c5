// ABOUTME: Conversation creation, metadata and inbox id resolution
// ABOUTME: Memoizes numeric inbox ids behind public inbox identifiers

package chatwoot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/2389/chatwoot-relay/internal/apierr"
)

// CreateConversationRequest is the body for opening a conversation with
// account credentials.
type CreateConversationRequest struct {
	SourceID             string         `json:"source_id"`
	InboxID              int64          `json:"inbox_id"`
	ContactID            int64          `json:"contact_id"`
	Status               string         `json:"status"`
	AdditionalAttributes map[string]any `json:"additional_attributes,omitempty"`
}

// ConversationMeta is the conversation metadata the relay watches.
type ConversationMeta struct {
	Labels []string
}

// CreateConversation opens a conversation and returns its id.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (string, error) {
	if err := c.requirePrivate(); err != nil {
		return "", err
	}
	if req.Status == "" {
		req.Status = "open"
	}

	body, err := c.doJSON(ctx, "create conversation", http.MethodPost, c.accountPath("/conversations"), req, true)
	if err != nil {
		return "", err
	}

	id := firstOf(body, "id", "payload.id").String()
	if id == "" {
		return "", fmt.Errorf("create conversation: response carried no conversation id")
	}
	return id, nil
}

// FetchConversationMeta returns the labels currently applied to a conversation.
func (c *Client) FetchConversationMeta(ctx context.Context, conversationID string) (*ConversationMeta, error) {
	if err := c.requirePrivate(); err != nil {
		return nil, err
	}

	target := c.accountPath("/conversations/" + url.PathEscape(conversationID))
	body, err := c.doJSON(ctx, "fetch conversation", http.MethodGet, target, nil, true)
	if err != nil {
		return nil, err
	}

	return &ConversationMeta{Labels: ExtractLabels(body)}, nil
}

// ExtractLabels returns the first label array found under labels,
// data.labels, payload.labels, conversation.labels or
// payload.conversation.labels. Non-string labels are stringified.
func ExtractLabels(body []byte) []string {
	list, ok := firstArray(body, "labels", "data.labels", "payload.labels", "conversation.labels", "payload.conversation.labels")
	if !ok {
		return []string{}
	}

	items := list.Array()
	labels := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type == gjson.Null {
			labels = append(labels, "")
			continue
		}
		labels = append(labels, item.String())
	}
	return labels
}

// ResolveInboxNumericID returns the numeric id of the inbox behind a public
// identifier, consulting the inbox cache first.
func (c *Client) ResolveInboxNumericID(ctx context.Context, inboxIdentifier string) (int64, error) {
	if err := c.requirePrivate(); err != nil {
		return 0, err
	}

	if c.inboxIDs != nil {
		if id, ok := c.inboxIDs.Get(inboxIdentifier); ok {
			return id, nil
		}
	}

	body, err := c.doJSON(ctx, "list inboxes", http.MethodGet, c.accountPath("/inboxes"), nil, true)
	if err != nil {
		return 0, err
	}

	list, ok := firstArray(body, "", "payload", "data")
	if !ok {
		return 0, fmt.Errorf("list inboxes: unrecognized response shape")
	}

	var available []string
	for _, inbox := range list.Array() {
		identifier := firstOf([]byte(inbox.Raw), "inbox_identifier", "identifier").String()
		available = append(available, identifier)
		if identifier != inboxIdentifier {
			continue
		}

		id := firstOf([]byte(inbox.Raw), "id", "inbox_id").Int()
		if id == 0 {
			break
		}
		if c.inboxIDs != nil {
			c.inboxIDs.Set(inboxIdentifier, id)
		}
		return id, nil
	}

	c.logger.Error("inbox identifier not found in account",
		"inbox_identifier", inboxIdentifier,
		"account_id", c.AccountID,
		"available", available)
	return 0, &apierr.NotFoundError{Resource: "inbox", Key: inboxIdentifier}
}
