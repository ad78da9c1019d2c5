// ABOUTME: Message posting and listing against conversations and public inboxes
// ABOUTME: Chooses JSON or multipart encoding based on attachment presence

package chatwoot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// PublicMessage is a contact-scoped message posted without a known conversation.
type PublicMessage struct {
	SourceID        string
	InboxIdentifier string
	Content         string
	Attachments     []Attachment
}

// PostResult reports the conversation a message landed in, when the platform says.
type PostResult struct {
	ConversationID string
}

// PostPublicMessage posts into a public inbox on behalf of a contact. The
// platform answers 404 or 422 when the contact has no open conversation.
func (c *Client) PostPublicMessage(ctx context.Context, msg PublicMessage) (*PostResult, error) {
	if err := c.requirePublic(); err != nil {
		return nil, err
	}

	target := c.publicPath(fmt.Sprintf("/inboxes/%s/messages", url.PathEscape(msg.InboxIdentifier)))

	var (
		body []byte
		err  error
	)
	if len(msg.Attachments) > 0 {
		fields := []formField{
			{"source_id", msg.SourceID},
			{"message_type", "incoming"},
			{"inbox_identifier", msg.InboxIdentifier},
		}
		if msg.Content != "" {
			fields = append(fields, formField{"content", msg.Content})
		}
		data, ctype, encErr := encodeMultipart(fields, msg.Attachments)
		if encErr != nil {
			return nil, fmt.Errorf("post public message: %w", encErr)
		}
		body, err = c.do(ctx, request{
			op:          "post public message",
			method:      http.MethodPost,
			url:         target,
			contentType: ctype,
			body:        data,
		})
	} else {
		body, err = c.doJSON(ctx, "post public message", http.MethodPost, target, map[string]string{
			"source_id":        msg.SourceID,
			"content":          msg.Content,
			"content_type":     "text",
			"message_type":     "incoming",
			"inbox_identifier": msg.InboxIdentifier,
		}, false)
	}
	if err != nil {
		return nil, err
	}

	return &PostResult{ConversationID: firstOf(body, "conversation_id", "id").String()}, nil
}

// PostConversationMessage posts an incoming message into a known conversation
// using account credentials.
func (c *Client) PostConversationMessage(ctx context.Context, conversationID, content string, attachments []Attachment) error {
	if err := c.requirePrivate(); err != nil {
		return err
	}

	target := c.accountPath(fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID)))

	if len(attachments) == 0 {
		_, err := c.doJSON(ctx, "post conversation message", http.MethodPost, target, map[string]string{
			"content":      content,
			"message_type": "incoming",
			"content_type": "text",
		}, true)
		return err
	}

	var fields []formField
	if content != "" {
		fields = append(fields, formField{"content", content})
	}
	fields = append(fields,
		formField{"message_type", "incoming"},
		formField{"content_type", "text"},
	)
	data, ctype, err := encodeMultipart(fields, attachments)
	if err != nil {
		return fmt.Errorf("post conversation message: %w", err)
	}
	_, err = c.do(ctx, request{
		op:          "post conversation message",
		method:      http.MethodPost,
		url:         target,
		contentType: ctype,
		body:        data,
		private:     true,
	})
	return err
}

// FetchMessages returns the raw message objects of a conversation. The list
// is found under whichever envelope the platform version uses.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]json.RawMessage, error) {
	if err := c.requirePrivate(); err != nil {
		return nil, err
	}

	target := c.accountPath(fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID)))
	body, err := c.doJSON(ctx, "fetch messages", http.MethodGet, target, nil, true)
	if err != nil {
		return nil, err
	}

	return ExtractMessages(body), nil
}

// ExtractMessages finds the message list in a response body, trying
// messages, payload.messages, payload, data.messages, data and the root.
// Non-object entries are dropped.
func ExtractMessages(body []byte) []json.RawMessage {
	list, ok := firstArray(body, "messages", "payload.messages", "payload", "data.messages", "data", "")
	if !ok {
		return []json.RawMessage{}
	}

	items := list.Array()
	messages := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		messages = append(messages, json.RawMessage(item.Raw))
	}
	return messages
}
