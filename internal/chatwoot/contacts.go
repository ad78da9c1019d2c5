// ABOUTME: Public inbox contact API
// ABOUTME: Creates or updates the contact behind a source id

package chatwoot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ContactRequest is the body for creating a contact in a public inbox.
// The platform treats SourceID as the idempotency key.
type ContactRequest struct {
	SourceID         string         `json:"source_id"`
	Name             string         `json:"name,omitempty"`
	Email            string         `json:"email,omitempty"`
	Identifier       string         `json:"identifier,omitempty"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

// Contact is the subset of the contact response the relay uses.
type Contact struct {
	ID       int64
	SourceID string
}

// FindOrCreateContact registers the contact for req.SourceID in the inbox.
func (c *Client) FindOrCreateContact(ctx context.Context, inboxIdentifier string, req ContactRequest) (*Contact, error) {
	if err := c.requirePublic(); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/inboxes/%s/contacts", url.PathEscape(inboxIdentifier))
	body, err := c.doJSON(ctx, "create contact", http.MethodPost, c.publicPath(path), req, false)
	if err != nil {
		return nil, err
	}

	contact := &Contact{
		ID:       firstOf(body, "id", "payload.id", "payload.contact.id").Int(),
		SourceID: firstOf(body, "source_id", "payload.source_id").String(),
	}
	if contact.SourceID == "" {
		contact.SourceID = req.SourceID
	}
	return contact, nil
}
