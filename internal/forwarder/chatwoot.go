// ABOUTME: Chatwoot mode of the forwarder
// ABOUTME: Resolves the target conversation, posts the message and records the mapping

package forwarder

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/chatwoot-relay/internal/apierr"
	"github.com/2389/chatwoot-relay/internal/chatwoot"
	"github.com/2389/chatwoot-relay/internal/store"
)

// Forward posts req into the agent's Chatwoot inbox.
//
// The target conversation is, in order: the explicit req.ConversationID, the
// cached conversation for this inbox and source id, or a new one. A failing
// explicit target is an error; a failing cached target falls through to the
// create flow. The cache is only written after a post succeeds.
func (f *Forwarder) Forward(ctx context.Context, agent *store.Agent, req *Request) (*Result, error) {
	res, err := f.forward(ctx, agent, req)
	if err != nil {
		f.metrics.Forwarded(IntegrationChatwoot, "error")
		return nil, err
	}
	f.metrics.Forwarded(IntegrationChatwoot, "ok")
	return res, nil
}

func (f *Forwarder) forward(ctx context.Context, agent *store.Agent, req *Request) (*Result, error) {
	if f.chatwoot.BaseURL == "" {
		return nil, &apierr.ConfigurationError{Missing: []string{"CHATWOOT_BASE_URL"}}
	}

	email := strings.TrimSpace(req.UserEmail)
	session := strings.TrimSpace(req.SessionID)
	if agent.RequiresEmail && email == "" {
		return nil, apierr.Validation("userEmail is required for this agent")
	}

	sourceID := email
	if sourceID == "" {
		sourceID = session
	}
	if sourceID == "" {
		sourceID = "random::" + uuid.NewString()
	}

	inbox := agent.ChatwootInboxIdentifier
	contact, err := f.chatwoot.FindOrCreateContact(ctx, inbox, f.contactRequest(agent, req, sourceID, email, session))
	if err != nil {
		return nil, err
	}

	attachments := req.attachments()
	cacheKey := inbox + ":" + sourceID
	explicit := strings.TrimSpace(req.ConversationID)

	var conversationID string
	switch {
	case explicit != "":
		if err := f.chatwoot.PostConversationMessage(ctx, explicit, req.Message, attachments); err != nil {
			return nil, fmt.Errorf("posting to conversation %s: %w", explicit, err)
		}
		conversationID = explicit
	default:
		if cached, ok := f.cachedConversation(cacheKey); ok {
			if err := f.chatwoot.PostConversationMessage(ctx, cached, req.Message, attachments); err == nil {
				conversationID = cached
			} else {
				f.logger.Warn("cached conversation rejected message, creating a new one",
					"conversation", cached, "error", err)
				f.conversations.Delete(cacheKey)
			}
		}
		if conversationID == "" {
			conversationID, err = f.createFlow(ctx, agent, req, contact, sourceID, attachments)
			if err != nil {
				return nil, err
			}
		}
	}

	if conversationID == "" {
		// Public post succeeded without telling us where it landed.
		return &Result{}, nil
	}

	if f.conversations != nil {
		f.conversations.Set(cacheKey, conversationID)
	}
	if f.pending != nil {
		f.pending.Mark(conversationID)
	}
	f.recordMapping(ctx, agent, email, session, conversationID)

	result := &Result{ConversationID: conversationID}
	if f.tokens != nil {
		token, err := f.tokens.Issue(conversationID)
		if err != nil {
			f.logger.Error("failed to issue stream token", "conversation", conversationID, "error", err)
		} else {
			result.StreamToken = token
		}
	}
	return result, nil
}

// createFlow posts through the public inbox API and, when the contact has
// no open conversation, creates one with account credentials.
func (f *Forwarder) createFlow(ctx context.Context, agent *store.Agent, req *Request, contact *chatwoot.Contact, sourceID string, attachments []chatwoot.Attachment) (string, error) {
	inbox := agent.ChatwootInboxIdentifier
	posted, err := f.chatwoot.PostPublicMessage(ctx, chatwoot.PublicMessage{
		SourceID:        sourceID,
		InboxIdentifier: inbox,
		Content:         req.Message,
		Attachments:     attachments,
	})
	if err == nil {
		return posted.ConversationID, nil
	}
	if !apierr.IsStatus(err, http.StatusNotFound, http.StatusUnprocessableEntity) {
		return "", err
	}

	f.logger.Info("no open conversation for contact, creating one", "inbox", inbox, "agent", agent.ID)

	if missing := f.chatwoot.Missing(); len(missing) > 0 {
		return "", &apierr.ConfigurationError{Missing: missing}
	}
	inboxID, err := f.chatwoot.ResolveInboxNumericID(ctx, inbox)
	if err != nil {
		return "", err
	}
	if contact.ID == 0 {
		return "", fmt.Errorf("contact for %s has no id", sourceID)
	}

	attrs := map[string]any{"agentId": agent.ID, "sessionId": req.SessionID}
	if req.ConversationID != "" {
		attrs["conversationHint"] = req.ConversationID
	}
	conversationID, err := f.chatwoot.CreateConversation(ctx, chatwoot.CreateConversationRequest{
		SourceID:             sourceID,
		InboxID:              inboxID,
		ContactID:            contact.ID,
		AdditionalAttributes: attrs,
	})
	if err != nil {
		return "", err
	}

	if err := f.chatwoot.PostConversationMessage(ctx, conversationID, req.Message, attachments); err != nil {
		return "", fmt.Errorf("posting to new conversation %s: %w", conversationID, err)
	}
	return conversationID, nil
}

func (f *Forwarder) contactRequest(agent *store.Agent, req *Request, sourceID, email, session string) chatwoot.ContactRequest {
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		name = email
	}
	if name == "" {
		name = session
	}
	if name == "" {
		name = sourceID
	}

	attrs := map[string]any{"agentId": agent.ID, "sessionId": req.SessionID}
	if req.ConversationID != "" {
		attrs["conversationId"] = req.ConversationID
	}
	return chatwoot.ContactRequest{
		SourceID:         sourceID,
		Name:             name,
		Email:            email,
		Identifier:       email,
		CustomAttributes: attrs,
	}
}

func (f *Forwarder) cachedConversation(key string) (string, bool) {
	if f.conversations == nil {
		return "", false
	}
	return f.conversations.Get(key)
}

func (f *Forwarder) recordMapping(ctx context.Context, agent *store.Agent, email, session, conversationID string) {
	if f.mappings == nil || email == "" {
		return
	}
	err := f.mappings.UpsertConversation(ctx, &store.ConversationMapping{
		AgentID:                agent.ID,
		Email:                  email,
		SessionID:              session,
		ChatwootConversationID: conversationID,
	})
	if err != nil {
		f.logger.Error("failed to save conversation mapping",
			"agent", agent.ID, "conversation", conversationID, "error", err)
	}
}
