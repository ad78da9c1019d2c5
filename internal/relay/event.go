// ABOUTME: Canonical chat event types relayed to browsers
// ABOUTME: Defines ChatEvent, attachments and the SSE payload envelopes

package relay

import "time"

// Direction tells who authored a message.
type Direction string

const (
	// DirectionInbound is a message written by the end user.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound is a message written by the agent or a human operator.
	DirectionOutbound Direction = "outbound"
)

// Attachment is a file attached to a remote message.
type Attachment struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ChatEvent is a normalized remote message. ID is stable across the polling
// and webhook paths so either can deliver it without duplicates.
type ChatEvent struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	RemoteID       string       `json:"remoteId"`
	Content        string       `json:"content"`
	Direction      Direction    `json:"direction"`
	CreatedAt      time.Time    `json:"createdAt"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	AudioURL       string       `json:"audioUrl,omitempty"`
}

// MessagePayload is the data of a chatwoot_message event.
type MessagePayload struct {
	ConversationID string     `json:"conversationId"`
	Message        *ChatEvent `json:"message"`
}

// HandoffPayload is the data of a chatwoot_handoff event.
type HandoffPayload struct {
	ConversationID string   `json:"conversationId"`
	Human          bool     `json:"human"`
	Labels         []string `json:"labels"`
}

// CompositeID joins a conversation id and a remote message id.
func CompositeID(conversationID, remoteID string) string {
	return conversationID + "-" + remoteID
}
