// ABOUTME: Builds a two-sided transcript from raw remote messages
// ABOUTME: Used by the history route to rebuild a chat after a reload

package relay

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"

	"github.com/tidwall/gjson"
)

// Sender identifies the author side of a history message.
type Sender string

const (
	SenderAgent Sender = "agent"
	SenderUser  Sender = "user"
)

// HistoryMessage is one public message of a conversation transcript.
type HistoryMessage struct {
	ID          string       `json:"id"`
	Sender      Sender       `json:"sender"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	Attachments []Attachment `json:"attachments,omitempty"`
	AudioURL    string       `json:"audioUrl,omitempty"`
}

// NormalizeHistory converts raw messages of both directions into a transcript
// sorted by creation time. Private notes, activity entries and messages
// without an id are left out.
func NormalizeHistory(conversationID string, raws []json.RawMessage) []HistoryMessage {
	history := make([]HistoryMessage, 0, len(raws))
	for _, raw := range raws {
		msg := gjson.ParseBytes(raw)
		if !msg.IsObject() || msg.Get("private").Bool() {
			continue
		}

		var sender Sender
		switch messageKind(msg) {
		case kindOutgoing:
			sender = SenderAgent
		case kindIncoming:
			sender = SenderUser
		default:
			continue
		}

		remoteID := remoteMessageID(msg)
		if remoteID == "" {
			continue
		}
		id := CompositeID(conversationID, remoteID)
		attachments, audioURL := extractAttachments(msg, id)

		history = append(history, HistoryMessage{
			ID:          id,
			Sender:      sender,
			Content:     msg.Get("content").String(),
			CreatedAt:   resolveTimestamp(msg, time.Now),
			Attachments: attachments,
			AudioURL:    audioURL,
		})
	}

	slices.SortStableFunc(history, func(a, b HistoryMessage) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	return history
}
