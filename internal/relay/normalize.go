// ABOUTME: Converts loosely-typed remote message payloads into ChatEvents
// ABOUTME: Applies the direction, privacy, id, de-duplication and pending-since filters

package relay

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/2389/chatwoot-relay/internal/cache"
)

const (
	// epochMillisThreshold separates second and millisecond epoch values.
	epochMillisThreshold = 9_999_999_999

	// pendingTolerance is how far before the pending-since instant a reply
	// may be stamped and still count as fresh.
	pendingTolerance = time.Second
)

// Context carries the per-call inputs of Normalize.
type Context struct {
	ConversationID string
	// PendingSince is when the local user last sent a message that is still
	// waiting for its first reply. Zero disables the stale-message guard.
	PendingSince time.Time
	// SynthesizeID lets a message without any remote id through with a
	// generated one. Webhook deliveries are single-shot so they set it.
	SynthesizeID bool
}

// Normalizer turns raw remote messages into ChatEvents. The seen set is
// shared by every path feeding the same subscribers.
type Normalizer struct {
	seen *cache.Cache[struct{}]
	now  func() time.Time
}

// NewNormalizer creates a normalizer recording emitted ids in seen.
func NewNormalizer(seen *cache.Cache[struct{}]) *Normalizer {
	return &Normalizer{seen: seen, now: time.Now}
}

// Normalize returns the ChatEvent for raw, or false when the message is not
// an agent-authored public message, has no id, was already emitted, or is
// older than the pending-since guard allows.
func (n *Normalizer) Normalize(raw []byte, nc Context) (*ChatEvent, bool) {
	msg := gjson.ParseBytes(raw)
	if !msg.IsObject() {
		return nil, false
	}

	kind := messageKind(msg)
	if kind != kindOutgoing {
		return nil, false
	}
	if msg.Get("private").Bool() {
		return nil, false
	}

	remoteID := remoteMessageID(msg)
	if remoteID == "" {
		if !nc.SynthesizeID {
			return nil, false
		}
		remoteID = uuid.NewString()
	}

	id := CompositeID(nc.ConversationID, remoteID)
	if n.seen.Add(id, struct{}{}) {
		return nil, false
	}

	createdAt := n.timestamp(msg)
	if !nc.PendingSince.IsZero() && createdAt.Before(nc.PendingSince.Add(-pendingTolerance)) {
		// Stays marked so a later poll does not surface it either.
		return nil, false
	}

	attachments, audioURL := extractAttachments(msg, id)
	return &ChatEvent{
		ID:             id,
		ConversationID: nc.ConversationID,
		RemoteID:       remoteID,
		Content:        msg.Get("content").String(),
		Direction:      DirectionOutbound,
		CreatedAt:      createdAt,
		Attachments:    attachments,
		AudioURL:       audioURL,
	}, true
}

type messageKindValue int

const (
	kindUnknown messageKindValue = iota
	kindIncoming
	kindOutgoing
	kindActivity
)

// messageKind classifies message_type, treating activity markers and system
// senders as activity regardless of the declared type.
func messageKind(msg gjson.Result) messageKindValue {
	if msg.Get("content_attributes.event").Exists() && msg.Get("content_attributes.event").Type != gjson.Null {
		return kindActivity
	}
	if strings.EqualFold(msg.Get("sender.type").String(), "system") {
		return kindActivity
	}

	t := msg.Get("message_type")
	switch t.Type {
	case gjson.String:
		switch strings.ToLower(t.Str) {
		case "outgoing":
			return kindOutgoing
		case "incoming":
			return kindIncoming
		case "activity":
			return kindActivity
		}
	case gjson.Number:
		switch t.Num {
		case 0:
			return kindIncoming
		case 1:
			return kindOutgoing
		case 2:
			return kindActivity
		}
	}
	return kindUnknown
}

// remoteMessageID picks the first usable id field.
func remoteMessageID(msg gjson.Result) string {
	for _, field := range []string{"id", "message_id", "created_at", "uuid", "timestamp"} {
		r := msg.Get(field)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		if s := r.String(); s != "" {
			return s
		}
	}
	return ""
}

// timestamp resolves created_at, created_at_i or timestamp, falling back to now.
func (n *Normalizer) timestamp(msg gjson.Result) time.Time {
	return resolveTimestamp(msg, n.now)
}

func resolveTimestamp(msg gjson.Result, now func() time.Time) time.Time {
	for _, field := range []string{"created_at", "created_at_i", "timestamp"} {
		r := msg.Get(field)
		switch r.Type {
		case gjson.Number:
			return epochToTime(r.Num)
		case gjson.String:
			if t, ok := parseDate(r.Str); ok {
				return t
			}
			return now()
		}
	}
	return now()
}

func epochToTime(v float64) time.Time {
	if v > epochMillisThreshold {
		return time.UnixMilli(int64(v))
	}
	return time.UnixMilli(int64(v * 1000))
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// extractAttachments maps raw attachments, skipping entries without a URL.
// The first audio attachment is also returned as the audio URL.
func extractAttachments(msg gjson.Result, messageID string) ([]Attachment, string) {
	raw := msg.Get("attachments")
	if !raw.IsArray() {
		return nil, ""
	}

	var (
		attachments []Attachment
		audioURL    string
	)
	for i, a := range raw.Array() {
		url := firstString(a, "data_url", "file_url", "download_url", "url")
		if url == "" {
			continue
		}

		mimeType := firstString(a, "file_type", "content_type")
		name := firstString(a, "filename", "name")
		if name == "" {
			name = "attachment-" + strconv.Itoa(i+1)
		}
		id := a.Get("id").String()
		if id == "" {
			id = messageID + "-attachment-" + strconv.Itoa(i+1)
		}

		attachments = append(attachments, Attachment{
			ID:        id,
			Name:      name,
			MimeType:  mimeType,
			URL:       url,
			SizeBytes: firstInt(a, "file_size", "byte_size"),
		})

		if audioURL == "" && strings.HasPrefix(strings.ToLower(mimeType), "audio") {
			audioURL = url
		}
	}
	return attachments, audioURL
}

func firstString(r gjson.Result, fields ...string) string {
	for _, f := range fields {
		if v := r.Get(f); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func firstInt(r gjson.Result, fields ...string) int64 {
	for _, f := range fields {
		if v := r.Get(f); v.Exists() && v.Type != gjson.Null {
			return v.Int()
		}
	}
	return 0
}
