// ABOUTME: Ordered extractor chains over heterogeneous webhook payloads
// ABOUTME: Finds the event name, message, conversation, conversation id and labels

package webhook

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Payload is what the relay needs out of one webhook delivery.
type Payload struct {
	Event          string
	Message        gjson.Result
	Conversation   gjson.Result
	ConversationID string
	Labels         []string
	// HasLabels distinguishes an empty label list from no label list.
	HasLabels bool
}

// extractor looks for one value in the payload.
type extractor func(root gjson.Result, event string) (gjson.Result, bool)

func atPath(path string, valid func(gjson.Result) bool) extractor {
	return func(root gjson.Result, _ string) (gjson.Result, bool) {
		r := root.Get(path)
		if !r.Exists() || !valid(r) {
			return gjson.Result{}, false
		}
		return r, true
	}
}

// rootFor treats the root itself as the value for events with the prefix.
func rootFor(prefix string, valid func(gjson.Result) bool) extractor {
	return func(root gjson.Result, event string) (gjson.Result, bool) {
		if !strings.HasPrefix(event, prefix) || !valid(root) {
			return gjson.Result{}, false
		}
		return root, true
	}
}

func firstMatch(root gjson.Result, event string, chain []extractor) gjson.Result {
	for _, ex := range chain {
		if r, ok := ex(root, event); ok {
			return r
		}
	}
	return gjson.Result{}
}

func isMessage(r gjson.Result) bool {
	if !r.IsObject() {
		return false
	}
	for _, f := range []string{"content", "message_type", "conversation_id", "attachments"} {
		if r.Get(f).Exists() {
			return true
		}
	}
	return false
}

// hasMessageBody is the stricter test for a root-level message, where
// conversation_id alone is ambiguous.
func hasMessageBody(r gjson.Result) bool {
	return r.IsObject() && (r.Get("content").Exists() || r.Get("message_type").Exists())
}

func isConversation(r gjson.Result) bool {
	return r.IsObject() && (r.Get("id").Exists() || r.Get("labels").Exists())
}

func isScalarID(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str) != ""
	case gjson.Number:
		return true
	}
	return false
}

var (
	eventPaths = []string{"event", "event_name", "type"}

	messageChain = []extractor{
		atPath("message", isMessage),
		atPath("data.message", isMessage),
		atPath("payload.message", isMessage),
		rootFor("message_", hasMessageBody),
	}

	conversationChain = []extractor{
		atPath("conversation", isConversation),
		atPath("data.conversation", isConversation),
		atPath("payload.conversation", isConversation),
		atPath("message.conversation", isConversation),
		rootFor("conversation_", isConversation),
	}

	labelPaths = []string{"labels", "data.labels", "payload.labels", "conversation.labels", "payload.conversation.labels"}
)

// Extract reads a webhook body. It never fails; missing parts are left zero.
func Extract(body []byte) Payload {
	root := gjson.ParseBytes(body)

	var p Payload
	for _, path := range eventPaths {
		if r := root.Get(path); r.Type == gjson.String && r.Str != "" {
			p.Event = r.Str
			break
		}
	}

	p.Message = firstMatch(root, p.Event, messageChain)
	p.Conversation = firstMatch(root, p.Event, conversationChain)
	p.ConversationID = conversationID(root, p)
	p.Labels, p.HasLabels = labels(root, p.Conversation)
	return p
}

func conversationID(root gjson.Result, p Payload) string {
	candidates := []gjson.Result{
		p.Message.Get("conversation_id"),
		p.Conversation.Get("id"),
		root.Get("conversation_id"),
		root.Get("data.conversation_id"),
		root.Get("payload.conversation_id"),
	}
	if strings.HasPrefix(p.Event, "conversation_") {
		candidates = append(candidates, root.Get("id"))
	}

	for _, c := range candidates {
		if isScalarID(c) {
			return strings.TrimSpace(c.String())
		}
	}
	return ""
}

func labels(root, conversation gjson.Result) ([]string, bool) {
	list := conversation.Get("labels")
	if !list.IsArray() {
		list = gjson.Result{}
		for _, path := range labelPaths {
			if r := root.Get(path); r.IsArray() {
				list = r
				break
			}
		}
	}
	if !list.IsArray() {
		return nil, false
	}

	items := list.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type == gjson.Null {
			out = append(out, "")
			continue
		}
		out = append(out, item.String())
	}
	return out, true
}
