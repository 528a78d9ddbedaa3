// ABOUTME: Decodes platform webhook payloads into a closed set of event variants.
// ABOUTME: Malformed or unknown payloads decode to IgnoredEvent rather than failing.

package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event is one of MessageEvent, StatusEvent, or IgnoredEvent.
type Event interface {
	isEvent()
}

// MessageEvent is a message created in a conversation.
type MessageEvent struct {
	MessageID      string
	ConversationID string
	Content        string
	Private        bool
	// Direction is "incoming", "outgoing", or another platform value.
	Direction string
	// SenderRole is the lowercased sender type, such as "user" or "contact".
	SenderRole string
	Raw        map[string]any
}

// StatusEvent is a conversation status change.
type StatusEvent struct {
	ConversationID string
	Status         string
	Raw            map[string]any
}

// IgnoredEvent is anything the bridge does not act on.
type IgnoredEvent struct {
	Type   string
	Reason string
}

func (MessageEvent) isEvent() {}
func (StatusEvent) isEvent()  {}
func (IgnoredEvent) isEvent() {}

// Event type names sent by the platform.
const (
	TypeMessageCreated    = "message_created"
	TypeMessageCreatedAlt = "message.created"
	TypeStatusChanged     = "conversation_status_changed"
)

// Decode turns a webhook body into an Event.
func Decode(body []byte) Event {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return IgnoredEvent{Reason: fmt.Sprintf("malformed payload: %v", err)}
	}

	typ, _ := raw["event"].(string)
	switch typ {
	case TypeMessageCreated, TypeMessageCreatedAlt:
		return decodeMessage(raw)
	case TypeStatusChanged:
		return decodeStatus(raw)
	default:
		return IgnoredEvent{Type: typ, Reason: "unhandled event type"}
	}
}

func decodeMessage(raw map[string]any) Event {
	// Some deliveries nest the message under "message"; fields there win.
	msg := raw
	if nested, ok := raw["message"].(map[string]any); ok {
		msg = merged(raw, nested)
	}

	ev := MessageEvent{
		MessageID:  idString(msg["id"]),
		Content:    stringAt(msg, "content"),
		Private:    boolish(msg["private"]),
		Direction:  direction(msg["message_type"]),
		SenderRole: strings.ToLower(stringAt(msg, "sender", "type")),
		Raw:        raw,
	}
	if ev.SenderRole == "" {
		ev.SenderRole = strings.ToLower(stringAt(msg, "sender_type"))
	}
	ev.ConversationID = idString(valueAt(msg, "conversation", "id"))
	if ev.ConversationID == "" {
		ev.ConversationID = idString(msg["conversation_id"])
	}
	if ev.ConversationID == "" {
		return IgnoredEvent{Type: TypeMessageCreated, Reason: "message without conversation"}
	}
	return ev
}

func decodeStatus(raw map[string]any) Event {
	ev := StatusEvent{Raw: raw}
	if conv, ok := raw["conversation"].(map[string]any); ok {
		ev.ConversationID = idString(conv["id"])
		ev.Status = stringAt(conv, "status")
	}
	if ev.ConversationID == "" {
		ev.ConversationID = idString(raw["id"])
	}
	if ev.Status == "" {
		ev.Status = stringAt(raw, "status")
	}
	if ev.ConversationID == "" {
		return IgnoredEvent{Type: TypeStatusChanged, Reason: "status change without conversation"}
	}
	return ev
}

func merged(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// valueAt walks nested objects along path.
func valueAt(m map[string]any, path ...string) any {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func stringAt(m map[string]any, path ...string) string {
	s, _ := valueAt(m, path...).(string)
	return s
}

// idString renders a JSON number or string id.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func boolish(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}

// direction maps string or numeric message types to names.
func direction(v any) string {
	switch t := v.(type) {
	case string:
		return strings.ToLower(t)
	case float64:
		switch int(t) {
		case 0:
			return "incoming"
		case 1:
			return "outgoing"
		case 2:
			return "activity"
		case 3:
			return "template"
		}
	}
	return ""
}
