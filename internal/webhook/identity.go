// ABOUTME: Finds which chat user a platform conversation belongs to.
// ABOUTME: Ordered field paths, then the session store, then a bounded deep search.

package webhook

import (
	"sort"
	"strings"
	"unicode"
)

// identifierPaths are tried in order; values carry the "<channel>:" prefix.
var identifierPaths = [][]string{
	{"conversation", "meta", "sender", "identifier"},
	{"meta", "sender", "identifier"},
	{"conversation", "contact_inbox", "source_id"},
	{"contact_inbox", "source_id"},
	{"contact", "identifier"},
}

// attributePaths hold the bare user id recorded at contact creation.
var attributePaths = [][]string{
	{"conversation", "meta", "sender", "additional_attributes", "user_id"},
	{"meta", "sender", "additional_attributes", "user_id"},
}

const maxSearchDepth = 6

// ConversationLookup maps a remote conversation to a user.
type ConversationLookup interface {
	FindByRemoteConversationID(conversationID string) (string, bool)
}

// Identifier extracts user ids from webhook payloads.
type Identifier struct {
	prefix string
	lookup ConversationLookup
}

// NewIdentifier creates an extractor for identifiers like "telegram:42".
func NewIdentifier(channel string, lookup ConversationLookup) *Identifier {
	return &Identifier{prefix: channel + ":", lookup: lookup}
}

// UserFor returns the chat user for a payload and conversation id.
func (x *Identifier) UserFor(raw map[string]any, conversationID string) (string, bool) {
	for _, path := range identifierPaths {
		if id, ok := x.strip(stringAt(raw, path...)); ok {
			return id, true
		}
	}
	for _, path := range attributePaths {
		if id := idString(valueAt(raw, path...)); id != "" {
			return id, true
		}
	}
	if x.lookup != nil {
		if id, ok := x.lookup.FindByRemoteConversationID(conversationID); ok {
			return id, true
		}
	}
	return x.search(raw, 0)
}

func (x *Identifier) strip(s string) (string, bool) {
	if !strings.HasPrefix(s, x.prefix) {
		return "", false
	}
	id := strings.TrimPrefix(s, x.prefix)
	return id, id != ""
}

// skipTopLevel names top-level keys the deep search never enters: on message
// events sender describes the agent and content is free text.
var skipTopLevel = map[string]bool{"sender": true, "content": true}

// search walks the payload for any prefixed identifier. Keys are visited in
// sorted order so the same payload always resolves to the same user.
func (x *Identifier) search(v any, depth int) (string, bool) {
	if depth > maxSearchDepth {
		return "", false
	}
	switch t := v.(type) {
	case string:
		id, ok := x.strip(t)
		if !ok || strings.ContainsFunc(id, unicode.IsSpace) {
			return "", false
		}
		return id, true
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if depth == 0 && skipTopLevel[k] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if id, ok := x.search(t[k], depth+1); ok {
				return id, true
			}
		}
	case []any:
		for _, child := range t {
			if id, ok := x.search(child, depth+1); ok {
				return id, true
			}
		}
	}
	return "", false
}
