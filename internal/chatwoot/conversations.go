// ABOUTME: Conversation, message, assignment, and inbox endpoints of the Chatwoot API.
// ABOUTME: Conversation lookups filter client-side so a loose server filter never binds the wrong contact.

package chatwoot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Conversation is a platform conversation record.
type Conversation struct {
	ID        int64  `json:"id"`
	InboxID   int64  `json:"inbox_id"`
	Status    string `json:"status"`
	ContactID int64  `json:"contact_id,omitempty"`
	Meta      struct {
		Sender struct {
			ID         int64  `json:"id"`
			Identifier string `json:"identifier"`
		} `json:"sender"`
	} `json:"meta"`
}

// Contact returns the contact id from whichever field the API filled in.
func (c Conversation) Contact() int64 {
	if c.ContactID != 0 {
		return c.ContactID
	}
	return c.Meta.Sender.ID
}

// Message types accepted by the message endpoint.
const (
	MessageIncoming = "incoming"
	MessageOutgoing = "outgoing"
)

// NewMessage is the body for message creation.
type NewMessage struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
}

// Message is a created platform message.
type Message struct {
	ID int64 `json:"id"`
}

// Inbox is a platform inbox.
type Inbox struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
}

// FindOpenConversation returns the open conversation for a contact in the
// client's inbox. The bool is false when none exists.
func (c *Client) FindOpenConversation(ctx context.Context, contactID int64) (Conversation, bool, error) {
	query := url.Values{
		"inbox_id":   {strconv.FormatInt(c.inboxID, 10)},
		"contact_id": {strconv.FormatInt(contactID, 10)},
		"status":     {"open"},
	}
	data, err := c.do(ctx, http.MethodGet, "conversations", query, nil)
	if err != nil {
		return Conversation{}, false, err
	}
	convs, err := decodeList[Conversation](data)
	if err != nil {
		return Conversation{}, false, err
	}
	if conv, ok := c.pickOpen(convs, contactID); ok {
		return conv, true, nil
	}

	data, err = c.do(ctx, http.MethodGet, fmt.Sprintf("contacts/%d/conversations", contactID), nil, nil)
	if err != nil {
		return Conversation{}, false, err
	}
	convs, err = decodeList[Conversation](data)
	if err != nil {
		return Conversation{}, false, err
	}
	conv, ok := c.pickOpen(convs, contactID)
	return conv, ok, nil
}

func (c *Client) pickOpen(convs []Conversation, contactID int64) (Conversation, bool) {
	for _, conv := range convs {
		if conv.Contact() != contactID {
			continue
		}
		if conv.InboxID != 0 && conv.InboxID != c.inboxID {
			continue
		}
		if conv.Status != "" && conv.Status != "open" {
			continue
		}
		return conv, true
	}
	return Conversation{}, false
}

// CreateConversation opens a conversation for the contact in the client's inbox.
func (c *Client) CreateConversation(ctx context.Context, contactID int64, sourceID string) (Conversation, error) {
	body := map[string]any{
		"inbox_id":   c.inboxID,
		"contact_id": contactID,
		"status":     "open",
		"source_id":  sourceID,
	}
	data, err := c.do(ctx, http.MethodPost, "conversations", nil, body)
	if err != nil {
		return Conversation{}, err
	}
	return decodeObject[Conversation](data, "conversation")
}

// CreateMessage posts a message into a conversation.
func (c *Client) CreateMessage(ctx context.Context, conversationID string, msg NewMessage) (Message, error) {
	data, err := c.do(ctx, http.MethodPost, "conversations/"+url.PathEscape(conversationID)+"/messages", nil, msg)
	if err != nil {
		return Message{}, err
	}
	return decodeObject[Message](data, "message")
}

// UpdateAssignment assigns the conversation to agentID, or unassigns it when
// agentID is nil.
func (c *Client) UpdateAssignment(ctx context.Context, conversationID string, agentID *int64) error {
	body := map[string]any{}
	if agentID != nil {
		body["assignee_id"] = *agentID
	}
	_, err := c.do(ctx, http.MethodPost, "conversations/"+url.PathEscape(conversationID)+"/assignments", nil, body)
	return err
}

// ListInboxes returns the account's inboxes.
func (c *Client) ListInboxes(ctx context.Context) ([]Inbox, error) {
	data, err := c.do(ctx, http.MethodGet, "inboxes", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Inbox](data)
}

// Validate checks credentials by listing inboxes and confirms the configured
// inbox exists.
func (c *Client) Validate(ctx context.Context) error {
	inboxes, err := c.ListInboxes(ctx)
	if err != nil {
		return fmt.Errorf("listing inboxes: %w", err)
	}
	for _, in := range inboxes {
		if in.ID == c.inboxID {
			return nil
		}
	}
	return fmt.Errorf("inbox %d not found among %d inboxes", c.inboxID, len(inboxes))
}
