// ABOUTME: Per-user conversation state shared by the chat-channel and support-platform sides.
// ABOUTME: Defines Session, the Ownership enum, and transcript entries.

package session

import "time"

// Ownership records who currently answers the user.
type Ownership int

const (
	// Automated means the answer pipeline replies to the user.
	Automated Ownership = iota
	// HandoffRequested exists only while a handoff is being negotiated.
	HandoffRequested
	// Agent means a human agent owns the conversation.
	Agent
)

func (o Ownership) String() string {
	switch o {
	case Automated:
		return "automated"
	case HandoffRequested:
		return "handoff_requested"
	case Agent:
		return "agent"
	default:
		return "unknown"
	}
}

// MarshalText lets Ownership render as a string in debug JSON.
func (o Ownership) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Session is the state kept for one chat-user identity.
type Session struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`

	Ownership Ownership `json:"ownership"`

	// RemoteContactID is zero until resolved; once set it never changes.
	RemoteContactID int64 `json:"remote_contact_id,omitempty"`
	// RemoteConversationID is empty until resolved. When Synthetic is true it
	// is a local placeholder and nothing may be sent to the platform with it.
	RemoteConversationID string `json:"remote_conversation_id,omitempty"`
	Synthetic            bool   `json:"synthetic,omitempty"`

	HistorySent       bool `json:"history_sent"`
	AgentHasResponded bool `json:"agent_has_responded"`

	// Topics is the recent-question window used by the continuity gate.
	Topics []string `json:"topics,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resolved reports whether both remote identifiers are known and real.
func (s Session) Resolved() bool {
	return s.RemoteContactID != 0 && s.RemoteConversationID != "" && !s.Synthetic
}

// Syncable reports whether platform calls may be made for this session.
func (s Session) Syncable() bool {
	return s.RemoteConversationID != "" && !s.Synthetic
}

func (s Session) clone() Session {
	if s.Topics != nil {
		s.Topics = append([]string(nil), s.Topics...)
	}
	return s
}

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAutomated Role = "automated"
)

// Entry is one line of a user's transcript.
type Entry struct {
	Role      Role
	Text      string
	Timestamp time.Time
}
