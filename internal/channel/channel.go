// ABOUTME: Transport-neutral types for the end-user chat channel.
// ABOUTME: Adapters in subpackages turn Telegram and Matrix traffic into Updates.

package channel

import "context"

// Kind classifies an incoming update.
type Kind string

const (
	KindCommand Kind = "command"
	KindText    Kind = "text"
	KindAction  Kind = "action"
)

// Actions carried by affordance buttons.
const (
	ActionConnectAgent = "connect_agent"
	ActionBackToBot    = "back_to_bot"
)

// Commands the bot understands.
const (
	CommandStart = "start"
	CommandHelp  = "help"
)

// Update is one event from the chat channel.
type Update struct {
	// ID is unique per delivery and is used for dedupe.
	ID        string
	Kind      Kind
	UserID    string
	FirstName string
	LastName  string
	Username  string

	Command string
	Text    string
	Action  string
}

// Button is an affordance the user can press instead of typing.
type Button struct {
	Label  string
	Action string
}

// Sender delivers messages to a chat user.
type Sender interface {
	Send(ctx context.Context, userID, text string, buttons ...Button) error
	Typing(ctx context.Context, userID string)
}

// Handler processes one update.
type Handler func(ctx context.Context, u Update)

// Channel is a full chat transport.
type Channel interface {
	Sender
	// Name is the identifier prefix for contacts, such as "telegram".
	Name() string
	// Run delivers updates to h until ctx is cancelled.
	Run(ctx context.Context, h Handler) error
}
