// ABOUTME: Matrix chat channel built on mautrix sync.
// ABOUTME: Each room is one user; buttons are rendered as !command hints.

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/handoff-bridge/internal/channel"
)

// Name is the identifier prefix for Matrix contacts.
const Name = "matrix"

// CommandPrefix starts every command typed in a room.
const CommandPrefix = "!"

// Room commands that stand in for buttons.
const (
	CommandOperator = "operator"
	CommandBot      = "bot"
)

const (
	typingTimeout  = 30 * time.Second
	networkTimeout = 10 * time.Second
)

// Config holds Matrix settings.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string
	AutoJoin     bool
}

// Channel is a Matrix chat channel.
type Channel struct {
	cfg    Config
	client *mautrix.Client
	md     goldmark.Markdown
	logger *slog.Logger
}

// New creates the Matrix client. No network calls are made until Run.
func New(cfg Config, logger *slog.Logger) (*Channel, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix homeserver, user_id and access_token are required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Channel{
		cfg:    cfg,
		client: client,
		md:     goldmark.New(),
		logger: logger.With("component", "matrix"),
	}, nil
}

// Name returns the contact identifier prefix.
func (c *Channel) Name() string { return Name }

// Run syncs with the homeserver until ctx is cancelled.
func (c *Channel) Run(ctx context.Context, h channel.Handler) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.client.Syncer)
	}
	syncer.OnSync(c.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(evCtx context.Context, evt *event.Event) {
		u, ok := c.toUpdate(evt)
		if !ok {
			return
		}
		go h(ctx, u)
	})
	if c.cfg.AutoJoin {
		syncer.OnEventType(event.StateMember, c.handleInvite)
	}

	c.logger.Info("connecting to matrix homeserver", "homeserver", c.cfg.Homeserver, "user_id", c.cfg.UserID)

	syncCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	syncErr := make(chan error, 1)
	go func() {
		syncErr <- c.client.SyncWithContext(syncCtx)
	}()

	select {
	case <-ctx.Done():
		c.logger.Info("shutting down matrix channel")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (c *Channel) handleInvite(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != c.cfg.UserID {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if !c.roomAllowed(evt.RoomID.String()) {
		return
	}
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		c.logger.Warn("joining room failed", "room", evt.RoomID.String(), "error", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

func (c *Channel) toUpdate(evt *event.Event) (channel.Update, bool) {
	if evt.Sender == id.UserID(c.cfg.UserID) {
		return channel.Update{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return channel.Update{}, false
	}
	roomID := evt.RoomID.String()
	if !c.roomAllowed(roomID) {
		c.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return channel.Update{}, false
	}
	u, ok := ParseMessage(content.Body)
	if !ok {
		return channel.Update{}, false
	}
	u.ID = evt.ID.String()
	u.UserID = roomID
	u.Username = evt.Sender.String()
	if local, _, err := evt.Sender.Parse(); err == nil {
		u.FirstName = local
	}
	return u, true
}

func (c *Channel) roomAllowed(roomID string) bool {
	if len(c.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range c.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// ParseMessage maps a room message body to an update. !operator and !bot
// become button actions; other ! words become commands.
func ParseMessage(body string) (channel.Update, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return channel.Update{}, false
	}
	if !strings.HasPrefix(body, CommandPrefix) {
		return channel.Update{Kind: channel.KindText, Text: body}, true
	}
	word := strings.ToLower(strings.TrimPrefix(strings.Fields(body)[0], CommandPrefix))
	switch word {
	case "":
		return channel.Update{Kind: channel.KindText, Text: body}, true
	case CommandOperator:
		return channel.Update{Kind: channel.KindAction, Action: channel.ActionConnectAgent}, true
	case CommandBot:
		return channel.Update{Kind: channel.KindAction, Action: channel.ActionBackToBot}, true
	default:
		return channel.Update{Kind: channel.KindCommand, Command: word}, true
	}
}

// RenderButtons appends a line per button telling the user what to type.
func RenderButtons(text string, buttons []channel.Button) string {
	if len(buttons) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n")
	for _, b := range buttons {
		cmd := ""
		switch b.Action {
		case channel.ActionConnectAgent:
			cmd = CommandOperator
		case channel.ActionBackToBot:
			cmd = CommandBot
		default:
			continue
		}
		fmt.Fprintf(&sb, "\n%s: type `%s%s`", b.Label, CommandPrefix, cmd)
	}
	return sb.String()
}

func (c *Channel) renderHTML(body string) string {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(body), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// Send posts a message to the user's room.
func (c *Channel) Send(ctx context.Context, userID, text string, buttons ...channel.Button) error {
	body := RenderButtons(text, buttons)
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}
	if html := c.renderHTML(body); html != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	sendCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := c.client.SendMessageEvent(sendCtx, id.RoomID(userID), event.EventMessage, content); err != nil {
		return fmt.Errorf("sending matrix message: %w", err)
	}
	return nil
}

// Typing shows the typing indicator. Failures are only logged.
func (c *Channel) Typing(ctx context.Context, userID string) {
	typingCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := c.client.UserTyping(typingCtx, id.RoomID(userID), true, typingTimeout); err != nil {
		c.logger.Debug("failed to set typing indicator", "room", userID, "error", err)
	}
}

var _ channel.Channel = (*Channel)(nil)
