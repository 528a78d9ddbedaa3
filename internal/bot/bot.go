// ABOUTME: Handles chat-channel updates: commands, free text, and affordance buttons.
// ABOUTME: Runs the automated responder and mirrors traffic to the support platform.

package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/handoff-bridge/internal/channel"
	"github.com/2389/handoff-bridge/internal/continuity"
	"github.com/2389/handoff-bridge/internal/handoff"
	"github.com/2389/handoff-bridge/internal/ledger"
	"github.com/2389/handoff-bridge/internal/metrics"
	"github.com/2389/handoff-bridge/internal/rag"
	"github.com/2389/handoff-bridge/internal/resolver"
	"github.com/2389/handoff-bridge/internal/session"
)

// Store is the subset of the session store the bot needs.
type Store interface {
	Upsert(userID string, fn func(*session.Session)) (session.Session, bool)
	AppendTranscript(userID string, role session.Role, text string)
}

// Resolver finds or creates the user's remote records.
type Resolver interface {
	Resolve(ctx context.Context, id resolver.Identity) resolver.Result
}

// Outbound mirrors chat traffic to the platform.
type Outbound interface {
	ForwardUserMessage(ctx context.Context, conversationID, text string) bool
	SendBotReply(ctx context.Context, conversationID, text string) bool
}

// Deduper drops redelivered updates.
type Deduper interface {
	Seen(key string) bool
}

// UserRecorder receives a copy of each reply sent to a user.
type UserRecorder interface {
	RecordUser(ctx context.Context, direction, userID, text string)
}

// Deps wires the bot's collaborators. Resolver and Outbound are nil when
// the platform integration is disabled; Dedupe, Recorder, and Metrics are optional.
type Deps struct {
	Sender   channel.Sender
	Store    Store
	Machine  *handoff.Machine
	Resolver Resolver
	Outbound Outbound
	Gate     *continuity.Gate
	Answerer rag.Answerer
	Dedupe   Deduper
	Recorder UserRecorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Bot dispatches updates.
type Bot struct {
	Deps
	texts  Texts
	logger *slog.Logger
}

// New creates a bot.
func New(deps Deps, texts Texts) *Bot {
	return &Bot{
		Deps:   deps,
		texts:  texts.withDefaults(),
		logger: deps.Logger.With("component", "bot"),
	}
}

// Handle processes one update. It is safe to call from many goroutines.
func (b *Bot) Handle(ctx context.Context, u channel.Update) {
	if u.UserID == "" {
		return
	}
	if b.Dedupe != nil && u.ID != "" && b.Dedupe.Seen("chat:"+u.ID) {
		b.logger.Debug("dropping redelivered update", "update_id", u.ID)
		return
	}
	b.Metrics.ChatUpdate(string(u.Kind))

	switch u.Kind {
	case channel.KindCommand:
		switch u.Command {
		case channel.CommandStart:
			b.handleStart(ctx, u)
		default:
			b.handleHelp(ctx, u)
		}
	case channel.KindAction:
		switch u.Action {
		case channel.ActionConnectAgent:
			b.requestHandoff(ctx, u)
		case channel.ActionBackToBot:
			b.returnToBot(ctx, u)
		default:
			b.logger.Warn("unknown action", "action", u.Action, "user_id", u.UserID)
		}
	case channel.KindText:
		b.handleText(ctx, u)
	}
}

func identity(u channel.Update) resolver.Identity {
	return resolver.Identity{
		UserID:    u.UserID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}
}

func (b *Bot) connectButtons() []channel.Button {
	if !b.Machine.RemoteEnabled() {
		return nil
	}
	return []channel.Button{{Label: b.texts.ConnectLabel, Action: channel.ActionConnectAgent}}
}

func (b *Bot) send(ctx context.Context, userID, text string, buttons ...channel.Button) {
	if err := b.Sender.Send(ctx, userID, text, buttons...); err != nil {
		b.logger.Error("sending to chat failed", "user_id", userID, "error", err)
		return
	}
	if b.Recorder != nil {
		b.Recorder.RecordUser(ctx, ledger.BotToUser, userID, text)
	}
}

func (b *Bot) handleStart(ctx context.Context, u channel.Update) {
	id := identity(u)
	b.Machine.Start(ctx, id)
	b.send(ctx, u.UserID, b.texts.welcome(id.DisplayName()), b.connectButtons()...)
}

func (b *Bot) handleHelp(ctx context.Context, u channel.Update) {
	b.send(ctx, u.UserID, b.texts.Help, b.connectButtons()...)
}

func (b *Bot) requestHandoff(ctx context.Context, u channel.Update) {
	out := b.Machine.RequestHandoff(ctx, identity(u))
	switch {
	case out.Unavailable:
		b.send(ctx, u.UserID, b.texts.Unavailable)
	case out.AlreadyAgent:
		b.send(ctx, u.UserID, b.texts.AlreadyConnected)
	case out.Requested:
		b.send(ctx, u.UserID, b.texts.HandoffRequested)
	default:
		b.send(ctx, u.UserID, b.texts.HandoffFailed)
	}
}

func (b *Bot) returnToBot(ctx context.Context, u channel.Update) {
	b.Machine.ReturnToAutomated(ctx, u.UserID)
	b.send(ctx, u.UserID, b.texts.BackToBot, b.connectButtons()...)
}

func (b *Bot) handleText(ctx context.Context, u channel.Update) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return
	}
	id := identity(u)
	b.Store.AppendTranscript(u.UserID, session.RoleUser, text)

	sess, _ := b.Store.Upsert(u.UserID, func(s *session.Session) {
		if s.DisplayName == "" {
			s.DisplayName = id.DisplayName()
		}
	})

	conversationID := b.mirrorUserMessage(ctx, id, sess, text)

	// While an agent owns the chat every message, keywords included, is theirs.
	if b.Machine.IsAgentOwned(u.UserID) {
		return
	}
	if b.Machine.MatchesKeyword(text) {
		b.requestHandoff(ctx, u)
		return
	}

	b.Sender.Typing(ctx, u.UserID)
	decision := b.Gate.Observe(ctx, u.UserID, text)
	answer := b.Answerer.Answer(ctx, rag.Request{
		UserID:   u.UserID,
		Question: decision.Question,
		Context:  decision.Context,
	})
	b.Store.AppendTranscript(u.UserID, session.RoleAutomated, answer)

	b.send(ctx, u.UserID, answer+b.texts.Hint)
	if conversationID != "" {
		b.Outbound.SendBotReply(ctx, conversationID, answer)
	}
}

// mirrorUserMessage forwards the user's text to the platform and returns the
// conversation id usable for the reply, or "" when none is.
func (b *Bot) mirrorUserMessage(ctx context.Context, id resolver.Identity, sess session.Session, text string) string {
	if b.Resolver == nil || b.Outbound == nil {
		return ""
	}
	conversationID := sess.RemoteConversationID
	if !sess.Syncable() {
		res := b.Resolver.Resolve(ctx, id)
		if !res.OK() || res.Synthetic {
			return ""
		}
		conversationID = res.ConversationID
	}
	b.Outbound.ForwardUserMessage(ctx, conversationID, text)
	return conversationID
}
