// ABOUTME: Sends messages and assignment changes from the bridge to the platform.
// ABOUTME: Tags bookkeeping traffic with markers so the webhook can drop its echo.

package outbound

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/handoff-bridge/internal/chatwoot"
	"github.com/2389/handoff-bridge/internal/metrics"
	"github.com/2389/handoff-bridge/internal/session"
)

// Markers prefixed to platform messages the bridge itself authored.
const (
	BotMarker      = "[BOT_MESSAGE]"
	InternalMarker = "[INTERNAL_MESSAGE]"
)

// Markers lists every prefix the inbound side treats as self-authored.
var Markers = []string{BotMarker, InternalMarker}

// HasMarker reports whether text starts with a self-authored marker.
func HasMarker(text string) bool {
	text = strings.TrimSpace(text)
	for _, m := range Markers {
		if strings.HasPrefix(text, m) {
			return true
		}
	}
	return false
}

// Platform is the subset of the platform API the router needs.
type Platform interface {
	CreateMessage(ctx context.Context, conversationID string, msg chatwoot.NewMessage) (chatwoot.Message, error)
	UpdateAssignment(ctx context.Context, conversationID string, agentID *int64) error
}

// Recorder receives a copy of every message the router delivers.
type Recorder interface {
	Record(ctx context.Context, direction, conversationID, text string)
}

// Options controls how a message is posted.
type Options struct {
	// Private notes are visible only to agents.
	Private bool
	// Incoming marks the message as authored by the end user.
	Incoming bool
	// Tag is prepended verbatim, usually one of the markers.
	Tag string
}

// Router posts to the platform. It never touches session state.
type Router struct {
	platform Platform
	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder Recorder
}

// New creates a router. metrics and recorder may be nil.
func New(platform Platform, logger *slog.Logger, m *metrics.Metrics, rec Recorder) *Router {
	return &Router{
		platform: platform,
		logger:   logger.With("component", "outbound"),
		metrics:  m,
		recorder: rec,
	}
}

// SendMessage posts text into a conversation. Failures are logged and
// reported as false.
func (r *Router) SendMessage(ctx context.Context, conversationID, text string, opts Options) bool {
	if conversationID == "" {
		return false
	}
	msgType := chatwoot.MessageOutgoing
	if opts.Incoming {
		msgType = chatwoot.MessageIncoming
	}

	_, err := r.platform.CreateMessage(ctx, conversationID, chatwoot.NewMessage{
		Content:     opts.Tag + text,
		MessageType: msgType,
		Private:     opts.Private,
	})
	r.metrics.Outbound("send_message", err == nil)
	if err != nil {
		r.logger.Error("sending message failed",
			"conversation_id", conversationID,
			"private", opts.Private,
			"error", err)
		return false
	}

	if r.recorder != nil {
		direction := "bot_to_platform"
		switch {
		case opts.Private:
			direction = "note"
		case opts.Incoming:
			direction = "user_to_platform"
		}
		r.recorder.Record(ctx, direction, conversationID, text)
	}
	return true
}

// SetAssignee assigns the conversation to agentID. A nil agentID unassigns,
// which is how a human agent is requested.
func (r *Router) SetAssignee(ctx context.Context, conversationID string, agentID *int64) bool {
	if conversationID == "" {
		return false
	}
	err := r.platform.UpdateAssignment(ctx, conversationID, agentID)
	r.metrics.Outbound("set_assignee", err == nil)
	if err != nil {
		r.logger.Error("updating assignment failed", "conversation_id", conversationID, "error", err)
		return false
	}
	return true
}

// ForwardUserMessage mirrors the user's own message into the conversation.
func (r *Router) ForwardUserMessage(ctx context.Context, conversationID, text string) bool {
	return r.SendMessage(ctx, conversationID, text, Options{Incoming: true})
}

// SendBotReply mirrors an automated reply so agents see the whole exchange.
func (r *Router) SendBotReply(ctx context.Context, conversationID, text string) bool {
	return r.SendMessage(ctx, conversationID, text, Options{Tag: BotMarker})
}

// SendNote posts a private agent-only note.
func (r *Router) SendNote(ctx context.Context, conversationID, text string) bool {
	return r.SendMessage(ctx, conversationID, text, Options{Private: true, Tag: InternalMarker})
}

// SendTranscript posts a rendered transcript snapshot as a private note.
func (r *Router) SendTranscript(ctx context.Context, conversationID string, entries []session.Entry, heading string) bool {
	text := session.RenderTranscript(entries)
	if heading != "" {
		text = heading + "\n\n" + text
	}
	return r.SendMessage(ctx, conversationID, text, Options{Private: true, Tag: InternalMarker})
}
