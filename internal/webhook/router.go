// ABOUTME: Classifies platform events and delivers genuine agent messages to the chat user.
// ABOUTME: Drops bookkeeping traffic and the bridge's own echoes.

package webhook

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/handoff-bridge/internal/channel"
	"github.com/2389/handoff-bridge/internal/handoff"
	"github.com/2389/handoff-bridge/internal/metrics"
	"github.com/2389/handoff-bridge/internal/outbound"
	"github.com/2389/handoff-bridge/internal/session"
)

// Verdict names the routing decision for one event.
type Verdict string

const (
	VerdictIgnoredType        Verdict = "ignored_type"
	VerdictIgnoredPrivate     Verdict = "ignored_private"
	VerdictIgnoredMarker      Verdict = "ignored_marker"
	VerdictIgnoredBoilerplate Verdict = "ignored_boilerplate"
	VerdictIgnoredSender      Verdict = "ignored_sender"
	VerdictIgnoredEmpty       Verdict = "ignored_empty"
	VerdictIgnoredStatus      Verdict = "ignored_status"
	VerdictClosedNotice       Verdict = "closed_notice"
	VerdictDelivered          Verdict = "delivered"
	VerdictUndeliverable      Verdict = "undeliverable"
	VerdictDeliveryFailed     Verdict = "delivery_failed"
	VerdictDuplicate          Verdict = "duplicate"
)

// Texts sent to the chat user.
const (
	DefaultAgentPrefix = "Operator: "
	DefaultClosedText  = "The operator has closed this conversation. Tap below to continue with the bot."
	BackToBotLabel     = "Back to bot"
)

// boilerplate marks platform content produced by the bridge's own notes.
var boilerplate = []string{
	session.HistoryHeader,
	handoff.NoteHistory,
	handoff.NoteRequested,
	handoff.NoteReturned,
	handoff.NoteStarted,
}

// Store is the subset of the session store the router needs.
type Store interface {
	ConversationLookup
	Update(userID string, fn func(*session.Session)) (session.Session, bool)
}

// Recorder receives a copy of each delivered message.
type Recorder interface {
	Record(ctx context.Context, direction, conversationID, text string)
}

// Config controls classification and delivery.
type Config struct {
	// Channel is the contact identifier prefix, such as "telegram".
	Channel string
	// AgentRoles are sender roles treated as human agents.
	AgentRoles  []string
	AgentPrefix string
	ClosedText  string
}

// Result is the routing outcome for one event.
type Result struct {
	Verdict Verdict
	UserID  string
}

// Router routes decoded events.
type Router struct {
	store    Store
	sender   channel.Sender
	ident    *Identifier
	cfg      Config
	roles    map[string]bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder Recorder
}

// NewRouter creates a router. metrics and recorder may be nil.
func NewRouter(store Store, sender channel.Sender, cfg Config, logger *slog.Logger, m *metrics.Metrics, rec Recorder) *Router {
	if len(cfg.AgentRoles) == 0 {
		cfg.AgentRoles = []string{"agent", "user"}
	}
	if cfg.AgentPrefix == "" {
		cfg.AgentPrefix = DefaultAgentPrefix
	}
	if cfg.ClosedText == "" {
		cfg.ClosedText = DefaultClosedText
	}
	roles := make(map[string]bool, len(cfg.AgentRoles))
	for _, r := range cfg.AgentRoles {
		roles[strings.ToLower(r)] = true
	}
	return &Router{
		store:    store,
		sender:   sender,
		ident:    NewIdentifier(cfg.Channel, store),
		cfg:      cfg,
		roles:    roles,
		logger:   logger.With("component", "webhook"),
		metrics:  m,
		recorder: rec,
	}
}

// Route classifies ev and performs at most one chat-channel send.
func (r *Router) Route(ctx context.Context, ev Event) Result {
	res := r.route(ctx, ev)
	r.metrics.Inbound(string(res.Verdict))
	return res
}

func (r *Router) route(ctx context.Context, ev Event) Result {
	switch e := ev.(type) {
	case StatusEvent:
		return r.routeStatus(ctx, e)
	case MessageEvent:
		if verdict, ignore := r.classify(e); ignore {
			return Result{Verdict: verdict}
		}
		return r.deliver(ctx, e)
	case IgnoredEvent:
		r.logger.Debug("ignoring event", "type", e.Type, "reason", e.Reason)
	}
	return Result{Verdict: VerdictIgnoredType}
}

// classify applies the suppression rules in order.
func (r *Router) classify(e MessageEvent) (Verdict, bool) {
	if e.Private {
		return VerdictIgnoredPrivate, true
	}
	if outbound.HasMarker(e.Content) {
		return VerdictIgnoredMarker, true
	}
	if IsBoilerplate(e.Content) {
		return VerdictIgnoredBoilerplate, true
	}
	if e.Direction != "outgoing" || !r.roles[e.SenderRole] {
		return VerdictIgnoredSender, true
	}
	// Attachment-only messages carry no text to relay.
	if strings.TrimSpace(e.Content) == "" {
		return VerdictIgnoredEmpty, true
	}
	return "", false
}

// IsBoilerplate reports whether content is one of the bridge's own notes.
func IsBoilerplate(content string) bool {
	for _, b := range boilerplate {
		if strings.Contains(content, b) {
			return true
		}
	}
	return false
}

func (r *Router) routeStatus(ctx context.Context, e StatusEvent) Result {
	if e.Status != "resolved" {
		return Result{Verdict: VerdictIgnoredStatus}
	}
	userID, ok := r.ident.UserFor(e.Raw, e.ConversationID)
	if !ok {
		r.logger.Warn("closed conversation has no known user", "conversation_id", e.ConversationID)
		return Result{Verdict: VerdictUndeliverable}
	}

	if err := r.sender.Send(ctx, userID, r.cfg.ClosedText, channel.Button{Label: BackToBotLabel, Action: channel.ActionBackToBot}); err != nil {
		r.logger.Error("sending closure notice failed", "user_id", userID, "error", err)
		return Result{Verdict: VerdictDeliveryFailed, UserID: userID}
	}
	return Result{Verdict: VerdictClosedNotice, UserID: userID}
}

func (r *Router) deliver(ctx context.Context, e MessageEvent) Result {
	logger := r.logger.With("conversation_id", e.ConversationID)

	userID, ok := r.ident.UserFor(e.Raw, e.ConversationID)
	if !ok {
		logger.Warn("agent message has no known user, dropping")
		return Result{Verdict: VerdictUndeliverable}
	}

	first := false
	_, known := r.store.Update(userID, func(s *session.Session) {
		if !s.AgentHasResponded {
			s.AgentHasResponded = true
			first = true
		}
	})
	if !known {
		first = true
	}

	var buttons []channel.Button
	if first {
		buttons = append(buttons, channel.Button{Label: BackToBotLabel, Action: channel.ActionBackToBot})
	}

	text := r.cfg.AgentPrefix + e.Content
	if err := r.sender.Send(ctx, userID, text, buttons...); err != nil {
		logger.Error("delivering agent message failed", "user_id", userID, "error", err)
		if first && known {
			r.store.Update(userID, func(s *session.Session) { s.AgentHasResponded = false })
		}
		return Result{Verdict: VerdictDeliveryFailed, UserID: userID}
	}

	if r.recorder != nil {
		r.recorder.Record(ctx, "agent_to_user", e.ConversationID, e.Content)
	}
	logger.Info("delivered agent message", "user_id", userID, "first", first)
	return Result{Verdict: VerdictDelivered, UserID: userID}
}
