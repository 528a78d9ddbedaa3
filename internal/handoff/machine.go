// ABOUTME: Ownership state machine moving a conversation between the bot and human agents.
// ABOUTME: The only code that writes Session.Ownership.

package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/handoff-bridge/internal/metrics"
	"github.com/2389/handoff-bridge/internal/resolver"
	"github.com/2389/handoff-bridge/internal/session"
)

// Notes posted for agents. The inbound router treats these as bookkeeping.
const (
	NoteRequested = "The user requested a live operator."
	NoteReturned  = "The user returned to the bot."
	NoteStarted   = "Started a new conversation with"
	NoteHistory   = "Conversation history:"
)

// DefaultKeywords are phrases that mean "I want a human".
var DefaultKeywords = []string{
	"operator",
	"live agent",
	"human",
	"real person",
	"consultant",
	"speak to someone",
	"talk to someone",
	"support agent",
	"оператор",
	"агент",
	"консультант",
	"человек",
	"поддержка",
	"живой оператор",
}

// Store is the subset of the session store the machine needs.
type Store interface {
	Get(userID string) (session.Session, bool)
	Upsert(userID string, fn func(*session.Session)) (session.Session, bool)
	Transcript(userID string, limit int) []session.Entry
}

// Resolver finds or creates the user's remote records.
type Resolver interface {
	Resolve(ctx context.Context, id resolver.Identity) resolver.Result
}

// Outbound posts notes and assignment changes to the platform.
type Outbound interface {
	SendNote(ctx context.Context, conversationID, text string) bool
	SendTranscript(ctx context.Context, conversationID string, entries []session.Entry, heading string) bool
	SetAssignee(ctx context.Context, conversationID string, agentID *int64) bool
}

// Config controls the machine.
type Config struct {
	// BotAgentID is the platform agent that represents the bot. Zero means
	// assignment is not reclaimed when control returns to the bot.
	BotAgentID      int64
	TranscriptLimit int
	Keywords        []string
}

// Outcome reports how a handoff request ended.
type Outcome struct {
	// Requested is true when the user is now owned by an agent.
	Requested bool
	// AlreadyAgent is true when the request was a no-op.
	AlreadyAgent bool
	// Synthetic is true when no platform traffic could be sent.
	Synthetic bool
	// Unavailable is true when the platform integration is disabled.
	Unavailable bool
}

// Machine drives ownership transitions.
type Machine struct {
	store    Store
	resolver Resolver
	outbound Outbound
	cfg      Config
	keywords []string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a machine. A nil resolver or outbound disables platform
// integration; transitions then stay local.
func New(store Store, res Resolver, out Outbound, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Machine {
	if cfg.TranscriptLimit <= 0 {
		cfg.TranscriptLimit = 20
	}
	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Machine{
		store:    store,
		resolver: res,
		outbound: out,
		cfg:      cfg,
		keywords: lowered,
		logger:   logger.With("component", "handoff"),
		metrics:  m,
	}
}

// RemoteEnabled reports whether the platform integration is active.
func (m *Machine) RemoteEnabled() bool {
	return m.resolver != nil && m.outbound != nil
}

// MatchesKeyword reports whether text asks for a human. Phrases match
// anywhere; single words must start a word, and ASCII words must also end
// one (a trailing plural "s" allowed) so "humanity" does not match "human".
// Non-ASCII words keep their inflected endings, as in "оператора".
func (m *Machine) MatchesKeyword(text string) bool {
	text = strings.ToLower(text)
	for _, k := range m.keywords {
		if strings.ContainsFunc(k, unicode.IsSpace) {
			if strings.Contains(text, k) {
				return true
			}
			continue
		}
		if matchesWord(text, k) {
			return true
		}
	}
	return false
}

func matchesWord(text, word string) bool {
	wholeWord := isASCII(word)
	for from := 0; ; {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		from = start + 1
		if start > 0 {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			if isWordRune(r) {
				continue
			}
		}
		if !wholeWord {
			return true
		}
		rest := strings.TrimPrefix(text[end:], "s")
		if r, _ := utf8.DecodeRuneInString(rest); rest == "" || !isWordRune(r) {
			return true
		}
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// IsAgentOwned reports whether the automated responder must stay silent.
func (m *Machine) IsAgentOwned(userID string) bool {
	sess, ok := m.store.Get(userID)
	return ok && sess.Ownership != session.Automated
}

// Start (re)initializes the user's session under bot ownership and tells
// agents a new conversation began.
func (m *Machine) Start(ctx context.Context, id resolver.Identity) session.Session {
	sess, _ := m.store.Upsert(id.UserID, func(s *session.Session) {
		s.Ownership = session.Automated
		s.AgentHasResponded = false
		s.Topics = nil
		if s.DisplayName == "" {
			s.DisplayName = id.DisplayName()
		}
	})
	m.metrics.Transition("start")

	if !m.RemoteEnabled() {
		return sess
	}
	res := m.resolver.Resolve(ctx, id)
	if !res.OK() || res.Synthetic {
		return sess
	}
	m.outbound.SendNote(ctx, res.ConversationID, fmt.Sprintf("%s %s.", NoteStarted, id.DisplayName()))
	m.reclaim(ctx, res.ConversationID)

	sess, _ = m.store.Get(id.UserID)
	return sess
}

// RequestHandoff moves the user to agent ownership. If no conversation id can
// be obtained at all, ownership is left unchanged.
func (m *Machine) RequestHandoff(ctx context.Context, id resolver.Identity) Outcome {
	logger := m.logger.With("user_id", id.UserID)

	if !m.RemoteEnabled() {
		return Outcome{Unavailable: true}
	}
	if sess, ok := m.store.Get(id.UserID); ok && sess.Ownership == session.Agent {
		return Outcome{Requested: true, AlreadyAgent: true, Synthetic: sess.Synthetic}
	}

	res := m.resolver.Resolve(ctx, id)
	if !res.OK() {
		logger.Error("handoff failed: no conversation available")
		m.metrics.Transition("handoff_failed")
		return Outcome{}
	}

	m.setOwnership(id.UserID, session.HandoffRequested, func(s *session.Session) {
		if s.DisplayName == "" {
			s.DisplayName = id.DisplayName()
		}
	})

	if !res.Synthetic {
		m.sendHistoryOnce(ctx, id.UserID, res.ConversationID, logger)
		m.outbound.SendNote(ctx, res.ConversationID, NoteRequested)
		m.outbound.SetAssignee(ctx, res.ConversationID, nil)
	} else {
		logger.Warn("handoff on synthetic conversation, platform not notified")
	}

	m.setOwnership(id.UserID, session.Agent, nil)
	m.metrics.Transition("to_agent")
	logger.Info("conversation handed to agent", "conversation_id", res.ConversationID)
	return Outcome{Requested: true, Synthetic: res.Synthetic}
}

// sendHistoryOnce posts the transcript the first time a handoff succeeds.
// The flag is claimed before sending and released if the send fails.
func (m *Machine) sendHistoryOnce(ctx context.Context, userID, conversationID string, logger *slog.Logger) {
	claimed := false
	m.store.Upsert(userID, func(s *session.Session) {
		if !s.HistorySent {
			s.HistorySent = true
			claimed = true
		}
	})
	if !claimed {
		return
	}

	entries := m.store.Transcript(userID, m.cfg.TranscriptLimit)
	if m.outbound.SendTranscript(ctx, conversationID, entries, NoteHistory) {
		return
	}
	logger.Warn("transcript not delivered, will retry on next handoff")
	m.store.Upsert(userID, func(s *session.Session) {
		s.HistorySent = false
	})
}

// ReturnToAutomated hands the conversation back to the bot.
func (m *Machine) ReturnToAutomated(ctx context.Context, userID string) session.Session {
	sess := m.setOwnership(userID, session.Automated, func(s *session.Session) {
		s.AgentHasResponded = false
	})
	m.metrics.Transition("to_automated")
	m.logger.Info("conversation returned to bot", "user_id", userID)

	if m.RemoteEnabled() && sess.Syncable() {
		m.outbound.SendNote(ctx, sess.RemoteConversationID, NoteReturned)
		m.reclaim(ctx, sess.RemoteConversationID)
	}
	return sess
}

func (m *Machine) reclaim(ctx context.Context, conversationID string) {
	if m.cfg.BotAgentID == 0 {
		m.logger.Warn("no bot agent configured, leaving assignment unchanged", "conversation_id", conversationID)
		return
	}
	agentID := m.cfg.BotAgentID
	m.outbound.SetAssignee(ctx, conversationID, &agentID)
}

func (m *Machine) setOwnership(userID string, o session.Ownership, extra func(*session.Session)) session.Session {
	sess, _ := m.store.Upsert(userID, func(s *session.Session) {
		s.Ownership = o
		if extra != nil {
			extra(s)
		}
	})
	return sess
}
