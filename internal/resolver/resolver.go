// ABOUTME: Resolves a chat user to remote contact and conversation ids on the platform.
// ABOUTME: Survives create conflicts and coalesces concurrent lookups for the same user.

package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/2389/handoff-bridge/internal/chatwoot"
	"github.com/2389/handoff-bridge/internal/metrics"
	"github.com/2389/handoff-bridge/internal/session"
)

// Platform is the subset of the platform API the resolver needs.
type Platform interface {
	SearchContacts(ctx context.Context, q string) ([]chatwoot.Contact, error)
	ListContacts(ctx context.Context, page int) ([]chatwoot.Contact, error)
	CreateContact(ctx context.Context, nc chatwoot.NewContact) (chatwoot.CreateOutcome, chatwoot.Contact, error)
	FindOpenConversation(ctx context.Context, contactID int64) (chatwoot.Conversation, bool, error)
	CreateConversation(ctx context.Context, contactID int64, sourceID string) (chatwoot.Conversation, error)
}

// Store is the subset of the session store the resolver needs.
type Store interface {
	Get(userID string) (session.Session, bool)
	Upsert(userID string, fn func(*session.Session)) (session.Session, bool)
}

// Identity describes the chat user being resolved.
type Identity struct {
	UserID    string
	FirstName string
	LastName  string
	Username  string
}

// DisplayName picks the best human-readable name for the user.
func (id Identity) DisplayName() string {
	name := id.FirstName
	if id.LastName != "" {
		if name != "" {
			name += " "
		}
		name += id.LastName
	}
	if name == "" {
		name = id.Username
	}
	if name == "" {
		name = "User " + id.UserID
	}
	return name
}

// Outcome says how a resolution ended.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeCached
	OutcomeFound
	OutcomeCreated
	// OutcomeRecovered means a create conflict was resolved by re-reading.
	OutcomeRecovered
	// OutcomeSynthetic means only a local placeholder conversation id exists.
	OutcomeSynthetic
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCached:
		return "cached"
	case OutcomeFound:
		return "found"
	case OutcomeCreated:
		return "created"
	case OutcomeRecovered:
		return "recovered"
	case OutcomeSynthetic:
		return "synthetic"
	default:
		return "failed"
	}
}

// Result is the best-effort outcome of Resolve.
type Result struct {
	ContactID      int64
	ConversationID string
	Synthetic      bool
	Outcome        Outcome
}

// OK reports whether any conversation id, real or synthetic, is available.
func (r Result) OK() bool {
	return r.ConversationID != ""
}

// Config controls resolver behaviour.
type Config struct {
	// Channel prefixes the deterministic contact identifier, as in "telegram:42".
	Channel string
	// MaxListPages bounds the full contact listing scan after a conflict.
	MaxListPages int
}

// Resolver maps chat users to platform records.
type Resolver struct {
	platform Platform
	store    Store
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	group    singleflight.Group
}

// New creates a resolver. metrics may be nil.
func New(platform Platform, store Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	if cfg.Channel == "" {
		cfg.Channel = "telegram"
	}
	if cfg.MaxListPages <= 0 {
		cfg.MaxListPages = 20
	}
	return &Resolver{
		platform: platform,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "resolver"),
		metrics:  m,
	}
}

// SourceKey is the identifier the user's contact carries on the platform.
func (r *Resolver) SourceKey(userID string) string {
	return SourceKey(r.cfg.Channel, userID)
}

// SourceKey builds "<channel>:<userID>".
func SourceKey(channel, userID string) string {
	return channel + ":" + userID
}

// Resolve returns the user's remote ids, creating records as needed.
// Failures are logged and reflected in the Result, never returned.
func (r *Resolver) Resolve(ctx context.Context, id Identity) Result {
	if sess, ok := r.store.Get(id.UserID); ok && sess.Resolved() {
		return Result{
			ContactID:      sess.RemoteContactID,
			ConversationID: sess.RemoteConversationID,
			Outcome:        OutcomeCached,
		}
	}

	v, _, _ := r.group.Do(id.UserID, func() (any, error) {
		return r.resolve(ctx, id), nil
	})
	res, _ := v.(Result)
	r.metrics.Resolution(res.Outcome.String())
	return res
}

func (r *Resolver) resolve(ctx context.Context, id Identity) Result {
	logger := r.logger.With("user_id", id.UserID)

	sess, _ := r.store.Get(id.UserID)
	if sess.Resolved() {
		return Result{ContactID: sess.RemoteContactID, ConversationID: sess.RemoteConversationID, Outcome: OutcomeCached}
	}

	outcome := OutcomeFound
	contactID := sess.RemoteContactID
	if contactID == 0 {
		var step contactStep
		contactID, step = r.resolveContact(ctx, id, logger)
		switch step {
		case contactCreated:
			outcome = OutcomeCreated
		case contactRecovered:
			outcome = OutcomeRecovered
		case contactUnrecoverable:
			return r.synthesize(id.UserID, logger)
		case contactFailed:
			if sess.Synthetic {
				return Result{ConversationID: sess.RemoteConversationID, Synthetic: true, Outcome: OutcomeSynthetic}
			}
			return Result{Outcome: OutcomeFailed}
		}

		sess, _ = r.store.Upsert(id.UserID, func(s *session.Session) {
			if s.RemoteContactID == 0 {
				s.RemoteContactID = contactID
			}
			if s.DisplayName == "" {
				s.DisplayName = id.DisplayName()
			}
		})
		contactID = sess.RemoteContactID
	}

	conv, created, err := r.resolveConversation(ctx, contactID, r.SourceKey(id.UserID))
	if err != nil {
		logger.Warn("conversation resolution failed", "contact_id", contactID, "error", err)
		return r.synthesize(id.UserID, logger)
	}
	if created && outcome == OutcomeFound {
		outcome = OutcomeCreated
	}

	convID := strconv.FormatInt(conv.ID, 10)
	sess, _ = r.store.Upsert(id.UserID, func(s *session.Session) {
		if s.RemoteConversationID == "" || s.Synthetic {
			s.RemoteConversationID = convID
			s.Synthetic = false
		}
	})
	logger.Info("resolved remote conversation",
		"contact_id", sess.RemoteContactID,
		"conversation_id", sess.RemoteConversationID,
		"outcome", outcome.String())

	return Result{
		ContactID:      sess.RemoteContactID,
		ConversationID: sess.RemoteConversationID,
		Synthetic:      sess.Synthetic,
		Outcome:        outcome,
	}
}

type contactStep int

const (
	contactFound contactStep = iota
	contactCreated
	contactRecovered
	// contactUnrecoverable means a conflict could not be re-read.
	contactUnrecoverable
	contactFailed
)

// resolveContact runs search, create, and the conflict recovery reads.
func (r *Resolver) resolveContact(ctx context.Context, id Identity, logger *slog.Logger) (int64, contactStep) {
	key := r.SourceKey(id.UserID)

	if contact, ok, err := r.searchExact(ctx, key); err != nil {
		logger.Warn("contact search failed", "error", err)
	} else if ok {
		return contact.ID, contactFound
	}

	outcome, contact, err := r.platform.CreateContact(ctx, chatwoot.NewContact{
		Name:       id.DisplayName(),
		Identifier: key,
		Attributes: map[string]any{
			"source":   r.cfg.Channel,
			"user_id":  id.UserID,
			"username": id.Username,
		},
	})
	switch outcome {
	case chatwoot.Created:
		logger.Info("created contact", "contact_id", contact.ID)
		return contact.ID, contactCreated
	case chatwoot.CreateConflict:
		logger.Info("contact identifier taken, re-reading", "identifier", key)
	default:
		logger.Error("contact creation failed", "error", err)
		return 0, contactFailed
	}

	if contact, ok, err := r.searchExact(ctx, key); err != nil {
		logger.Warn("contact re-search failed", "error", err)
	} else if ok {
		return contact.ID, contactRecovered
	}

	if contact, ok := r.scanListing(ctx, key, logger); ok {
		return contact.ID, contactRecovered
	}

	logger.Error("contact exists remotely but could not be read back", "identifier", key)
	return 0, contactUnrecoverable
}

func (r *Resolver) searchExact(ctx context.Context, key string) (chatwoot.Contact, bool, error) {
	contacts, err := r.platform.SearchContacts(ctx, key)
	if err != nil {
		return chatwoot.Contact{}, false, err
	}
	for _, c := range contacts {
		if c.Identifier == key {
			return c, true, nil
		}
	}
	return chatwoot.Contact{}, false, nil
}

func (r *Resolver) scanListing(ctx context.Context, key string, logger *slog.Logger) (chatwoot.Contact, bool) {
	for page := 1; page <= r.cfg.MaxListPages; page++ {
		contacts, err := r.platform.ListContacts(ctx, page)
		if err != nil {
			logger.Warn("contact listing failed", "page", page, "error", err)
			return chatwoot.Contact{}, false
		}
		if len(contacts) == 0 {
			return chatwoot.Contact{}, false
		}
		for _, c := range contacts {
			if c.Identifier == key {
				return c, true
			}
		}
	}
	return chatwoot.Contact{}, false
}

func (r *Resolver) resolveConversation(ctx context.Context, contactID int64, sourceID string) (chatwoot.Conversation, bool, error) {
	conv, ok, err := r.platform.FindOpenConversation(ctx, contactID)
	if err != nil {
		return chatwoot.Conversation{}, false, fmt.Errorf("searching conversations: %w", err)
	}
	if ok {
		return conv, false, nil
	}

	conv, err = r.platform.CreateConversation(ctx, contactID, sourceID)
	if err != nil {
		return chatwoot.Conversation{}, false, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, true, nil
}

// synthesize binds a local-only conversation id so the chat side can keep
// working. A later successful resolution replaces it.
func (r *Resolver) synthesize(userID string, logger *slog.Logger) Result {
	placeholder := "local-" + uuid.NewString()
	sess, _ := r.store.Upsert(userID, func(s *session.Session) {
		if s.RemoteConversationID == "" {
			s.RemoteConversationID = placeholder
			s.Synthetic = true
		}
	})
	logger.Warn("using synthetic conversation id", "conversation_id", sess.RemoteConversationID)
	outcome := OutcomeSynthetic
	if !sess.Synthetic {
		outcome = OutcomeFound
	}
	return Result{
		ContactID:      sess.RemoteContactID,
		ConversationID: sess.RemoteConversationID,
		Synthetic:      sess.Synthetic,
		Outcome:        outcome,
	}
}
