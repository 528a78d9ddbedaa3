// ABOUTME: Tests for the ownership state machine.
// ABOUTME: Uses fake resolver and outbound collaborators over a real memory store.

package handoff

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-bridge/internal/resolver"
	"github.com/2389/handoff-bridge/internal/session"
)

type fakeResolver struct {
	mu    sync.Mutex
	store *session.MemoryStore
	res   resolver.Result
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, id resolver.Identity) resolver.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.res.OK() {
		f.store.Upsert(id.UserID, func(s *session.Session) {
			s.RemoteContactID = f.res.ContactID
			s.RemoteConversationID = f.res.ConversationID
			s.Synthetic = f.res.Synthetic
		})
	}
	return f.res
}

type note struct{ conv, text string }

type fakeOutbound struct {
	mu        sync.Mutex
	notes     []note
	assigns   []*int64
	failNotes bool
}

func (f *fakeOutbound) SendNote(ctx context.Context, conversationID, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNotes {
		return false
	}
	f.notes = append(f.notes, note{conversationID, text})
	return true
}

func (f *fakeOutbound) SendTranscript(ctx context.Context, conversationID string, entries []session.Entry, heading string) bool {
	return f.SendNote(ctx, conversationID, heading+"\n\n"+session.RenderTranscript(entries))
}

func (f *fakeOutbound) SetAssignee(ctx context.Context, conversationID string, agentID *int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigns = append(f.assigns, agentID)
	return true
}

func (f *fakeOutbound) historyNotes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, nt := range f.notes {
		if strings.HasPrefix(nt.text, NoteHistory) {
			n++
		}
	}
	return n
}

func setup(res resolver.Result, cfg Config) (*Machine, *session.MemoryStore, *fakeResolver, *fakeOutbound) {
	store := session.NewMemoryStore()
	fr := &fakeResolver{store: store, res: res}
	fo := &fakeOutbound{}
	m := New(store, fr, fo, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	return m, store, fr, fo
}

var realConv = resolver.Result{ContactID: 1, ConversationID: "10", Outcome: resolver.OutcomeCreated}

func TestRequestHandoffSendsHistoryNoteAndUnassigns(t *testing.T) {
	m, store, _, fo := setup(realConv, Config{})
	store.AppendTranscript("u", session.RoleUser, "where is my order")
	store.AppendTranscript("u", session.RoleAutomated, "let me check")

	out := m.RequestHandoff(context.Background(), resolver.Identity{UserID: "u", FirstName: "Ann"})
	assert.True(t, out.Requested)
	assert.False(t, out.AlreadyAgent)

	sess, _ := store.Get("u")
	assert.Equal(t, session.Agent, sess.Ownership)
	assert.True(t, sess.HistorySent)

	require.Len(t, fo.notes, 2)
	assert.Contains(t, fo.notes[0].text, "where is my order")
	assert.Contains(t, fo.notes[0].text, session.HistoryHeader)
	assert.Equal(t, NoteRequested, fo.notes[1].text)
	require.Len(t, fo.assigns, 1)
	assert.Nil(t, fo.assigns[0], "handoff must unassign")
	assert.True(t, m.IsAgentOwned("u"))
}

func TestRequestHandoffIdempotentWhileAgent(t *testing.T) {
	m, _, fr, fo := setup(realConv, Config{})

	m.RequestHandoff(context.Background(), resolver.Identity{UserID: "u"})
	out := m.RequestHandoff(context.Background(), resolver.Identity{UserID: "u"})

	assert.True(t, out.AlreadyAgent)
	assert.Equal(t, 1, fr.calls)
	assert.Equal(t, 1, fo.historyNotes())
}

func TestHistorySentOnceAcrossHandoffs(t *testing.T) {
	m, _, _, fo := setup(realConv, Config{BotAgentID: 9})
	ctx := context.Background()

	m.RequestHandoff(ctx, resolver.Identity{UserID: "u"})
	m.ReturnToAutomated(ctx, "u")
	m.RequestHandoff(ctx, resolver.Identity{UserID: "u"})

	assert.Equal(t, 1, fo.historyNotes())
}

func TestConcurrentHandoffSendsHistoryOnce(t *testing.T) {
	m, _, _, fo := setup(realConv, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RequestHandoff(context.Background(), resolver.Identity{UserID: "u"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fo.historyNotes())
}

func TestHistoryReleasedWhenSendFails(t *testing.T) {
	m, store, _, fo := setup(realConv, Config{})
	fo.failNotes = true

	m.RequestHandoff(context.Background(), resolver.Identity{UserID: "u"})
	sess, _ := store.Get("u")
	assert.False(t, sess.HistorySent)
	assert.Equal(t, session.Agent, sess.Ownership)
}

func TestRequestHandoffFailureLeavesOwnership(t *testing.T) {
	m, store, _, fo := setup(resolver.Result{Outcome: resolver.OutcomeFailed}, Config{})
	store.Upsert("u", nil)

	out := m.RequestHandoff(context.Background(), resolver.Identity{UserID: "u"})
	assert.False(t, out.Requested)

	sess, _ := store.Get("u")
	assert.Equal(t, session.Automated, sess.Ownership)
	assert.Empty(t, fo.notes)
}

func TestRequestHandoffSyntheticSkipsPlatform(t *testing.T) {
	m, store, _, fo := setup(resolver.Result{ConversationID: "local-x", Synthetic: true, Outcome: resolver.OutcomeSynthetic}, Config{})

	out := m.RequestHandoff(context.Background(), resolver.Identity{UserID: "u"})
	assert.True(t, out.Requested)
	assert.True(t, out.Synthetic)
	assert.Empty(t, fo.notes)
	assert.Empty(t, fo.assigns)

	sess, _ := store.Get("u")
	assert.Equal(t, session.Agent, sess.Ownership)
	assert.False(t, sess.HistorySent)
}

func TestRequestHandoffUnavailableWhenDisabled(t *testing.T) {
	store := session.NewMemoryStore()
	m := New(store, nil, nil, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	out := m.RequestHandoff(context.Background(), resolver.Identity{UserID: "u"})
	assert.True(t, out.Unavailable)
	assert.False(t, m.IsAgentOwned("u"))
}

func TestReturnToAutomatedReclaims(t *testing.T) {
	m, store, _, fo := setup(realConv, Config{BotAgentID: 9})
	ctx := context.Background()
	m.RequestHandoff(ctx, resolver.Identity{UserID: "u"})
	store.Upsert("u", func(s *session.Session) { s.AgentHasResponded = true })

	sess := m.ReturnToAutomated(ctx, "u")
	assert.Equal(t, session.Automated, sess.Ownership)
	assert.False(t, sess.AgentHasResponded)
	assert.Equal(t, NoteReturned, fo.notes[len(fo.notes)-1].text)
	last := fo.assigns[len(fo.assigns)-1]
	require.NotNil(t, last)
	assert.Equal(t, int64(9), *last)
}

func TestReturnToAutomatedWithoutBotAgent(t *testing.T) {
	m, _, _, fo := setup(realConv, Config{})
	ctx := context.Background()
	m.RequestHandoff(ctx, resolver.Identity{UserID: "u"})

	m.ReturnToAutomated(ctx, "u")
	assert.Len(t, fo.assigns, 1, "only the handoff unassign, no reclaim")
}

func TestStartResetsSession(t *testing.T) {
	m, store, _, fo := setup(realConv, Config{BotAgentID: 9})
	store.Upsert("u", func(s *session.Session) {
		s.Ownership = session.Agent
		s.Topics = []string{"old"}
	})

	sess := m.Start(context.Background(), resolver.Identity{UserID: "u", FirstName: "Ann"})
	assert.Equal(t, session.Automated, sess.Ownership)
	assert.Empty(t, sess.Topics)
	require.Len(t, fo.notes, 1)
	assert.Equal(t, NoteStarted+" Ann.", fo.notes[0].text)
}

func TestMatchesKeyword(t *testing.T) {
	m, _, _, _ := setup(realConv, Config{})

	tests := []struct {
		text string
		want bool
	}{
		{"I want to speak to an OPERATOR", true},
		{"can I talk to a human please", true},
		{"Позовите оператора", true},
		{"humans, anyone?", true},
		{"need an operator.", true},
		{"a question about humanity", false},
		{"we are a cooperator society", false},
		{"Hello", false},
		{"what are your opening hours", false},
	}
	for _, tt := range tests {
		if got := m.MatchesKeyword(tt.text); got != tt.want {
			t.Errorf("MatchesKeyword(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCustomKeywords(t *testing.T) {
	m, _, _, _ := setup(realConv, Config{Keywords: []string{" Escalate "}})
	assert.True(t, m.MatchesKeyword("please escalate this"))
	assert.False(t, m.MatchesKeyword("operator"))
}
