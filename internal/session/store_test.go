// ABOUTME: Tests for the in-memory session store.
// ABOUTME: Covers per-user atomicity, reverse lookup, and transcript windows.

package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCreatesAutomatedSession(t *testing.T) {
	s := NewMemoryStore()

	sess, created := s.Upsert("42", nil)
	assert.True(t, created)
	assert.Equal(t, "42", sess.UserID)
	assert.Equal(t, Automated, sess.Ownership)
	assert.False(t, sess.CreatedAt.IsZero())

	_, created = s.Upsert("42", func(s *Session) { s.DisplayName = "Ann" })
	assert.False(t, created)

	got, ok := s.Get("42")
	require.True(t, ok)
	assert.Equal(t, "Ann", got.DisplayName)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	s.Upsert("1", func(s *Session) { s.Topics = []string{"a"} })

	got, _ := s.Get("1")
	got.Topics[0] = "mutated"
	got.Ownership = Agent

	again, _ := s.Get("1")
	assert.Equal(t, []string{"a"}, again.Topics)
	assert.Equal(t, Automated, again.Ownership)
}

func TestGetMissing(t *testing.T) {
	s := NewMemoryStore()
	s.AppendTranscript("7", RoleUser, "hi")

	_, ok := s.Get("7")
	assert.False(t, ok, "transcript alone must not create a session")
}

func TestConcurrentUpsertIsAtomicPerUser(t *testing.T) {
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Upsert("u", func(s *Session) {
				s.Topics = append(s.Topics, "x")
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get("u")
	assert.Len(t, got.Topics, 100)
}

func TestSlowMutatorDoesNotBlockOtherUsers(t *testing.T) {
	s := NewMemoryStore()
	release := make(chan struct{})
	entered := make(chan struct{})

	go s.Upsert("slow", func(*Session) {
		close(entered)
		<-release
	})
	<-entered

	done := make(chan struct{})
	go func() {
		s.Upsert("fast", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("upsert for another user blocked behind a slow mutator")
	}
	close(release)
}

func TestUpdateOnlyTouchesExisting(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Update("ghost", func(s *Session) { s.AgentHasResponded = true })
	assert.False(t, ok)
	_, exists := s.Get("ghost")
	assert.False(t, exists)

	s.Upsert("real", nil)
	sess, ok := s.Update("real", func(s *Session) { s.AgentHasResponded = true })
	assert.True(t, ok)
	assert.True(t, sess.AgentHasResponded)
}

func TestFindByRemoteConversationID(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		id := fmt.Sprint(i)
		s.Upsert(id, func(s *Session) { s.RemoteConversationID = "conv-" + id })
	}

	userID, ok := s.FindByRemoteConversationID("conv-3")
	assert.True(t, ok)
	assert.Equal(t, "3", userID)

	_, ok = s.FindByRemoteConversationID("conv-99")
	assert.False(t, ok)

	_, ok = s.FindByRemoteConversationID("")
	assert.False(t, ok)
}

func TestTranscriptLimitKeepsNewest(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 25; i++ {
		s.AppendTranscript("u", RoleUser, fmt.Sprintf("m%d", i))
	}

	entries := s.Transcript("u", 20)
	require.Len(t, entries, 20)
	assert.Equal(t, "m5", entries[0].Text)
	assert.Equal(t, "m24", entries[19].Text)

	assert.Len(t, s.Transcript("u", 0), 25)
	assert.Nil(t, s.Transcript("nobody", 20))
}

func TestListSortedByUser(t *testing.T) {
	s := NewMemoryStore()
	s.Upsert("b", nil)
	s.Upsert("a", nil)
	s.AppendTranscript("c", RoleUser, "only transcript")

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].UserID)
	assert.Equal(t, "b", list[1].UserID)
}

func TestSessionPredicates(t *testing.T) {
	tests := []struct {
		name     string
		sess     Session
		resolved bool
		syncable bool
	}{
		{"empty", Session{}, false, false},
		{"real", Session{RemoteContactID: 1, RemoteConversationID: "9"}, true, true},
		{"synthetic", Session{RemoteConversationID: "tmp", Synthetic: true}, false, false},
		{"conversation without contact", Session{RemoteConversationID: "9"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.Resolved(); got != tt.resolved {
				t.Errorf("Resolved() = %v, want %v", got, tt.resolved)
			}
			if got := tt.sess.Syncable(); got != tt.syncable {
				t.Errorf("Syncable() = %v, want %v", got, tt.syncable)
			}
		})
	}
}

func TestRenderTranscript(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	out := RenderTranscript([]Entry{
		{Role: RoleUser, Text: "hello", Timestamp: ts},
		{Role: RoleAutomated, Text: "hi there", Timestamp: ts},
	})

	assert.True(t, strings.HasPrefix(out, HistoryHeader))
	assert.Contains(t, out, "[05.03.2024 14:07:09] Client: hello")
	assert.Contains(t, out, "[05.03.2024 14:07:09] Bot: hi there")
	assert.False(t, strings.HasSuffix(out, "\n"))

	assert.Equal(t, "No message history.", RenderTranscript(nil))
}
