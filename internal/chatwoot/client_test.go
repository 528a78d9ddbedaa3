// ABOUTME: Tests for the Chatwoot REST client against an httptest server.
// ABOUTME: Covers envelopes, conflict detection, and conversation filtering.

package chatwoot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", APIKey: "secret", AccountID: 3, InboxID: 7})
	require.NoError(t, err)
	return c
}

func TestNewRequiresSettings(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x", APIKey: "k", AccountID: 1})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSearchContactsSendsTokenAndQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/3/contacts/search", r.URL.Path)
		assert.Equal(t, "telegram:42", r.URL.Query().Get("q"))
		assert.Equal(t, "secret", r.Header.Get("api_access_token"))
		_, _ = io.WriteString(w, `{"meta":{"count":1},"payload":[{"id":11,"name":"Ann","identifier":"telegram:42"}]}`)
	})

	contacts, err := c.SearchContacts(context.Background(), "telegram:42")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, int64(11), contacts[0].ID)
	assert.Equal(t, "telegram:42", contacts[0].Identifier)
}

func TestCreateContactOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    CreateOutcome
		wantID  int64
		wantErr bool
	}{
		{"created nested", 200, `{"payload":{"contact":{"id":5,"identifier":"telegram:1"},"contact_inbox":{"source_id":"x"}}}`, Created, 5, false},
		{"created flat", 200, `{"id":6,"identifier":"telegram:1"}`, Created, 6, false},
		{"conflict", 422, `{"message":"Identifier has already been taken"}`, CreateConflict, 0, false},
		{"other 422", 422, `{"message":"Name is invalid"}`, CreateFailed, 0, true},
		{"server error", 500, `boom`, CreateFailed, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)
				assert.Equal(t, float64(7), body["inbox_id"])
				assert.Equal(t, "telegram:1", body["identifier"])
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			outcome, contact, err := c.CreateContact(context.Background(), NewContact{Name: "A", Identifier: "telegram:1"})
			assert.Equal(t, tt.want, outcome)
			assert.Equal(t, tt.wantID, contact.ID)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFindOpenConversationIgnoresOtherContacts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/accounts/3/conversations":
			// Server ignored the contact filter and returned someone else's conversation.
			_, _ = io.WriteString(w, `{"data":{"payload":[{"id":1,"inbox_id":7,"status":"open","meta":{"sender":{"id":99}}}]}}`)
		case "/api/v1/accounts/3/contacts/11/conversations":
			_, _ = io.WriteString(w, `{"payload":[
				{"id":2,"inbox_id":7,"status":"resolved","meta":{"sender":{"id":11}}},
				{"id":3,"inbox_id":8,"status":"open","meta":{"sender":{"id":11}}},
				{"id":4,"inbox_id":7,"status":"open","meta":{"sender":{"id":11}}}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	conv, ok, err := c.FindOpenConversation(context.Background(), 11)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), conv.ID)
}

func TestFindOpenConversationNone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"payload":[]}`)
	})

	_, ok, err := c.FindOpenConversation(context.Background(), 11)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateMessageAndAssignment(t *testing.T) {
	var assignBodies []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/accounts/3/conversations/77/messages":
			var msg NewMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
			assert.Equal(t, "hello", msg.Content)
			assert.Equal(t, MessageOutgoing, msg.MessageType)
			assert.True(t, msg.Private)
			_, _ = io.WriteString(w, `{"id":501}`)
		case "/api/v1/accounts/3/conversations/77/assignments":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assignBodies = append(assignBodies, body)
			_, _ = io.WriteString(w, `null`)
		}
	})

	msg, err := c.CreateMessage(context.Background(), "77", NewMessage{Content: "hello", MessageType: MessageOutgoing, Private: true})
	require.NoError(t, err)
	assert.Equal(t, int64(501), msg.ID)

	require.NoError(t, c.UpdateAssignment(context.Background(), "77", nil))
	agent := int64(12)
	require.NoError(t, c.UpdateAssignment(context.Background(), "77", &agent))

	require.Len(t, assignBodies, 2)
	assert.Empty(t, assignBodies[0])
	assert.Equal(t, float64(12), assignBodies[1]["assignee_id"])
}

func TestValidate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"payload":[{"id":1,"name":"Web"},{"id":7,"name":"Telegram"}]}`)
	})
	assert.NoError(t, c.Validate(context.Background()))

	bad := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := bad.Validate(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
