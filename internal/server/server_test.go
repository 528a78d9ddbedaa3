// ABOUTME: Tests for the HTTP routes and server lifecycle.
// ABOUTME: Covers route mounting, debug auth, ledger queries, and graceful shutdown.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-bridge/internal/auth"
	"github.com/2389/handoff-bridge/internal/config"
	"github.com/2389/handoff-bridge/internal/ledger"
	"github.com/2389/handoff-bridge/internal/session"
)

const secret = "0123456789abcdef0123456789abcdef"

type fakeSessions []session.Session

func (f fakeSessions) List() []session.Session { return f }

type fakeLedger struct {
	ledger.Nop
	filter ledger.Filter
	err    error
}

func (f *fakeLedger) Entries(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []ledger.Entry{{ID: "1", Direction: ledger.AgentToUser, UserID: filter.UserID, Text: "hi"}}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBaseRoutes(t *testing.T) {
	h := Routes{
		Webhook:  func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("hook")) },
		Liveness: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("alive")) },
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("m")) }),
	}.Handler()

	tests := []struct {
		method, path string
		code         int
		body         string
	}{
		{http.MethodGet, "/health", http.StatusOK, "OK"},
		{http.MethodPost, "/webhook", http.StatusOK, "hook"},
		{http.MethodGet, "/webhook", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/test", http.StatusOK, "alive"},
		{http.MethodGet, "/metrics", http.StatusOK, "m"},
		{http.MethodGet, "/debug/sessions", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(h, tt.method, tt.path, "")
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestDebugSessionsRequiresToken(t *testing.T) {
	signer, err := auth.NewSigner(secret)
	require.NoError(t, err)
	token, err := signer.Issue("ops", time.Hour)
	require.NoError(t, err)

	h := Routes{
		Verifier: signer,
		Sessions: fakeSessions{{UserID: "42", Ownership: session.Agent}},
	}.Handler()

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/debug/sessions", "").Code)

	rec := serve(h, http.MethodGet, "/debug/sessions", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count    int `json:"count"`
		Sessions []struct {
			UserID    string `json:"user_id"`
			Ownership string `json:"ownership"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "42", body.Sessions[0].UserID)
	assert.Equal(t, session.Agent.String(), body.Sessions[0].Ownership)
}

func TestDebugLedger(t *testing.T) {
	signer, _ := auth.NewSigner(secret)
	token, _ := signer.Issue("ops", time.Hour)
	fl := &fakeLedger{}
	h := Routes{Verifier: signer, Ledger: fl, Logger: discard()}.Handler()

	rec := serve(h, http.MethodGet, "/debug/ledger?user=42&limit=5", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ledger.Filter{UserID: "42", Limit: 5}, fl.filter)
	assert.Contains(t, rec.Body.String(), `"direction":"agent_to_user"`)

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/debug/ledger?limit=x", token).Code)

	fl.err = errors.New("disk")
	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodGet, "/debug/ledger", token).Code)

	noLedger := Routes{Verifier: signer}.Handler()
	assert.Equal(t, http.StatusNotFound, serve(noLedger, http.MethodGet, "/debug/ledger", token).Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", config.TailscaleConfig{}, Routes{}.Handler(), discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsListenError(t *testing.T) {
	s := New("256.0.0.1:99999", config.TailscaleConfig{}, Routes{}.Handler(), discard())
	assert.Error(t, s.Run(context.Background()))
}

func TestTailscaleAuthKeyFromEnv(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err := resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	key, _ = resolveTailscaleAuthKey("tskey-config")
	assert.Equal(t, "tskey-config", key)
}
