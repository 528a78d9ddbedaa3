// ABOUTME: HTTP routes for the webhook, liveness, metrics, and debug endpoints.
// ABOUTME: Debug endpoints are mounted only when a token verifier is configured.

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/handoff-bridge/internal/auth"
	"github.com/2389/handoff-bridge/internal/ledger"
	"github.com/2389/handoff-bridge/internal/session"
)

// SessionLister lists the in-memory sessions.
type SessionLister interface {
	List() []session.Session
}

// Routes holds what the HTTP surface serves. Metrics, Verifier, Sessions
// and Ledger are optional.
type Routes struct {
	Webhook     http.HandlerFunc
	Liveness    http.HandlerFunc
	Metrics     http.Handler
	MetricsPath string
	Verifier    auth.Verifier
	Sessions    SessionLister
	Ledger      ledger.Ledger
	Logger      *slog.Logger
}

// Handler builds the chi router.
func (rt Routes) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	if rt.Webhook != nil {
		r.Post("/webhook", rt.Webhook)
	}
	if rt.Liveness != nil {
		r.Get("/test", rt.Liveness)
	}
	if rt.Metrics != nil {
		path := rt.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, rt.Metrics)
	}
	if rt.Verifier != nil {
		r.Route("/debug", func(r chi.Router) {
			r.Use(auth.RequireBearer(rt.Verifier))
			r.Get("/sessions", rt.handleSessions)
			r.Get("/ledger", rt.handleLedger)
		})
	}
	return r
}

// handleHealth returns 200 OK if the server is alive.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (rt Routes) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []session.Session{}
	if rt.Sessions != nil {
		sessions = rt.Sessions.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (rt Routes) handleLedger(w http.ResponseWriter, r *http.Request) {
	if rt.Ledger == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ledger disabled"})
		return
	}
	q := r.URL.Query()
	f := ledger.Filter{
		UserID:         q.Get("user"),
		ConversationID: q.Get("conversation"),
		Limit:          100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}
	entries, err := rt.Ledger.Entries(r.Context(), f)
	if err != nil {
		if rt.Logger != nil {
			rt.Logger.Error("reading ledger failed", "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
