// ABOUTME: HTTP endpoints receiving platform webhooks.
// ABOUTME: Answers 2xx for everything except failed deliveries of genuine agent messages.

package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

const maxBodyBytes = 1 << 20

// LivenessText is served by the test endpoint.
const LivenessText = "Webhook server is running!"

// Deduper drops repeated platform message ids.
type Deduper interface {
	Seen(key string) bool
	Forget(key string)
}

// Handler serves the webhook endpoints.
type Handler struct {
	router *Router
	dedupe Deduper
	logger *slog.Logger
}

// NewHandler creates a handler. A nil router answers every event with
// "chatwoot_disabled"; a nil dedupe disables message-id dedupe.
func NewHandler(router *Router, dedupe Deduper, logger *slog.Logger) *Handler {
	return &Handler{
		router: router,
		dedupe: dedupe,
		logger: logger.With("component", "webhook_http"),
	}
}

// ServeWebhook handles POST /webhook.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.router == nil {
		writeStatus(w, http.StatusOK, "chatwoot_disabled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("reading webhook body failed", "error", err)
		writeStatus(w, http.StatusOK, string(VerdictIgnoredType))
		return
	}

	ev := Decode(body)
	var dedupeKey string
	if msg, ok := ev.(MessageEvent); ok && h.dedupe != nil && msg.MessageID != "" {
		dedupeKey = "webhook:message:" + msg.MessageID
		if h.dedupe.Seen(dedupeKey) {
			writeStatus(w, http.StatusOK, string(VerdictDuplicate))
			return
		}
	}

	res := h.router.Route(r.Context(), ev)
	status := http.StatusOK
	if res.Verdict == VerdictDeliveryFailed {
		status = http.StatusBadGateway
		if dedupeKey != "" {
			h.dedupe.Forget(dedupeKey)
		}
	}
	writeStatus(w, status, string(res.Verdict))
}

// ServeLiveness handles GET /test.
func (h *Handler) ServeLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, LivenessText)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
