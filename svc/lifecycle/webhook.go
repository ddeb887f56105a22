package lifecycle

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/trailpost/billing/pkg/gateway"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/subscription"
)

// WebhookHandler receives provider notifications, verifies them with the
// parser and reconciles them through the manager.
//
// Responses follow provider retry semantics: 2xx for events that were handled
// or can never be handled (unknown types, unknown users), 4xx for payloads
// that failed verification, 5xx when reconciliation failed and the provider
// should deliver again.
type WebhookHandler struct {
	manager *Manager
	parser  gateway.EventParser
	logger  *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(m *Manager, parser gateway.EventParser) *WebhookHandler {
	return &WebhookHandler{
		manager: m,
		parser:  parser,
		logger:  m.logger.With(logger.Component("webhook")),
	}
}

type webhookResponse struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, webhookResponse{Status: "error", Error: "method not allowed"})
		return
	}

	ev, err := h.parser.ParseEvent(r)
	switch {
	case errors.Is(err, gateway.ErrUnsupportedEvent):
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	case errors.Is(err, gateway.ErrInvalidSignature):
		h.logger.WarnContext(r.Context(), "webhook signature rejected", logger.Error(err))
		writeJSON(w, http.StatusUnauthorized, webhookResponse{Status: "error", Error: "invalid signature"})
		return
	case errors.Is(err, gateway.ErrMissingConfig):
		h.logger.ErrorContext(r.Context(), "webhook verification not configured", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Status: "error", Error: "not configured"})
		return
	case err != nil:
		h.logger.WarnContext(r.Context(), "malformed webhook", logger.Error(err))
		writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Error: "malformed event"})
		return
	}

	res, err := h.manager.HandleGatewayEvent(r.Context(), ev)
	switch subscription.KindOf(err) {
	case "":
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ok", Result: string(res)})
	case subscription.KindValidation:
		writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Error: err.Error()})
	case subscription.KindInternal:
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Status: "error", Error: "reconciliation failed"})
	default:
		// version races and similar: let the provider deliver again
		writeJSON(w, http.StatusConflict, webhookResponse{Status: "error", Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
