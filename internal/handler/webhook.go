package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/tunevault/platform/internal/metrics"
	"github.com/tunevault/platform/internal/service"
)

// WebhookHandler handles Stripe webhook callbacks.
type WebhookHandler struct {
	purchases *service.PurchaseService
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(purchases *service.PurchaseService, m *metrics.Metrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{purchases: purchases, metrics: m, logger: logger}
}

// HandleStripeWebhook handles POST /webhooks/stripe.
// The raw body is required for signature verification.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("read webhook body", "error", err)
		h.respond(w, "", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.Warn("missing Stripe-Signature header")
		h.respond(w, "", http.StatusBadRequest)
		return
	}

	eventType, err := h.purchases.HandleStripeWebhook(r.Context(), body, sigHeader)
	if err != nil {
		h.logger.Error("process stripe webhook", "event_type", eventType, "error", err)
		h.metrics.Webhook(eventType, statusOf(err))
		RespondError(w, err)
		return
	}

	// Stripe expects 200 OK
	h.respond(w, eventType, http.StatusOK)
}

func (h *WebhookHandler) respond(w http.ResponseWriter, eventType string, status int) {
	h.metrics.Webhook(eventType, status)
	w.WriteHeader(status)
}
