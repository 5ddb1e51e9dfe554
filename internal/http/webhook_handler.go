package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/rs/zerolog"
)

const webhookSecretHeader = "X-Webhook-Secret"

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, conf domain.PaymentConfirmation) error
}

// WebhookHandler accepts synchronous payment confirmations from the
// processor. The Kafka consumer handles the same events asynchronously.
type WebhookHandler struct {
	confirmer PaymentConfirmer
	secret    []byte
	timeout   time.Duration
	log       zerolog.Logger
}

func NewWebhookHandler(confirmer PaymentConfirmer, secret string, timeout time.Duration, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		confirmer: confirmer,
		secret:    []byte(secret),
		timeout:   timeout,
		log:       log,
	}
}

func (h *WebhookHandler) PaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	got := []byte(r.Header.Get(webhookSecretHeader))
	if len(h.secret) == 0 || subtle.ConstantTimeCompare(got, h.secret) != 1 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var conf domain.PaymentConfirmation
	if err := json.NewDecoder(r.Body).Decode(&conf); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if conf.SessionRef == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_ref", "session_ref is required")
		return
	}

	if err := h.confirmer.ConfirmPayment(ctx, conf); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
